package snapshot

import (
	"context"
	"fmt"
	"time"

	"voxelstore.ai/internal/async"
	"voxelstore.ai/internal/persistence/worlddb"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

// Store is the part of *worlddb.Store used by Export and Import.
type Store interface {
	ListChunks() *async.Future[[]chunk.Key]
	GetChunk(x, z int) *async.Future[*chunk.Chunk]
	PutChunk(c *chunk.Chunk) *async.Future[bool]
	WorldInfoKeys() *async.Future[[]string]
	GetWorldInfo(key string) *async.Future[worlddb.Value]
	SetWorldInfo(key string, value []byte) *async.Future[bool]
}

// Build reads every chunk and world info entry from st.
func Build(ctx context.Context, st Store, worldID string) (SnapshotV1, error) {
	snap := SnapshotV1{
		Header: Header{
			Version:   Version,
			WorldID:   worldID,
			CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		},
		WorldInfo: map[string][]byte{},
	}
	keys, err := st.ListChunks().WaitContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("list chunks: %w", err)
	}
	pal := NewPalette()
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		c, err := st.GetChunk(k.X, k.Z).WaitContext(ctx)
		if err != nil {
			return snap, fmt.Errorf("chunk %s: %w", k, err)
		}
		cv, err := FromChunk(c, pal)
		if err != nil {
			return snap, fmt.Errorf("chunk %s: %w", k, err)
		}
		snap.Chunks = append(snap.Chunks, cv)
	}
	snap.Palette = pal.Strings()
	snap.Header.Chunks = len(snap.Chunks)

	names, err := st.WorldInfoKeys().WaitContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("world info keys: %w", err)
	}
	for _, name := range names {
		v, err := st.GetWorldInfo(name).WaitContext(ctx)
		if err != nil {
			return snap, fmt.Errorf("world info %q: %w", name, err)
		}
		if v.Found {
			snap.WorldInfo[name] = v.Data
		}
	}
	return snap, nil
}

// Export builds a snapshot of st and writes it to path.
func Export(ctx context.Context, st Store, worldID, path string) (SnapshotV1, error) {
	snap, err := Build(ctx, st, worldID)
	if err != nil {
		return snap, err
	}
	return snap, WriteSnapshot(path, snap)
}

// Restore writes every chunk and world info entry of snap into st. Chunks
// already in st at the same coordinates are replaced.
func Restore(ctx context.Context, st Store, snap SnapshotV1) (int, error) {
	palette, err := ParsePalette(snap.Palette)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, cv := range snap.Chunks {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		c, err := cv.ToChunk(palette)
		if err != nil {
			return n, err
		}
		if _, err := st.PutChunk(c).WaitContext(ctx); err != nil {
			return n, fmt.Errorf("put chunk (%d,%d): %w", cv.CX, cv.CZ, err)
		}
		n++
	}
	for name, v := range snap.WorldInfo {
		if _, err := st.SetWorldInfo(name, v).WaitContext(ctx); err != nil {
			return n, fmt.Errorf("world info %q: %w", name, err)
		}
	}
	return n, nil
}

// Import reads the snapshot at path and restores it into st.
func Import(ctx context.Context, st Store, path string) (SnapshotV1, int, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return snap, 0, err
	}
	n, err := Restore(ctx, st, snap)
	return snap, n, err
}
