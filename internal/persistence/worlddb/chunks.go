package worlddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

func (w *worker) chunkExists(ctx context.Context, x, z int) (bool, error) {
	var one int
	err := w.stmts.chunkExists.QueryRowContext(ctx, x, z).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (w *worker) extents(ctx context.Context) (Extents, error) {
	var (
		n                      int64
		minX, maxX, minZ, maxZ sql.NullInt64
	)
	err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(worldX), MAX(worldX), MIN(worldZ), MAX(worldZ) FROM chunk`,
	).Scan(&n, &minX, &maxX, &minZ, &maxZ)
	if err != nil {
		return Extents{}, err
	}
	if n == 0 {
		return Extents{Empty: true}, nil
	}
	return Extents{
		MinX: int(minX.Int64), MaxX: int(maxX.Int64),
		MinZ: int(minZ.Int64), MaxZ: int(maxZ.Int64),
	}, nil
}

func (w *worker) listChunks(ctx context.Context) ([]chunk.Key, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT worldX, worldZ FROM chunk ORDER BY worldX, worldZ`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []chunk.Key
	for rows.Next() {
		var k chunk.Key
		if err := rows.Scan(&k.X, &k.Z); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

type storedSlice struct {
	y         int
	blocks    []byte
	blockMeta []byte
}

func (w *worker) getChunk(ctx context.Context, x, z int) (*chunk.Chunk, error) {
	var (
		id       int64
		metaBlob []byte
	)
	err := w.stmts.chunkSelect.QueryRowContext(ctx, x, z).Scan(&id, &metaBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chunk (%d,%d)", ErrNotFound, x, z)
	}
	if err != nil {
		return nil, err
	}

	c := chunk.New(x, z)
	raw, err := w.codec.Decompress(metaBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk (%d,%d) metadata: %v", ErrCorrupt, x, z, err)
	}
	meta, err := decodeChunkMeta(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk (%d,%d) metadata: %v", ErrCorrupt, x, z, err)
	}
	for k, v := range meta {
		c.SetMeta(k, v)
	}

	slices, err := w.loadSlices(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, s := range slices {
		if s.y < 0 || s.y >= chunk.Height {
			return nil, fmt.Errorf("%w: chunk (%d,%d) slice y=%d", ErrCorrupt, x, z, s.y)
		}
		grid, err := w.codec.Decompress(s.blocks)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk (%d,%d) slice y=%d: %v", ErrCorrupt, x, z, s.y, err)
		}
		if len(grid) > 0 {
			if err := w.decodeGrid(c, s.y, grid); err != nil {
				return nil, err
			}
		}
		rawMeta, err := w.codec.Decompress(s.blockMeta)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk (%d,%d) slice y=%d metadata: %v", ErrCorrupt, x, z, s.y, err)
		}
		points, err := decodeSliceMeta(rawMeta)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk (%d,%d) slice y=%d metadata: %v", ErrCorrupt, x, z, s.y, err)
		}
		for p, props := range points {
			bx, bz := chunk.UnpackSlicePoint(p)
			for name, v := range props {
				if err := c.SetBlockMeta(bx, s.y, bz, name, v); err != nil {
					return nil, err
				}
			}
		}
	}
	return c, nil
}

// loadSlices reads every slice row before decoding so the single connection
// is released between statements.
func (w *worker) loadSlices(ctx context.Context, chunkID int64) ([]storedSlice, error) {
	rows, err := w.stmts.sliceSelect.QueryContext(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storedSlice
	for rows.Next() {
		var s storedSlice
		if err := rows.Scan(&s.y, &s.blocks, &s.blockMeta); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// putChunk replaces the stored form of c in one transaction: the chunk row,
// every slice that has blocks or block metadata, removal of slices that no
// longer have either, and any file-global codes issued while encoding.
func (w *worker) putChunk(ctx context.Context, c *chunk.Chunk) error {
	if err := w.putChunkTx(ctx, c); err != nil {
		return fmt.Errorf("%w: put chunk (%d,%d): %v", ErrTransaction, c.X(), c.Z(), err)
	}
	return nil
}

func (w *worker) putChunkTx(ctx context.Context, c *chunk.Chunk) error {
	now := time.Now().UnixMilli()
	maps := c.RowMaps()

	metaBlob, err := w.codec.Compress(encodeChunkMeta(c.MetaEntries()))
	if err != nil {
		return err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.StmtContext(ctx, w.stmts.chunkUpsert).QueryRowContext(ctx, c.X(), c.Z(), metaBlob, now).Scan(&id); err != nil {
		return err
	}

	var existed [chunk.Height]bool
	rows, err := tx.StmtContext(ctx, w.stmts.sliceYs).QueryContext(ctx, id)
	if err != nil {
		return err
	}
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			rows.Close()
			return err
		}
		if y >= 0 && y < chunk.Height {
			existed[y] = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	var hasMeta [chunk.Height]bool
	for _, y := range c.BlockMetaLayers() {
		hasMeta[y] = true
	}

	upsert := tx.StmtContext(ctx, w.stmts.sliceUpsert)
	del := tx.StmtContext(ctx, w.stmts.sliceDelete)
	for y := 0; y < chunk.Height; y++ {
		s := c.Slice(y)
		if s == nil && !hasMeta[y] {
			if existed[y] {
				if _, err := del.ExecContext(ctx, id, y); err != nil {
					return err
				}
			}
			continue
		}
		var blocks []byte
		if s != nil {
			grid, err := w.encodeGrid(maps, s)
			if err != nil {
				return fmt.Errorf("slice y=%d: %w", y, err)
			}
			if blocks, err = w.codec.Compress(grid); err != nil {
				return err
			}
		}
		var blockMeta []byte
		if hasMeta[y] {
			if blockMeta, err = w.codec.Compress(encodeSliceMeta(c.BlockMetaInSlice(y))); err != nil {
				return err
			}
		}
		if _, err := upsert.ExecContext(ctx, id, y, blocks, blockMeta, now); err != nil {
			return err
		}
	}

	pending := w.ids.Pending()
	ins := tx.StmtContext(ctx, w.stmts.typeInsert)
	for _, e := range pending {
		if _, err := ins.ExecContext(ctx, int64(e.Code), e.ID[:], now); err != nil {
			return fmt.Errorf("type_map %d: %w", e.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	w.ids.MarkFlushed(len(pending))
	return nil
}

func (w *worker) deleteChunk(ctx context.Context, x, z int) (bool, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_slice WHERE chunkId IN (SELECT id FROM chunk WHERE worldX=? AND worldZ=?)`, x, z); err != nil {
		return false, fmt.Errorf("%w: delete chunk (%d,%d): %v", ErrTransaction, x, z, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chunk WHERE worldX=? AND worldZ=?`, x, z)
	if err != nil {
		return false, fmt.Errorf("%w: delete chunk (%d,%d): %v", ErrTransaction, x, z, err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: delete chunk (%d,%d): %v", ErrTransaction, x, z, err)
	}
	return n > 0, nil
}
