package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"voxelstore.ai/internal/persistence/worlddb"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

func openStore(t *testing.T, name string) *worlddb.Store {
	t.Helper()
	s, err := worlddb.Open(filepath.Join(t.TempDir(), name), worlddb.Options{Create: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleChunk(t *testing.T, x, z int) *chunk.Chunk {
	t.Helper()
	stone, dirt := uuid.New(), uuid.New()
	c := chunk.New(x, z)
	if err := c.Fill(0, stone); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	for i := 0; i < chunk.Width; i++ {
		if err := c.SetBlock(i, 1, i, dirt); err != nil {
			t.Fatalf("SetBlock: %v", err)
		}
		if err := c.SetBlock(i, 2, 7, []chunk.BlockID{stone, dirt, chunk.Air}[i%3]); err != nil {
			t.Fatalf("SetBlock: %v", err)
		}
	}
	c.SetMeta("biome", chunk.StringValue("forest"))
	c.SetMeta("ticks", chunk.IntValue(12345))
	if err := c.SetBlockMeta(5, 1, 5, "growth", chunk.FloatValue(0.75)); err != nil {
		t.Fatalf("SetBlockMeta: %v", err)
	}
	if err := c.SetBlockMeta(1, 90, 2, "marker", chunk.NoneValue()); err != nil {
		t.Fatalf("SetBlockMeta: %v", err)
	}
	return c
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, "src.db")

	want := []*chunk.Chunk{sampleChunk(t, 0, 0), sampleChunk(t, -1, 4)}
	for _, c := range want {
		if _, err := src.PutChunk(c).Wait(); err != nil {
			t.Fatalf("PutChunk: %v", err)
		}
	}
	if _, err := src.SetWorldInfo("spawn", []byte("0,64,0")).Wait(); err != nil {
		t.Fatalf("SetWorldInfo: %v", err)
	}

	path := filepath.Join(t.TempDir(), "snapshots", "w1.snap.zst")
	snap, err := Export(ctx, src, "w1", path)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if snap.Header.Chunks != 2 {
		t.Fatalf("header chunks=%d", snap.Header.Chunks)
	}
	h, err := ReadHeader(path)
	if err != nil || h.WorldID != "w1" || h.Chunks != 2 {
		t.Fatalf("ReadHeader=(%+v,%v)", h, err)
	}

	dst := openStore(t, "dst.db")
	_, n, err := Import(ctx, dst, path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported %d chunks", n)
	}
	for _, c := range want {
		got, err := dst.GetChunk(c.X(), c.Z()).Wait()
		if err != nil {
			t.Fatalf("GetChunk: %v", err)
		}
		if !got.Equal(c) {
			t.Fatalf("chunk %v differs after import", c.Key())
		}
	}
	v, err := dst.GetWorldInfo("spawn").Wait()
	if err != nil || !v.Found || string(v.Data) != "0,64,0" {
		t.Fatalf("world info=(%+v,%v)", v, err)
	}
}

func TestParsePalette_RequiresAirFirst(t *testing.T) {
	if _, err := ParsePalette([]string{uuid.NewString()}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ParsePalette([]string{chunk.Air.String(), "not-a-uuid"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestToChunk_RejectsBadPaletteIndex(t *testing.T) {
	pal := NewPalette()
	cv, err := FromChunk(sampleChunk(t, 0, 0), pal)
	if err != nil {
		t.Fatalf("FromChunk: %v", err)
	}
	short := []chunk.BlockID{chunk.Air}
	if _, err := cv.ToChunk(short); err == nil {
		t.Fatalf("expected out-of-range palette error")
	}
}
