package idmap

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

func block(i int) chunk.BlockID {
	var id chunk.BlockID
	id[0] = 0xC0
	id[15] = byte(i)
	id[14] = byte(i >> 8)
	return id
}

func TestGlobalMap_InternalizeIsMonotonic(t *testing.T) {
	g := NewGlobalMap()
	a, _ := g.Internalize(block(1))
	b, _ := g.Internalize(block(2))
	a2, _ := g.Internalize(block(1))
	if a != 1 || b != 2 || a2 != a {
		t.Fatalf("codes a=%d b=%d a2=%d", a, b, a2)
	}
	if code, _ := g.Internalize(chunk.Air); code != CodeAir {
		t.Fatalf("air code=%#04x", code)
	}
	if p := g.Pending(); len(p) != 2 || p[0].Code != 1 || p[1].ID != block(2) {
		t.Fatalf("pending=%v", p)
	}
	g.MarkFlushed(1)
	if p := g.Pending(); len(p) != 1 || p[0].Code != 2 {
		t.Fatalf("pending after flush=%v", p)
	}
}

func TestGlobalMap_LoadContinuesAfterHighestCode(t *testing.T) {
	g := NewGlobalMap()
	if err := g.Load(7, block(7)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := g.Load(3, block(3)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	code, err := g.Internalize(block(99))
	if err != nil || code != 8 {
		t.Fatalf("Internalize=(%d,%v) want 8", code, err)
	}
	if _, ok := g.Resolve(5); ok {
		t.Fatalf("hole at 5 should not resolve")
	}
	if id, ok := g.Resolve(3); !ok || id != block(3) {
		t.Fatalf("Resolve(3)=%v,%v", id, ok)
	}
	if err := g.Load(CodeAir, block(1)); err == nil {
		t.Fatalf("reserved code accepted")
	}
	if err := g.Load(9, block(7)); err == nil {
		t.Fatalf("duplicate identifier accepted")
	}
}

func TestDecodeRow_PicksRepresentation(t *testing.T) {
	g := NewGlobalMap()
	stone, _ := g.Internalize(block(1))
	dirt, _ := g.Internalize(block(2))

	codes := make([]uint16, chunk.Width)
	for x := range codes {
		codes[x] = stone
	}
	for x := 0; x < chunk.SparseMaxEntries; x++ {
		codes[x*4] = dirt
	}

	c := chunk.New(0, 0)
	d := NewRowDecoder(g)
	if err := d.DecodeRow(c, 0, 0, codes); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if k := c.Slice(0).Row(0).Kind(); k != chunk.RowSparse {
		t.Fatalf("%d/%d cells of stone decoded %v", chunk.SparseThreshold, chunk.Width, k)
	}

	codes[1] = CodeAir
	if err := d.DecodeRow(c, 0, 1, codes); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if k := c.Slice(0).Row(1).Kind(); k != chunk.RowDense {
		t.Fatalf("%d cells of stone decoded %v", chunk.SparseThreshold-1, k)
	}
	for x := range codes {
		want, _ := g.Resolve(codes[x])
		if got := c.Block(x, 0, 1); got != want {
			t.Fatalf("x=%d got %v want %v", x, got, want)
		}
	}
}

func TestDecodeRow_ReusesSupersetMap(t *testing.T) {
	g := NewGlobalMap()
	a, _ := g.Internalize(block(1))
	b, _ := g.Internalize(block(2))
	c := chunk.New(0, 0)
	d := NewRowDecoder(g)

	mixed := make([]uint16, chunk.Width)
	for x := range mixed {
		if x%2 == 0 {
			mixed[x] = a
		} else {
			mixed[x] = b
		}
	}
	if err := d.DecodeRow(c, 0, 0, mixed); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	only := make([]uint16, chunk.Width)
	for x := range only {
		only[x] = b
	}
	if err := d.DecodeRow(c, 0, 1, only); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	s := c.Slice(0)
	if s.Row(0).TypeMap() != s.Row(1).TypeMap() || c.RowMapCount() != 1 {
		t.Fatalf("expected shared map, got %d and %d (%d maps)", s.Row(0).TypeMap(), s.Row(1).TypeMap(), c.RowMapCount())
	}
}

func TestDecodeRow_AllAirClears(t *testing.T) {
	g := NewGlobalMap()
	codes := make([]uint16, chunk.Width)
	for x := range codes {
		if x%2 == 0 {
			codes[x] = CodeAir
		}
	}
	c := chunk.New(0, 0)
	if err := NewRowDecoder(g).DecodeRow(c, 4, 0, codes); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if c.HasSlice(4) {
		t.Fatalf("all-air row created a slice")
	}
}

func TestDecodeRow_UnknownCodeIsError(t *testing.T) {
	g := NewGlobalMap()
	codes := make([]uint16, chunk.Width)
	codes[3] = 42
	if err := NewRowDecoder(g).DecodeRow(chunk.New(0, 0), 0, 0, codes); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("err=%v want ErrUnknownCode", err)
	}
}

func TestEncodeRow_RoundTrip(t *testing.T) {
	src := chunk.New(0, 0)
	ids := []chunk.BlockID{uuid.New(), uuid.New(), uuid.New()}
	for x := 0; x < chunk.Width; x++ {
		if err := src.SetBlock(x, 0, 0, ids[x%3]); err != nil {
			t.Fatalf("SetBlock: %v", err)
		}
	}
	row := src.Slice(0).Row(0)
	m, _ := src.RowMap(row.TypeMap())

	g := NewGlobalMap()
	codes := make([]uint16, chunk.Width)
	if err := g.EncodeRow(&m, row, codes); err != nil {
		t.Fatalf("EncodeRow: %v", err)
	}
	if g.Len() != 3 {
		t.Fatalf("Len=%d want 3", g.Len())
	}

	dst := chunk.New(0, 0)
	if err := NewRowDecoder(g).DecodeRow(dst, 0, 0, codes); err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}
	if !src.Equal(dst) {
		t.Fatalf("row did not survive encode/decode")
	}

	nilCodes := make([]uint16, chunk.Width)
	_ = g.EncodeRow(&m, nil, nilCodes)
	if nilCodes[0] != CodeAir || nilCodes[255] != CodeAir {
		t.Fatalf("nil row should encode as air")
	}
}
