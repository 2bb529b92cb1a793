package idmap

import (
	"fmt"

	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

// EncodeRow writes the file-global code of every cell of r into dst, which
// must hold chunk.Width entries. A nil row encodes as air.
func (g *GlobalMap) EncodeRow(m *chunk.RowTypeMap, r *chunk.Row, dst []uint16) error {
	if r == nil {
		for i := range dst[:chunk.Width] {
			dst[i] = CodeAir
		}
		return nil
	}
	var (
		known [chunk.Width]bool
		codes [chunk.Width]uint16
	)
	local := r.Codes()
	for x, lc := range local {
		if !known[lc] {
			gc, err := g.Internalize(m.Lookup(lc))
			if err != nil {
				return err
			}
			codes[lc] = gc
			known[lc] = true
		}
		dst[x] = codes[lc]
	}
	return nil
}

// RowDecoder rebuilds chunk rows from file-global codes. It keeps a 64K
// scratch table between calls; use one per goroutine.
type RowDecoder struct {
	g *GlobalMap

	gen   uint32
	stamp [1 << 16]uint32
	ids   [1 << 16]chunk.BlockID
}

func NewRowDecoder(g *GlobalMap) *RowDecoder {
	return &RowDecoder{g: g}
}

// DecodeRow resolves one row of codes and installs it at (y, z) of c. The
// chunk picks a covering row map and the sparse or dense form; an all-air row
// clears the position.
func (d *RowDecoder) DecodeRow(c *chunk.Chunk, y, z int, codes []uint16) error {
	if len(codes) != chunk.Width {
		return fmt.Errorf("idmap: row has %d cells, want %d", len(codes), chunk.Width)
	}
	d.gen++
	if d.gen == 0 {
		d.stamp = [1 << 16]uint32{}
		d.gen = 1
	}
	var cells [chunk.Width]chunk.BlockID
	for x, gc := range codes {
		if d.stamp[gc] != d.gen {
			id, ok := d.g.Resolve(gc)
			if !ok {
				return fmt.Errorf("%w: %#04x", ErrUnknownCode, gc)
			}
			d.stamp[gc] = d.gen
			d.ids[gc] = id
		}
		cells[x] = d.ids[gc]
	}
	return c.SetRowIDs(y, z, &cells)
}
