package snapshot

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"voxelstore.ai/internal/sim/encoding"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

// Palette assigns snapshot-local indices to block identifiers while encoding.
type Palette struct {
	ids   []chunk.BlockID
	index map[chunk.BlockID]uint16
}

func NewPalette() *Palette {
	return &Palette{
		ids:   []chunk.BlockID{chunk.Air},
		index: map[chunk.BlockID]uint16{chunk.Air: 0},
	}
}

func (p *Palette) indexOf(id chunk.BlockID) (uint16, error) {
	if ix, ok := p.index[id]; ok {
		return ix, nil
	}
	if len(p.ids) > 0xFFFF {
		return 0, fmt.Errorf("snapshot: palette full")
	}
	ix := uint16(len(p.ids))
	p.ids = append(p.ids, id)
	p.index[id] = ix
	return ix, nil
}

// Strings returns the palette in index order.
func (p *Palette) Strings() []string {
	out := make([]string, len(p.ids))
	for i, id := range p.ids {
		out[i] = id.String()
	}
	return out
}

// ParsePalette is the inverse of Palette.Strings.
func ParsePalette(in []string) ([]chunk.BlockID, error) {
	if len(in) == 0 || in[0] != chunk.Air.String() {
		return nil, fmt.Errorf("snapshot: palette must start with air")
	}
	out := make([]chunk.BlockID, len(in))
	for i, s := range in {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("snapshot: palette[%d]: %w", i, err)
		}
		out[i] = id
	}
	return out, nil
}

func encodeMeta(m map[string]chunk.Value) []MetaV1 {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]MetaV1, 0, len(keys))
	for _, k := range keys {
		v := m[k]
		e := MetaV1{Key: k, Kind: uint8(v.Kind())}
		switch v.Kind() {
		case chunk.KindString:
			e.S, _ = v.Str()
		case chunk.KindFloat:
			e.F, _ = v.Float()
		case chunk.KindInt:
			e.I, _ = v.Int()
		}
		out = append(out, e)
	}
	return out
}

func (e MetaV1) value() (chunk.Value, error) {
	switch chunk.ValueKind(e.Kind) {
	case chunk.KindNone:
		return chunk.NoneValue(), nil
	case chunk.KindString:
		return chunk.StringValue(e.S), nil
	case chunk.KindFloat:
		return chunk.FloatValue(e.F), nil
	case chunk.KindInt:
		return chunk.IntValue(e.I), nil
	default:
		return chunk.Value{}, fmt.Errorf("snapshot: meta %q has kind %d", e.Key, e.Kind)
	}
}

// FromChunk encodes c, growing pal with any new identifiers.
func FromChunk(c *chunk.Chunk, pal *Palette) (ChunkV1, error) {
	out := ChunkV1{CX: c.X(), CZ: c.Z(), Meta: encodeMeta(c.MetaEntries())}

	var metaLayer [chunk.Height]bool
	for _, y := range c.BlockMetaLayers() {
		metaLayer[y] = true
	}
	cells := make([]uint16, chunk.Width*chunk.Width)
	for y := 0; y < chunk.Height; y++ {
		has := c.HasSlice(y)
		if !has && !metaLayer[y] {
			continue
		}
		s := SliceV1{Y: y}
		if has {
			for z := 0; z < chunk.Width; z++ {
				for x := 0; x < chunk.Width; x++ {
					ix, err := pal.indexOf(c.Block(x, y, z))
					if err != nil {
						return out, err
					}
					cells[z*chunk.Width+x] = ix
				}
			}
			s.Blocks = encoding.EncodeRLE(cells)
		}
		if metaLayer[y] {
			points := c.BlockMetaInSlice(y)
			order := make([]int, 0, len(points))
			for p := range points {
				order = append(order, int(p))
			}
			sort.Ints(order)
			for _, p := range order {
				x, z := chunk.UnpackSlicePoint(uint16(p))
				s.BlockMeta = append(s.BlockMeta, BlockMetaV1{X: x, Z: z, Props: encodeMeta(points[uint16(p)])})
			}
		}
		out.Slices = append(out.Slices, s)
	}
	return out, nil
}

// ToChunk rebuilds a chunk, encoding each row directly rather than cell by
// cell.
func (cv ChunkV1) ToChunk(palette []chunk.BlockID) (*chunk.Chunk, error) {
	c := chunk.New(cv.CX, cv.CZ)
	for _, e := range cv.Meta {
		v, err := e.value()
		if err != nil {
			return nil, err
		}
		c.SetMeta(e.Key, v)
	}
	for _, s := range cv.Slices {
		if s.Y < 0 || s.Y >= chunk.Height {
			return nil, fmt.Errorf("snapshot: chunk (%d,%d) slice y=%d", cv.CX, cv.CZ, s.Y)
		}
		if s.Blocks != "" {
			if err := fillSlice(c, s.Y, s.Blocks, palette); err != nil {
				return nil, fmt.Errorf("snapshot: chunk (%d,%d) y=%d: %w", cv.CX, cv.CZ, s.Y, err)
			}
		}
		for _, bm := range s.BlockMeta {
			for _, e := range bm.Props {
				v, err := e.value()
				if err != nil {
					return nil, err
				}
				if err := c.SetBlockMeta(bm.X, s.Y, bm.Z, e.Key, v); err != nil {
					return nil, err
				}
			}
		}
	}
	return c, nil
}

func fillSlice(c *chunk.Chunk, y int, rle string, palette []chunk.BlockID) error {
	cells := make([]uint16, chunk.Width*chunk.Width)
	if err := encoding.DecodeRLEInto(rle, cells); err != nil {
		return err
	}
	for z := 0; z < chunk.Width; z++ {
		var ids [chunk.Width]chunk.BlockID
		for x, ix := range cells[z*chunk.Width : (z+1)*chunk.Width] {
			if int(ix) >= len(palette) {
				return fmt.Errorf("palette index %d out of range", ix)
			}
			ids[x] = palette[ix]
		}
		if err := c.SetRowIDs(y, z, &ids); err != nil {
			return err
		}
	}
	return nil
}
