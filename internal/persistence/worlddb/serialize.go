package worlddb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"voxelstore.ai/internal/persistence/idmap"
	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

// A slice grid is Width*Width file-global codes, Z-major, offset z*Width+x,
// each a little-endian uint16.
const (
	gridCells = chunk.Width * chunk.Width
	gridBytes = gridCells * 2
)

const metaFormat = 1

const (
	tagNone   = 0
	tagString = 1
	tagFloat  = 2
	tagInt    = 3
)

// encodeGrid fills w.gridBytes with slice s of c. Row maps come from the
// snapshot's arena; the snapshot is owned by the worker so no locking applies.
func (w *worker) encodeGrid(maps []chunk.RowTypeMap, s *chunk.Slice) ([]byte, error) {
	for z := 0; z < chunk.Width; z++ {
		dst := w.grid[z*chunk.Width : (z+1)*chunk.Width]
		r := s.Row(z)
		if r == nil {
			if err := w.ids.EncodeRow(nil, nil, dst); err != nil {
				return nil, err
			}
			continue
		}
		if int(r.TypeMap()) >= len(maps) {
			return nil, fmt.Errorf("slice row z=%d: %w", z, chunk.ErrBadRowMap)
		}
		if err := w.ids.EncodeRow(&maps[r.TypeMap()], r, dst); err != nil {
			return nil, err
		}
	}
	for i, code := range w.grid {
		binary.LittleEndian.PutUint16(w.gridBytes[i*2:], code)
	}
	return w.gridBytes, nil
}

// decodeGrid installs layer y of c from a raw grid.
func (w *worker) decodeGrid(c *chunk.Chunk, y int, raw []byte) error {
	if len(raw) != gridBytes {
		return fmt.Errorf("%w: slice y=%d has %d bytes, want %d", ErrCorrupt, y, len(raw), gridBytes)
	}
	for i := range w.grid {
		w.grid[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	for z := 0; z < chunk.Width; z++ {
		err := w.dec.DecodeRow(c, y, z, w.grid[z*chunk.Width:(z+1)*chunk.Width])
		if errors.Is(err, idmap.ErrUnknownCode) {
			return fmt.Errorf("%w: slice y=%d z=%d: %v", ErrCorrupt, y, z, err)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Metadata wire format. Values are a tag byte and a payload: uvarint length
// and bytes for strings, 8 little-endian bytes for floats, a zigzag varint
// for ints. Maps are written with sorted keys so equal maps give equal bytes.

func appendValue(dst []byte, v chunk.Value) []byte {
	switch v.Kind() {
	case chunk.KindString:
		s, _ := v.Str()
		dst = append(dst, tagString)
		return appendString(dst, s)
	case chunk.KindFloat:
		f, _ := v.Float()
		dst = append(dst, tagFloat)
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(f))
	case chunk.KindInt:
		i, _ := v.Int()
		dst = append(dst, tagInt)
		return binary.AppendVarint(dst, i)
	default:
		return append(dst, tagNone)
	}
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func appendProps(dst []byte, props map[string]chunk.Value) []byte {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dst = binary.AppendUvarint(dst, uint64(len(keys)))
	for _, k := range keys {
		dst = appendString(dst, k)
		dst = appendValue(dst, props[k])
	}
	return dst
}

// encodeChunkMeta returns nil for an empty map.
func encodeChunkMeta(meta map[string]chunk.Value) []byte {
	if len(meta) == 0 {
		return nil
	}
	return appendProps([]byte{metaFormat}, meta)
}

// encodeSliceMeta serializes point -> properties for one layer, points
// ascending. It returns nil when the layer carries nothing.
func encodeSliceMeta(points map[uint16]map[string]chunk.Value) []byte {
	if len(points) == 0 {
		return nil
	}
	order := make([]int, 0, len(points))
	for p := range points {
		order = append(order, int(p))
	}
	sort.Ints(order)
	out := binary.AppendUvarint([]byte{metaFormat}, uint64(len(order)))
	for _, p := range order {
		out = binary.AppendUvarint(out, uint64(p))
		out = appendProps(out, points[uint16(p)])
	}
	return out
}

type metaReader struct {
	buf []byte
	off int
}

func (r *metaReader) readByte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, errShortMeta
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *metaReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, errShortMeta
	}
	r.off += n
	return v, nil
}

func (r *metaReader) readString() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(len(r.buf)-r.off) {
		return "", errShortMeta
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *metaReader) value() (chunk.Value, error) {
	tag, err := r.readByte()
	if err != nil {
		return chunk.Value{}, err
	}
	switch tag {
	case tagNone:
		return chunk.NoneValue(), nil
	case tagString:
		s, err := r.readString()
		return chunk.StringValue(s), err
	case tagFloat:
		if len(r.buf)-r.off < 8 {
			return chunk.Value{}, errShortMeta
		}
		bits := binary.LittleEndian.Uint64(r.buf[r.off:])
		r.off += 8
		return chunk.FloatValue(math.Float64frombits(bits)), nil
	case tagInt:
		v, n := binary.Varint(r.buf[r.off:])
		if n <= 0 {
			return chunk.Value{}, errShortMeta
		}
		r.off += n
		return chunk.IntValue(v), nil
	default:
		return chunk.Value{}, fmt.Errorf("unknown value tag %d", tag)
	}
}

func (r *metaReader) props() (map[string]chunk.Value, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)) {
		return nil, errShortMeta
	}
	out := make(map[string]chunk.Value, n)
	for i := uint64(0); i < n; i++ {
		k, err := r.readString()
		if err != nil {
			return nil, err
		}
		v, err := r.value()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *metaReader) header() error {
	f, err := r.readByte()
	if err != nil {
		return err
	}
	if f != metaFormat {
		return fmt.Errorf("unknown metadata format %d", f)
	}
	return nil
}

func (r *metaReader) done() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("%d trailing bytes", len(r.buf)-r.off)
	}
	return nil
}

var errShortMeta = errors.New("truncated metadata")

func decodeChunkMeta(raw []byte) (map[string]chunk.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	r := &metaReader{buf: raw}
	if err := r.header(); err != nil {
		return nil, err
	}
	m, err := r.props()
	if err != nil {
		return nil, err
	}
	return m, r.done()
}

func decodeSliceMeta(raw []byte) (map[uint16]map[string]chunk.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	r := &metaReader{buf: raw}
	if err := r.header(); err != nil {
		return nil, err
	}
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > gridCells {
		return nil, fmt.Errorf("%d metadata points in one slice", n)
	}
	out := make(map[uint16]map[string]chunk.Value, n)
	for i := uint64(0); i < n; i++ {
		p, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if p >= gridCells {
			return nil, fmt.Errorf("metadata point %d out of range", p)
		}
		props, err := r.props()
		if err != nil {
			return nil, err
		}
		out[uint16(p)] = props
	}
	return out, r.done()
}
