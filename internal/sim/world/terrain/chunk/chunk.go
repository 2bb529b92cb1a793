// Package chunk is the in-memory voxel column: Height slices of Width rows of
// Width cells, each row sparse- or dense-encoded against a shared arena of
// row-type maps.
package chunk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const (
	Width  = 256 // cells per row and rows per slice
	Height = 256 // slices per chunk

	SparseMaxEntries = 64
	SparseThreshold  = Width - SparseMaxEntries

	MaxRowMaps = 256
)

// BlockID is the engine-wide stable block identifier.
type BlockID = uuid.UUID

// Air is the absence of a block.
var Air BlockID = uuid.Nil

var (
	ErrOutOfRange      = errors.New("chunk: coordinate out of range")
	ErrTooManyRowMaps  = errors.New("chunk: row map arena exhausted")
	ErrTooManyMetaKeys = errors.New("chunk: too many block metadata keys")
	ErrBadRowMap       = errors.New("chunk: row references unknown row map")
)

type Key struct {
	X int
	Z int
}

func (k Key) String() string { return fmt.Sprintf("(%d,%d)", k.X, k.Z) }

// Slice is one Y layer. A nil row is entirely Air.
type Slice struct {
	rows [Width]*Row
}

func (s *Slice) Row(z int) *Row { return s.rows[z] }

func (s *Slice) Empty() bool {
	for _, r := range s.rows {
		if r != nil {
			return false
		}
	}
	return true
}

type Chunk struct {
	mu sync.RWMutex

	key     Key
	slices  [Height]*Slice
	rowMaps []RowTypeMap

	meta map[string]Value

	// Packed position -> property id -> value. Property ids index metaNames.
	blockMeta   map[uint32]map[uint16]Value
	metaNames   []string
	metaNameIDs map[string]uint16
}

func New(x, z int) *Chunk {
	return &Chunk{
		key:         Key{X: x, Z: z},
		meta:        map[string]Value{},
		blockMeta:   map[uint32]map[uint16]Value{},
		metaNameIDs: map[string]uint16{},
	}
}

func (c *Chunk) Key() Key { return c.key }
func (c *Chunk) X() int   { return c.key.X }
func (c *Chunk) Z() int   { return c.key.Z }

func inRange(x, y, z int) bool {
	return x >= 0 && x < Width && y >= 0 && y < Height && z >= 0 && z < Width
}

func (c *Chunk) Block(x, y, z int) BlockID {
	if !inRange(x, y, z) {
		return Air
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockLocked(x, y, z)
}

func (c *Chunk) blockLocked(x, y, z int) BlockID {
	s := c.slices[y]
	if s == nil {
		return Air
	}
	r := s.rows[z]
	if r == nil {
		return Air
	}
	return c.rowMaps[r.typeMap][r.Get(x)]
}

func (c *Chunk) SetBlock(x, y, z int, id BlockID) error {
	if !inRange(x, y, z) {
		return fmt.Errorf("%w: (%d,%d,%d)", ErrOutOfRange, x, y, z)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slices[y]
	if s == nil {
		if id == Air {
			return nil
		}
		s = &Slice{}
		c.slices[y] = s
	}
	r := s.rows[z]
	if r != nil {
		if code, ok := c.rowMaps[r.typeMap].Code(id); ok {
			r.Set(x, code)
			if id == Air && c.rowAllAirLocked(r) {
				s.rows[z] = nil
				c.dropEmptyLocked(y)
			}
			return nil
		}
	}
	cells := c.rowIDsLocked(r)
	cells[x] = id
	nr, err := c.buildRowLocked(&cells)
	if err != nil {
		c.dropEmptyLocked(y)
		return err
	}
	s.rows[z] = nr
	c.dropEmptyLocked(y)
	return nil
}

// Fill sets every cell of slice y to id.
func (c *Chunk) Fill(y int, id BlockID) error {
	if y < 0 || y >= Height {
		return fmt.Errorf("%w: y=%d", ErrOutOfRange, y)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == Air {
		c.slices[y] = nil
		return nil
	}
	idx, err := c.rowMapForLocked([]BlockID{id})
	if err != nil {
		return err
	}
	code, _ := c.rowMaps[idx].Code(id)
	s := &Slice{}
	for z := range s.rows {
		s.rows[z] = NewSparseRow(idx, code)
	}
	c.slices[y] = s
	return nil
}

func (c *Chunk) rowIDsLocked(r *Row) [Width]BlockID {
	var out [Width]BlockID
	if r == nil {
		return out
	}
	m := &c.rowMaps[r.typeMap]
	codes := r.Codes()
	for x, code := range codes {
		out[x] = m[code]
	}
	return out
}

func (c *Chunk) rowAllAirLocked(r *Row) bool {
	m := &c.rowMaps[r.typeMap]
	for _, code := range r.distinctCodes() {
		if m[code] != Air {
			return false
		}
	}
	return true
}

// buildRowLocked encodes cells against a covering row map, finding or
// creating one. An all-air row encodes as nil.
func (c *Chunk) buildRowLocked(cells *[Width]BlockID) (*Row, error) {
	set := make([]BlockID, 0, 4)
	var ix [Width]uint8
	last := -1
	for x, id := range cells {
		if last < 0 || set[last] != id {
			last = -1
			for i, v := range set {
				if v == id {
					last = i
					break
				}
			}
			if last < 0 {
				last = len(set)
				set = append(set, id)
			}
		}
		ix[x] = uint8(last)
	}
	if len(set) == 1 && set[0] == Air {
		return nil, nil
	}
	idx, err := c.rowMapForLocked(set)
	if err != nil {
		return nil, err
	}
	m := &c.rowMaps[idx]
	local := make([]uint8, len(set))
	for i, id := range set {
		code, ok := m.Code(id)
		if !ok {
			return nil, fmt.Errorf("chunk: row map %d does not cover %s", idx, id)
		}
		local[i] = code
	}
	var codes [Width]uint8
	for x := range codes {
		codes[x] = local[ix[x]]
	}
	return NewRowFromCodes(idx, &codes), nil
}

// SetRowIDs replaces row (y, z) with cells, choosing the row map and the
// sparse or dense form itself.
func (c *Chunk) SetRowIDs(y, z int, cells *[Width]BlockID) error {
	if !inRange(0, y, z) {
		return fmt.Errorf("%w: row y=%d z=%d", ErrOutOfRange, y, z)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.buildRowLocked(cells)
	if err != nil {
		return err
	}
	s := c.slices[y]
	if s == nil {
		if r == nil {
			return nil
		}
		s = &Slice{}
		c.slices[y] = s
	}
	s.rows[z] = r
	c.dropEmptyLocked(y)
	return nil
}

func (c *Chunk) dropEmptyLocked(y int) {
	if s := c.slices[y]; s != nil && s.Empty() {
		c.slices[y] = nil
	}
}

// Slice returns layer y or nil. The returned value is only stable on a chunk
// that is not being mutated concurrently (for example a Clone).
func (c *Chunk) Slice(y int) *Slice {
	if y < 0 || y >= Height {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.slices[y]
}

func (c *Chunk) HasSlice(y int) bool { return c.Slice(y) != nil }

func (c *Chunk) SliceCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.slices {
		if s != nil {
			n++
		}
	}
	return n
}

// RowMap returns a copy of arena entry i.
func (c *Chunk) RowMap(i uint8) (RowTypeMap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if int(i) >= len(c.rowMaps) {
		return RowTypeMap{}, false
	}
	return c.rowMaps[i], true
}

// RowMaps returns a copy of the whole arena.
func (c *Chunk) RowMaps() []RowTypeMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]RowTypeMap(nil), c.rowMaps...)
}

func (c *Chunk) RowMapCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rowMaps)
}

// RowMapFor returns the index of a row map covering set, reusing an existing
// map when one covers it and appending a new one otherwise.
func (c *Chunk) RowMapFor(set []BlockID) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowMapForLocked(set)
}

func (c *Chunk) rowMapForLocked(set []BlockID) (uint8, error) {
	for i := range c.rowMaps {
		if c.rowMaps[i].Covers(set) {
			return uint8(i), nil
		}
	}
	m, ok := buildRowTypeMap(set)
	if !ok {
		return 0, fmt.Errorf("chunk: %d identifiers do not fit one row map", len(set))
	}
	if len(c.rowMaps) == MaxRowMaps {
		c.compactRowMapsLocked()
		if len(c.rowMaps) == MaxRowMaps {
			return c.repackLocked(set)
		}
	}
	c.rowMaps = append(c.rowMaps, m)
	return uint8(len(c.rowMaps) - 1), nil
}

// compactRowMapsLocked drops maps no row references and renumbers rows.
func (c *Chunk) compactRowMapsLocked() {
	var used [MaxRowMaps]bool
	c.eachRowLocked(func(r *Row) { used[r.typeMap] = true })

	var renum [MaxRowMaps]uint8
	kept := make([]RowTypeMap, 0, len(c.rowMaps))
	for i := range c.rowMaps {
		if used[i] {
			renum[i] = uint8(len(kept))
			kept = append(kept, c.rowMaps[i])
		}
	}
	c.rowMaps = kept
	c.eachRowLocked(func(r *Row) { r.typeMap = renum[r.typeMap] })
}

func (c *Chunk) eachRowLocked(fn func(r *Row)) {
	for _, s := range c.slices {
		if s == nil {
			continue
		}
		for _, r := range s.rows {
			if r != nil {
				fn(r)
			}
		}
	}
}

// SetRow installs r at (y, z). A nil row clears it. The row's map index must
// already exist in the arena.
func (c *Chunk) SetRow(y, z int, r *Row) error {
	if !inRange(0, y, z) {
		return fmt.Errorf("%w: row y=%d z=%d", ErrOutOfRange, y, z)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r != nil && int(r.typeMap) >= len(c.rowMaps) {
		return fmt.Errorf("%w: index %d of %d", ErrBadRowMap, r.typeMap, len(c.rowMaps))
	}
	s := c.slices[y]
	if s == nil {
		if r == nil {
			return nil
		}
		s = &Slice{}
		c.slices[y] = s
	}
	s.rows[z] = r
	c.dropEmptyLocked(y)
	return nil
}

// Clone returns a deep copy that shares nothing with c.
func (c *Chunk) Clone() *Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := New(c.key.X, c.key.Z)
	out.rowMaps = append([]RowTypeMap(nil), c.rowMaps...)
	for y, s := range c.slices {
		if s == nil {
			continue
		}
		ns := &Slice{}
		for z, r := range s.rows {
			if r != nil {
				ns.rows[z] = r.clone()
			}
		}
		out.slices[y] = ns
	}
	for k, v := range c.meta {
		out.meta[k] = v
	}
	out.metaNames = append([]string(nil), c.metaNames...)
	for k, v := range c.metaNameIDs {
		out.metaNameIDs[k] = v
	}
	for p, props := range c.blockMeta {
		cp := make(map[uint16]Value, len(props))
		for k, v := range props {
			cp[k] = v
		}
		out.blockMeta[p] = cp
	}
	return out
}

// Equal reports whether both chunks hold the same key, the same block at
// every cell and the same chunk and block metadata. Encodings may differ.
// Each chunk is snapshotted under its own lock, so two Equal calls with
// swapped arguments cannot deadlock.
func (c *Chunk) Equal(o *Chunk) bool {
	if c == o {
		return true
	}
	if o == nil {
		return false
	}
	return c.Clone().equalUnlocked(o.Clone())
}

// equalUnlocked compares two chunks no other goroutine can reach.
func (c *Chunk) equalUnlocked(o *Chunk) bool {
	if c.key != o.key {
		return false
	}
	for y := 0; y < Height; y++ {
		sa, sb := c.slices[y], o.slices[y]
		if sa == nil && sb == nil {
			continue
		}
		for z := 0; z < Width; z++ {
			var ra, rb *Row
			if sa != nil {
				ra = sa.rows[z]
			}
			if sb != nil {
				rb = sb.rows[z]
			}
			if c.rowIDsLocked(ra) != o.rowIDsLocked(rb) {
				return false
			}
		}
	}
	if len(c.meta) != len(o.meta) {
		return false
	}
	for k, v := range c.meta {
		if ov, ok := o.meta[k]; !ok || !v.Equal(ov) {
			return false
		}
	}
	return blockMetaEqual(c.namedBlockMetaLocked(), o.namedBlockMetaLocked())
}
