package chunk

import (
	"fmt"
	"sort"
)

// PackPos packs a cell position so that sorting by the packed value walks
// slices, then rows, then cells.
func PackPos(x, y, z int) uint32 {
	return uint32(y)<<16 | uint32(z)<<8 | uint32(x)
}

func UnpackPos(p uint32) (x, y, z int) {
	return int(p & 0xFF), int(p >> 16 & 0xFF), int(p >> 8 & 0xFF)
}

// SlicePoint is the (z, x) part of a packed position.
func SlicePoint(x, z int) uint16 { return uint16(z)<<8 | uint16(x) }

func UnpackSlicePoint(p uint16) (x, z int) { return int(p & 0xFF), int(p >> 8) }

func (c *Chunk) Meta(key string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.meta[key]
	return v, ok
}

func (c *Chunk) SetMeta(key string, v Value) {
	c.mu.Lock()
	c.meta[key] = v
	c.mu.Unlock()
}

func (c *Chunk) DeleteMeta(key string) {
	c.mu.Lock()
	delete(c.meta, key)
	c.mu.Unlock()
}

// MetaEntries returns a copy of the chunk metadata.
func (c *Chunk) MetaEntries() map[string]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Value, len(c.meta))
	for k, v := range c.meta {
		out[k] = v
	}
	return out
}

func (c *Chunk) metaNameIDLocked(name string) (uint16, error) {
	if id, ok := c.metaNameIDs[name]; ok {
		return id, nil
	}
	if len(c.metaNames) > 0xFFFF {
		return 0, ErrTooManyMetaKeys
	}
	id := uint16(len(c.metaNames))
	c.metaNames = append(c.metaNames, name)
	c.metaNameIDs[name] = id
	return id, nil
}

// BlockMeta returns the properties of one cell, or nil.
func (c *Chunk) BlockMeta(x, y, z int) map[string]Value {
	if !inRange(x, y, z) {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.namedPropsLocked(c.blockMeta[PackPos(x, y, z)])
}

func (c *Chunk) namedPropsLocked(props map[uint16]Value) map[string]Value {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]Value, len(props))
	for id, v := range props {
		out[c.metaNames[id]] = v
	}
	return out
}

func (c *Chunk) SetBlockMeta(x, y, z int, name string, v Value) error {
	if !inRange(x, y, z) {
		return fmt.Errorf("%w: (%d,%d,%d)", ErrOutOfRange, x, y, z)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.metaNameIDLocked(name)
	if err != nil {
		return err
	}
	p := PackPos(x, y, z)
	props := c.blockMeta[p]
	if props == nil {
		props = map[uint16]Value{}
		c.blockMeta[p] = props
	}
	props[id] = v
	return nil
}

func (c *Chunk) DeleteBlockMeta(x, y, z int, name string) {
	if !inRange(x, y, z) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.metaNameIDs[name]
	if !ok {
		return
	}
	p := PackPos(x, y, z)
	delete(c.blockMeta[p], id)
	if len(c.blockMeta[p]) == 0 {
		delete(c.blockMeta, p)
	}
}

func (c *Chunk) ClearBlockMeta(x, y, z int) {
	if !inRange(x, y, z) {
		return
	}
	c.mu.Lock()
	delete(c.blockMeta, PackPos(x, y, z))
	c.mu.Unlock()
}

// BlockMetaInSlice returns slice point -> named properties for layer y.
func (c *Chunk) BlockMetaInSlice(y int) map[uint16]map[string]Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out map[uint16]map[string]Value
	for p, props := range c.blockMeta {
		x, py, z := UnpackPos(p)
		if py != y || len(props) == 0 {
			continue
		}
		if out == nil {
			out = map[uint16]map[string]Value{}
		}
		out[SlicePoint(x, z)] = c.namedPropsLocked(props)
	}
	return out
}

// BlockMetaLayers lists the Y layers that carry block metadata, ascending.
func (c *Chunk) BlockMetaLayers() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var seen [Height]bool
	var out []int
	for p, props := range c.blockMeta {
		_, y, _ := UnpackPos(p)
		if len(props) > 0 && !seen[y] {
			seen[y] = true
			out = append(out, y)
		}
	}
	sort.Ints(out)
	return out
}

func (c *Chunk) namedBlockMetaLocked() map[uint32]map[string]Value {
	out := make(map[uint32]map[string]Value, len(c.blockMeta))
	for p, props := range c.blockMeta {
		if named := c.namedPropsLocked(props); named != nil {
			out[p] = named
		}
	}
	return out
}

func blockMetaEqual(a, b map[uint32]map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for p, pa := range a {
		pb, ok := b[p]
		if !ok || len(pa) != len(pb) {
			return false
		}
		for k, v := range pa {
			if ov, ok := pb[k]; !ok || !v.Equal(ov) {
				return false
			}
		}
	}
	return true
}
