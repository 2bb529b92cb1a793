// Package idmap translates between chunk-local row codes, the 16-bit codes
// persisted in one world file, and stable block identifiers.
//
// Nothing here is safe for concurrent use. The world store touches these
// types only from its worker goroutine.
package idmap

import (
	"errors"
	"fmt"

	"voxelstore.ai/internal/sim/world/terrain/chunk"
)

const (
	CodeUnset uint16 = 0x0000
	CodeAir   uint16 = 0xFFFF

	firstCode = 1
	lastCode  = 0xFFFE
)

var (
	ErrUnknownCode = errors.New("idmap: unknown file-global block code")
	ErrExhausted   = errors.New("idmap: file-global code space exhausted")
)

type Entry struct {
	Code uint16
	ID   chunk.BlockID
}

// GlobalMap is the world-scoped code table. Codes are appended and never
// reassigned.
type GlobalMap struct {
	byCode  []chunk.BlockID
	byID    map[chunk.BlockID]uint16
	next    uint32
	pending []Entry
}

func NewGlobalMap() *GlobalMap {
	return &GlobalMap{
		byCode: make([]chunk.BlockID, firstCode),
		byID:   map[chunk.BlockID]uint16{},
		next:   firstCode,
	}
}

// Load registers a persisted entry. It is used while opening a file and does
// not mark anything pending.
func (g *GlobalMap) Load(code uint16, id chunk.BlockID) error {
	if code < firstCode || code > lastCode {
		return fmt.Errorf("idmap: reserved code %#04x in table", code)
	}
	if id == chunk.Air {
		return fmt.Errorf("idmap: code %#04x maps to air", code)
	}
	if prev, ok := g.byID[id]; ok && prev != code {
		return fmt.Errorf("idmap: block %s has codes %#04x and %#04x", id, prev, code)
	}
	for len(g.byCode) <= int(code) {
		g.byCode = append(g.byCode, chunk.Air)
	}
	if cur := g.byCode[code]; cur != chunk.Air && cur != id {
		return fmt.Errorf("idmap: code %#04x assigned twice", code)
	}
	g.byCode[code] = id
	g.byID[id] = code
	if uint32(code) >= g.next {
		g.next = uint32(code) + 1
	}
	return nil
}

// Resolve maps a persisted code to a block. Air and unset both read as Air.
func (g *GlobalMap) Resolve(code uint16) (chunk.BlockID, bool) {
	if code == CodeAir || code == CodeUnset {
		return chunk.Air, true
	}
	if int(code) >= len(g.byCode) || g.byCode[code] == chunk.Air {
		return chunk.Air, false
	}
	return g.byCode[code], true
}

// Internalize returns the code for id, appending a new one if unseen.
func (g *GlobalMap) Internalize(id chunk.BlockID) (uint16, error) {
	if id == chunk.Air {
		return CodeAir, nil
	}
	if code, ok := g.byID[id]; ok {
		return code, nil
	}
	if g.next > lastCode {
		return 0, ErrExhausted
	}
	code := uint16(g.next)
	g.next++
	for len(g.byCode) <= int(code) {
		g.byCode = append(g.byCode, chunk.Air)
	}
	g.byCode[code] = id
	g.byID[id] = code
	g.pending = append(g.pending, Entry{Code: code, ID: id})
	return code, nil
}

// Pending lists entries issued since the last MarkFlushed.
func (g *GlobalMap) Pending() []Entry {
	return append([]Entry(nil), g.pending...)
}

// MarkFlushed drops the first n pending entries.
func (g *GlobalMap) MarkFlushed(n int) {
	if n >= len(g.pending) {
		g.pending = g.pending[:0]
		return
	}
	g.pending = append(g.pending[:0], g.pending[n:]...)
}

// Len is the number of issued codes.
func (g *GlobalMap) Len() int { return len(g.byID) }
