package chunk

import (
	"bytes"
	"sort"
)

// packSet is one distinct set of blocks used by at least one row.
type packSet struct {
	ids  []BlockID // non-air, sorted
	air  bool
	rows []*Row
}

type packBin struct {
	ids  []BlockID
	has  map[BlockID]struct{}
	full bool // holds Width non-air ids and no free slot
}

func (b *packBin) covers(ps *packSet) bool {
	if ps.air && b.full {
		return false
	}
	for _, id := range ps.ids {
		if _, ok := b.has[id]; !ok {
			return false
		}
	}
	return true
}

// missing counts the ids of ps not in b.
func (b *packBin) missing(ps *packSet) int {
	n := 0
	for _, id := range ps.ids {
		if _, ok := b.has[id]; !ok {
			n++
		}
	}
	return n
}

func (b *packBin) add(ps *packSet) {
	for _, id := range ps.ids {
		if _, ok := b.has[id]; !ok {
			b.has[id] = struct{}{}
			b.ids = append(b.ids, id)
		}
	}
}

// repackLocked rebuilds the arena from the block sets rows actually use plus
// set, merging sets into shared maps of at most Width-1 blocks so every map
// keeps a free slot for air. Rows are re-pointed and re-coded in place. The
// chunk is untouched when even the packed arena would not fit.
func (c *Chunk) repackLocked(set []BlockID) (uint8, error) {
	sets := map[string]*packSet{}
	var order []*packSet
	intern := func(ids []BlockID) *packSet {
		ps := newPackSet(ids)
		k := ps.key()
		if have, ok := sets[k]; ok {
			return have
		}
		sets[k] = ps
		order = append(order, ps)
		return ps
	}

	c.eachRowLocked(func(r *Row) {
		m := &c.rowMaps[r.typeMap]
		codes := r.distinctCodes()
		ids := make([]BlockID, len(codes))
		for i, code := range codes {
			ids[i] = m[code]
		}
		ps := intern(ids)
		ps.rows = append(ps.rows, r)
	})
	target := intern(set)

	// Largest sets first; ties keep first-seen order.
	sort.SliceStable(order, func(i, j int) bool { return len(order[i].ids) > len(order[j].ids) })

	var bins []*packBin
	binOf := make(map[*packSet]int, len(order))
	for _, ps := range order {
		if len(ps.ids) == Width {
			bins = append(bins, &packBin{ids: ps.ids, has: idSet(ps.ids), full: true})
			binOf[ps] = len(bins) - 1
			continue
		}
		best, bestAdd := -1, Width
		for i, b := range bins {
			if b.covers(ps) {
				best, bestAdd = i, 0
				break
			}
			if b.full {
				continue
			}
			add := b.missing(ps)
			if len(b.ids)+add <= Width-1 && add < bestAdd {
				best, bestAdd = i, add
			}
		}
		if best < 0 {
			bins = append(bins, &packBin{has: map[BlockID]struct{}{}})
			best = len(bins) - 1
		}
		bins[best].add(ps)
		binOf[ps] = best
	}
	if len(bins) > MaxRowMaps {
		return 0, ErrTooManyRowMaps
	}

	maps := make([]RowTypeMap, len(bins))
	for i, b := range bins {
		copy(maps[i][:], b.ids)
	}
	for _, ps := range order {
		bi := binOf[ps]
		nm := &maps[bi]
		for _, r := range ps.rows {
			om := &c.rowMaps[r.typeMap]
			var tbl [Width]uint8
			for _, code := range r.distinctCodes() {
				tbl[code], _ = nm.Code(om[code])
			}
			r.remap(uint8(bi), &tbl)
			r.Prepare()
		}
	}
	c.rowMaps = maps
	return uint8(binOf[target]), nil
}

func newPackSet(ids []BlockID) *packSet {
	ps := &packSet{}
	for _, id := range ids {
		if id == Air {
			ps.air = true
			continue
		}
		if !containsID(ps.ids, id) {
			ps.ids = append(ps.ids, id)
		}
	}
	sort.Slice(ps.ids, func(i, j int) bool { return bytes.Compare(ps.ids[i][:], ps.ids[j][:]) < 0 })
	return ps
}

func (ps *packSet) key() string {
	b := make([]byte, 0, len(ps.ids)*16+1)
	if ps.air {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	for _, id := range ps.ids {
		b = append(b, id[:]...)
	}
	return string(b)
}

func idSet(ids []BlockID) map[BlockID]struct{} {
	m := make(map[BlockID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}
