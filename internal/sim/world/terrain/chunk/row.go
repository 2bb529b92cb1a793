package chunk

import "sort"

type RowKind uint8

const (
	RowSparse RowKind = iota + 1
	RowDense
)

func (k RowKind) String() string {
	switch k {
	case RowSparse:
		return "sparse"
	case RowDense:
		return "dense"
	default:
		return "invalid"
	}
}

type override struct {
	x    uint8
	code uint8
}

// Row is one Z-line of Width cells holding 8-bit local codes. Exactly one
// representation is active: sparse (a default plus at most SparseMaxEntries
// overrides sorted by x) or dense (a flat array). typeMap indexes the owning
// chunk's row-map arena.
type Row struct {
	typeMap uint8
	kind    RowKind

	def       uint8
	overrides []override

	cells *[Width]uint8
}

// NewSparseRow returns a row whose every cell is def.
func NewSparseRow(typeMap, def uint8) *Row {
	return &Row{typeMap: typeMap, kind: RowSparse, def: def}
}

// NewDenseRow copies cells into a dense row.
func NewDenseRow(typeMap uint8, cells *[Width]uint8) *Row {
	cp := *cells
	return &Row{typeMap: typeMap, kind: RowDense, cells: &cp}
}

// NewRowFromCodes picks the representation from the code histogram.
func NewRowFromCodes(typeMap uint8, codes *[Width]uint8) *Row {
	r := NewDenseRow(typeMap, codes)
	r.Prepare()
	return r
}

func (r *Row) Kind() RowKind  { return r.kind }
func (r *Row) TypeMap() uint8 { return r.typeMap }

// Default is the sparse default code; it is meaningless for dense rows.
func (r *Row) Default() uint8 { return r.def }

// Overrides reports the number of sparse overrides.
func (r *Row) Overrides() int { return len(r.overrides) }

func (r *Row) search(x uint8) (int, bool) {
	i := sort.Search(len(r.overrides), func(i int) bool { return r.overrides[i].x >= x })
	return i, i < len(r.overrides) && r.overrides[i].x == x
}

func (r *Row) Get(x int) uint8 {
	if r.kind == RowDense {
		return r.cells[x]
	}
	if i, ok := r.search(uint8(x)); ok {
		return r.overrides[i].code
	}
	return r.def
}

// Set writes one cell. A sparse row that would exceed SparseMaxEntries
// overrides becomes dense.
func (r *Row) Set(x int, code uint8) {
	if r.kind == RowDense {
		r.cells[x] = code
		return
	}
	i, ok := r.search(uint8(x))
	switch {
	case ok && code == r.def:
		r.overrides = append(r.overrides[:i], r.overrides[i+1:]...)
	case ok:
		r.overrides[i].code = code
	case code == r.def:
	case len(r.overrides) >= SparseMaxEntries:
		r.toDense()
		r.cells[x] = code
	default:
		r.overrides = append(r.overrides, override{})
		copy(r.overrides[i+1:], r.overrides[i:])
		r.overrides[i] = override{x: uint8(x), code: code}
	}
}

func (r *Row) ContainsCode(code uint8) bool {
	if r.kind == RowDense {
		for _, c := range r.cells {
			if c == code {
				return true
			}
		}
		return false
	}
	if len(r.overrides) < Width && r.def == code {
		return true
	}
	for _, o := range r.overrides {
		if o.code == code {
			return true
		}
	}
	return false
}

// Codes expands the row into its dense form without changing it.
func (r *Row) Codes() [Width]uint8 {
	if r.kind == RowDense {
		return *r.cells
	}
	var out [Width]uint8
	for i := range out {
		out[i] = r.def
	}
	for _, o := range r.overrides {
		out[o.x] = o.code
	}
	return out
}

// Prepare re-selects the representation: sparse when the most frequent code
// fills at least SparseThreshold cells, dense otherwise.
func (r *Row) Prepare() {
	codes := r.Codes()
	var hist [Width]int
	for _, c := range codes {
		hist[c]++
	}
	best := 0
	for c := 1; c < Width; c++ {
		if hist[c] > hist[best] {
			best = c
		}
	}
	if hist[best] < SparseThreshold {
		if r.kind != RowDense {
			r.toDense()
		}
		return
	}
	r.kind = RowSparse
	r.cells = nil
	r.def = uint8(best)
	r.overrides = r.overrides[:0]
	for x, c := range codes {
		if c != r.def {
			r.overrides = append(r.overrides, override{x: uint8(x), code: c})
		}
	}
}

func (r *Row) toDense() {
	codes := r.Codes()
	r.cells = &codes
	r.kind = RowDense
	r.overrides = nil
	r.def = 0
}

// remap rewrites every code through tbl and points the row at typeMap.
func (r *Row) remap(typeMap uint8, tbl *[Width]uint8) {
	r.typeMap = typeMap
	if r.kind == RowDense {
		for i, c := range r.cells {
			r.cells[i] = tbl[c]
		}
		return
	}
	r.def = tbl[r.def]
	for i := range r.overrides {
		r.overrides[i].code = tbl[r.overrides[i].code]
	}
}

// distinctCodes lists the codes present in the row.
func (r *Row) distinctCodes() []uint8 {
	var seen [Width]bool
	var out []uint8
	add := func(c uint8) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	if r.kind == RowDense {
		for _, c := range r.cells {
			add(c)
		}
		return out
	}
	if len(r.overrides) < Width {
		add(r.def)
	}
	for _, o := range r.overrides {
		add(o.code)
	}
	return out
}

func (r *Row) clone() *Row {
	cp := *r
	if r.overrides != nil {
		cp.overrides = append([]override(nil), r.overrides...)
	}
	if r.cells != nil {
		cells := *r.cells
		cp.cells = &cells
	}
	return &cp
}
