package chunk

// RowTypeMap resolves a row's 8-bit local codes to block identifiers. An Air
// slot is a free code; every free code reads back as Air.
//
// Maps are shared by index between rows, so a map in the arena is never
// modified in place. A repack replaces the whole arena and re-points every
// row under the chunk lock.
type RowTypeMap [Width]BlockID

// Lookup returns the block for a local code.
func (m *RowTypeMap) Lookup(code uint8) BlockID { return m[code] }

// Code returns the local code for id. Air resolves to the first free slot.
func (m *RowTypeMap) Code(id BlockID) (uint8, bool) {
	for i := range m {
		if m[i] == id {
			return uint8(i), true
		}
	}
	return 0, false
}

// Covers reports whether every identifier in set can be represented.
func (m *RowTypeMap) Covers(set []BlockID) bool {
	for _, id := range set {
		if _, ok := m.Code(id); !ok {
			return false
		}
	}
	return true
}

// buildRowTypeMap assigns dense ascending codes from 0 to the non-air
// identifiers of set, in order. It fails when the set cannot fit.
func buildRowTypeMap(set []BlockID) (RowTypeMap, bool) {
	var m RowTypeMap
	n := 0
	needAir := false
	for _, id := range set {
		if id == Air {
			needAir = true
			continue
		}
		if containsID(m[:n], id) {
			continue
		}
		if n == Width {
			return m, false
		}
		m[n] = id
		n++
	}
	if needAir && n == Width {
		return m, false
	}
	return m, true
}

func containsID(ids []BlockID, id BlockID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
