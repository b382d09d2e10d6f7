package page

import "bytes"

// SearchEntries binary-searches a leaf row page's on-page entries,
// returning the index of an exact match, or the index at which key
// would be inserted (the first entry with Key > key) with found=false.
func (p *Page) SearchEntries(key []byte) (idx int, found bool) {
	lo, hi := 0, len(p.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		switch bytes.Compare(p.Entries[mid].Key, key) {
		case 0:
			return mid, true
		case -1:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// SearchRefs binary-searches an internal row page's children by key,
// returning the index of the child whose range contains key (the
// last child whose Key <= key).
func (p *Page) SearchRefs(key []byte) int {
	lo, hi := 0, len(p.Refs)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(p.Refs[mid].Key, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

// SearchRefsRecno is SearchRefs for an internal column-store page,
// descending by starting record number instead of key.
func (p *Page) SearchRefsRecno(recno uint64) int {
	lo, hi := 0, len(p.Refs)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.Refs[mid].Recno <= recno {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}

// ColSlot computes a fixed-width column leaf's slot index for recno
// by arithmetic on recno - page.StartRecno.
func (p *Page) ColSlot(recno uint64) (idx int, ok bool) {
	if recno < p.StartRecno {
		return 0, false
	}
	idx = int(recno - p.StartRecno)
	if idx >= len(p.Entries) {
		return 0, false
	}
	return idx, true
}
