package block

// resolveOverlap computes the intersection of alloc and discard and
// moves every overlapping byte range into ckptAvail, leaving whatever
// remains of each input extent in its original list.
//
// Swapping so a.off <= b.off before comparing reduces the general
// problem to seven canonical cases, dispatched on (a.off==b.off,
// a.end vs b.end): no overlap; exact match; a is a prefix of b; b is
// a prefix of a; b is a suffix of a; partial overlap (a's tail meets
// b's head); and b entirely inside a (a splits around it). RemoveRange
// on a single extent list already implements exactly this splitting
// for one list against one range, so resolving a pair reduces to
// removing the intersection from each list independently and handing
// it to ckptAvail — the case dispatch happens once, inside
// ExtList.RemoveRange, rather than being duplicated here per pair.
func resolveOverlap(alloc, discard, ckptAvail *ExtList) {
	for {
		a, b, ok := firstOverlap(alloc, discard)
		if !ok {
			return
		}
		if a.Off > b.Off {
			a, b = b, a
		}
		lo := a.Off
		if b.Off > lo {
			lo = b.Off
		}
		hi := a.End()
		if b.End() < hi {
			hi = b.End()
		}

		alloc.RemoveRange(lo, hi-lo)
		discard.RemoveRange(lo, hi-lo)
		ckptAvail.Insert(lo, hi-lo)
	}
}

// firstOverlap returns the first pair of extents (one from each list,
// in ascending-offset order within each) whose ranges intersect.
func firstOverlap(alloc, discard *ExtList) (a, b Extent, ok bool) {
	as := alloc.Snapshot()
	ds := discard.Snapshot()
	ai, di := 0, 0
	for ai < len(as) && di < len(ds) {
		x, y := as[ai], ds[di]
		switch {
		case x.End() <= y.Off:
			ai++
		case y.End() <= x.Off:
			di++
		default:
			return x, y, true
		}
	}
	return Extent{}, Extent{}, false
}
