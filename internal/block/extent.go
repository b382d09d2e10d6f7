package block

// Extent is a contiguous, allocation-unit-aligned byte range.
type Extent struct {
	Off  int64
	Size int64
}

func (e Extent) End() int64 { return e.Off + e.Size }

// ExtList is an ordered set of non-overlapping extents, indexed by a
// skip list on offset and, when trackSize is set, a second skip list
// on size (see skiplist.go for the shared-node layout). Only the
// available list tracks size, since it is the only list `alloc`
// searches by size.
type ExtList struct {
	name      string
	trackSize bool

	offHead  [maxSkipDepth]*extNode
	sizeHead [maxSkipDepth]*extNode
	depth    int

	last  *extNode // highest-offset extent, for O(1) append checks
	bytes int64
	count int
}

// NewExtList constructs an empty extent list. name is used only for
// logging (e.g. "available", "alloc", "discard", "ckpt-available").
func NewExtList(name string, trackSize bool) *ExtList {
	return &ExtList{name: name, trackSize: trackSize}
}

func (l *ExtList) Name() string  { return l.name }
func (l *ExtList) Bytes() int64  { return l.bytes }
func (l *ExtList) Len() int      { return l.count }
func (l *ExtList) IsEmpty() bool { return l.count == 0 }

func (l *ExtList) offAt(x *extNode, level int) *extNode {
	if x == nil {
		return l.offHead[level]
	}
	return x.offNext(level)
}

func (l *ExtList) setOffAt(x *extNode, level int, v *extNode) {
	if x == nil {
		l.offHead[level] = v
	} else {
		x.setOffNext(level, v)
	}
}

func (l *ExtList) sizeAt(x *extNode, level int) *extNode {
	if x == nil {
		return l.sizeHead[level]
	}
	return x.sizeNext(level)
}

func (l *ExtList) setSizeAt(x *extNode, level int, v *extNode) {
	if x == nil {
		l.sizeHead[level] = v
	} else {
		x.setSizeNext(level, v)
	}
}

// sizeLess orders the size list by (size, off) so that extents of
// equal size still have a unique, deterministic position.
func sizeLess(size, off, nsize, noff int64) bool {
	if size != nsize {
		return size < nsize
	}
	return off < noff
}

// offFloor returns the node with the greatest off <= target, or nil.
func (l *ExtList) offFloor(target int64) *extNode {
	var x *extNode
	for i := l.depth - 1; i >= 0; i-- {
		for {
			nxt := l.offAt(x, i)
			if nxt != nil && nxt.off <= target {
				x = nxt
			} else {
				break
			}
		}
	}
	return x
}

// offSearch returns, per level, the last node with off < target
// (the predecessor stack), and the exact match at that offset if any.
func (l *ExtList) offSearch(target int64) (update [maxSkipDepth]*extNode, exact *extNode) {
	var x *extNode
	for i := maxSkipDepth - 1; i >= 0; i-- {
		for {
			nxt := l.offAt(x, i)
			if nxt != nil && nxt.off < target {
				x = nxt
			} else {
				break
			}
		}
		update[i] = x
	}
	cand := l.offAt(x, 0)
	if cand != nil && cand.off == target {
		exact = cand
	}
	return
}

func (l *ExtList) sizeSearch(size, off int64) (update [maxSkipDepth]*extNode, exact *extNode) {
	var x *extNode
	for i := maxSkipDepth - 1; i >= 0; i-- {
		for {
			nxt := l.sizeAt(x, i)
			if nxt != nil && sizeLess(nxt.size, nxt.off, size, off) {
				x = nxt
			} else {
				break
			}
		}
		update[i] = x
	}
	cand := l.sizeAt(x, 0)
	if cand != nil && cand.size == size && cand.off == off {
		exact = cand
	}
	return
}

// insertNode links a brand-new (off, size) extent into both indices.
// Callers are responsible for having already merged any adjacency
// (Insert does this); insertNode never merges.
func (l *ExtList) insertNode(off, size int64) *extNode {
	offUpd, _ := l.offSearch(off)

	depth := randomDepth()
	if depth > l.depth {
		l.depth = depth
	}
	n := newExtNode(off, size, depth)

	for i := 0; i < depth; i++ {
		n.setOffNext(i, l.offAt(offUpd[i], i))
		l.setOffAt(offUpd[i], i, n)
	}

	if l.trackSize {
		sizeUpd, _ := l.sizeSearch(size, off)
		for i := 0; i < depth; i++ {
			n.setSizeNext(i, l.sizeAt(sizeUpd[i], i))
			l.setSizeAt(sizeUpd[i], i, n)
		}
	}

	if l.last == nil || off > l.last.off {
		l.last = n
	}
	l.bytes += size
	l.count++
	return n
}

// removeExact unlinks the extent at exactly (off, size) from both
// indices. It panics if the extent is not present: this is a
// corruption, and a free of a non-existent extent is always fatal.
func (l *ExtList) removeExact(off, size int64) {
	offUpd, exact := l.offSearch(off)
	if exact == nil || exact.size != size {
		panic(errExtentNotFound(l.name, off, size))
	}
	for i := 0; i < exact.depth; i++ {
		if l.offAt(offUpd[i], i) == exact {
			l.setOffAt(offUpd[i], i, exact.offNext(i))
		}
	}

	if l.trackSize {
		sizeUpd, sexact := l.sizeSearch(size, off)
		if sexact == nil {
			panic(errExtentNotFound(l.name, off, size))
		}
		for i := 0; i < sexact.depth; i++ {
			if l.sizeAt(sizeUpd[i], i) == sexact {
				l.setSizeAt(sizeUpd[i], i, sexact.sizeNext(i))
			}
		}
	}

	if l.last == exact {
		l.last = l.offFloor(off - 1)
	}
	l.bytes -= size
	l.count--
}

// Insert adds (off, size) to the list, merging with an adjacent
// predecessor and/or successor so the non-overlap invariant and the
// "adjacent extents are always merged" invariant both hold. Because
// the list is already merged, at most one predecessor and one
// successor can be adjacent, so a single pass each way suffices.
func (l *ExtList) Insert(off, size int64) {
	if pred := l.offFloor(off - 1); pred != nil && pred.off+pred.size == off {
		off, size = pred.off, pred.size+size
		l.removeExact(pred.off, pred.size)
	}
	if succ := l.offAt(l.offFloor(off), 0); succ != nil && off+size == succ.off {
		size += succ.size
		l.removeExact(succ.off, succ.size)
	}
	l.insertNode(off, size)
}

// RemoveExact removes the extent at precisely (off, size), or panics
// if it is not present (see removeExact).
func (l *ExtList) RemoveExact(off, size int64) {
	l.removeExact(off, size)
}

// containing returns the extent whose range fully covers
// [off, off+size), or nil.
func (l *ExtList) containing(off, size int64) *extNode {
	node := l.offFloor(off)
	if node != nil && node.off <= off && node.off+node.size >= off+size {
		return node
	}
	return nil
}

// RemoveRange removes [off, off+size) from whichever extent of this list
// contains it, splitting the containing extent and reinserting the
// remainder(s) on either side. Returns false if no extent in this
// list contains the requested range.
func (l *ExtList) RemoveRange(off, size int64) bool {
	node := l.containing(off, size)
	if node == nil {
		return false
	}
	nodeOff, nodeSize := node.off, node.size
	l.removeExact(nodeOff, nodeSize)

	if nodeOff < off {
		l.insertNode(nodeOff, off-nodeOff)
	}
	if end, reqEnd := nodeOff+nodeSize, off+size; end > reqEnd {
		l.insertNode(reqEnd, end-reqEnd)
	}
	return true
}

// FirstFit walks the offset index at level 0 for the first extent
// whose size is >= size, used when the block manager is configured
// allocate-first-fit.
func (l *ExtList) FirstFit(size int64) (off int64, ok bool) {
	for n := l.offHead[0]; n != nil; n = n.offNext(0) {
		if n.size >= size {
			return n.off, true
		}
	}
	return 0, false
}

// BestFit searches the size index for the smallest extent >= size.
func (l *ExtList) BestFit(size int64) (off, foundSize int64, ok bool) {
	if !l.trackSize {
		panic("block: BestFit on a list without a size index")
	}
	upd, _ := l.sizeSearch(size, 0)
	// upd[0] is the last node with (size,off) < (size,0); since off=0 is
	// the minimum possible offset, this is the predecessor of the first
	// extent whose size is >= the requested size (ties broken by off).
	cand := l.sizeAt(upd[0], 0)
	for cand != nil && cand.size < size {
		cand = cand.sizeNext(0)
	}
	if cand == nil {
		return 0, 0, false
	}
	return cand.off, cand.size, true
}

// Last returns the highest-offset extent, used to accelerate appends
// and to implement truncate-tail.
func (l *ExtList) Last() (Extent, bool) {
	if l.last == nil {
		return Extent{}, false
	}
	return Extent{Off: l.last.off, Size: l.last.size}, true
}

// Snapshot returns every extent in ascending offset order.
func (l *ExtList) Snapshot() []Extent {
	out := make([]Extent, 0, l.count)
	for n := l.offHead[0]; n != nil; n = n.offNext(0) {
		out = append(out, Extent{Off: n.off, Size: n.size})
	}
	return out
}
