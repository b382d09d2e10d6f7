package block

import (
	"math/rand"
)

// maxSkipDepth bounds the height of any extent-list skip list node.
// 2^maxSkipDepth extents is far beyond any realistic free-list size.
const maxSkipDepth = 24

// extNode is a node shared by the offset-indexed and (optionally)
// size-indexed skip lists of a single ExtList. A node of depth d
// reserves 2*d forward pointers: next[0:d) walks the offset list,
// next[d:2d) walks the size list. A list that does not track size
// (the alloc and discard lists) never dereferences the high half.
type extNode struct {
	off   int64
	size  int64
	depth int
	next  []*extNode
}

func newExtNode(off, size int64, depth int) *extNode {
	return &extNode{off: off, size: size, depth: depth, next: make([]*extNode, 2*depth)}
}

func (n *extNode) offNext(level int) *extNode { return n.next[level] }

func (n *extNode) setOffNext(level int, v *extNode) { n.next[level] = v }

func (n *extNode) sizeNext(level int) *extNode { return n.next[n.depth+level] }

func (n *extNode) setSizeNext(level int, v *extNode) { n.next[n.depth+level] = v }

// randomDepth draws a skip-list level geometrically with p=1/4, the
// same distribution the in-memory page's insert skip list uses,
// capped at maxSkipDepth.
func randomDepth() int {
	depth := 1
	for depth < maxSkipDepth && rand.Intn(4) == 0 {
		depth++
	}
	return depth
}
