package page

import (
	"bytes"
	"math/rand"
	"sync/atomic"
)

// maxInsertDepth bounds the height of an insert-list node. Column
// store recnos are encoded as 8-byte big-endian keys (see RecnoKey)
// so a single []byte-keyed skip list serves both row and column
// variants without a second implementation.
const maxInsertDepth = 24

// InsertNode is a key inserted between two on-page entries, or past
// the last one. It owns its own update Chain.
type InsertNode struct {
	Key   []byte
	Chain Chain

	depth int
	next  []atomic.Pointer[InsertNode]
}

func newInsertNode(key []byte, depth int) *InsertNode {
	return &InsertNode{Key: append([]byte(nil), key...), depth: depth, next: make([]atomic.Pointer[InsertNode], depth)}
}

// RecnoKey encodes a column-store record number as a fixed-width,
// order-preserving skip-list key.
func RecnoKey(recno uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(recno)
		recno >>= 8
	}
	return b
}

func randomInsertDepth() int {
	depth := 1
	for depth < maxInsertDepth && rand.Intn(4) == 0 {
		depth++
	}
	return depth
}

// InsertList is the per-leaf-page skip list of inserted keys,
// appended to lock-free via CAS.
type InsertList struct {
	head  [maxInsertDepth]atomic.Pointer[InsertNode]
	depth atomic.Int32
}

func (l *InsertList) at(x *InsertNode, level int) *InsertNode {
	if x == nil {
		return l.head[level].Load()
	}
	return x.next[level].Load()
}

func (l *InsertList) casAt(x *InsertNode, level int, old, new *InsertNode) bool {
	if x == nil {
		return l.head[level].CompareAndSwap(old, new)
	}
	return x.next[level].CompareAndSwap(old, new)
}

// Stack is a search-stack snapshot captured by Search, re-used by a
// following InsertCAS attempt: it CASes into its skip-list position
// using the search stack captured during the preceding search.
type Stack struct {
	update [maxInsertDepth]*InsertNode
}

// Search walks the list for key, returning the predecessor stack at
// every level and the exact match, if any.
func (l *InsertList) Search(key []byte) (Stack, *InsertNode) {
	var st Stack
	top := int(l.depth.Load())
	var x *InsertNode
	for i := maxInsertDepth - 1; i >= 0; i-- {
		if i >= top && top > 0 {
			st.update[i] = nil
			continue
		}
		for {
			nxt := l.at(x, i)
			if nxt != nil && bytes.Compare(nxt.Key, key) < 0 {
				x = nxt
			} else {
				break
			}
		}
		st.update[i] = x
	}
	cand := l.at(x, 0)
	if cand != nil && bytes.Equal(cand.Key, key) {
		return st, cand
	}
	return st, nil
}

// InsertCAS attempts to link a brand-new node for key into the
// position described by st (as returned by the Search that preceded
// it). It fails (ok=false) if another writer raced in at level 0 in
// the interim; the caller re-Searches and retries.
func (l *InsertList) InsertCAS(key []byte, st Stack) (node *InsertNode, ok bool) {
	depth := randomInsertDepth()
	n := newInsertNode(key, depth)

	// Level 0 first: this is the linearization point. A failed CAS
	// here means a concurrent insert changed the chain at this point;
	// the caller must re-search.
	next0 := l.at(st.update[0], 0)
	if next0 != nil && bytes.Compare(next0.Key, key) <= 0 {
		return nil, false
	}
	n.next[0].Store(next0)
	if !l.casAt(st.update[0], 0, next0, n) {
		return nil, false
	}

	for i := 1; i < depth; i++ {
		for {
			next := l.at(st.update[i], i)
			n.next[i].Store(next)
			if l.casAt(st.update[i], i, next, n) {
				break
			}
			// Lost a race on an upper level: re-derive the predecessor
			// at this level by re-searching from the (already linked)
			// node forward. This keeps upper levels best-effort —
			// correctness of lookups only depends on level 0 being
			// linked, which it now is.
			st2, _ := l.Search(key)
			st.update[i] = st2.update[i]
		}
	}

	for {
		cur := l.depth.Load()
		if int32(depth) <= cur || l.depth.CompareAndSwap(cur, int32(depth)) {
			break
		}
	}
	return n, true
}

// Range calls fn for every node in ascending key order until fn
// returns false.
func (l *InsertList) Range(fn func(*InsertNode) bool) {
	for n := l.head[0].Load(); n != nil; n = n.next[0].Load() {
		if !fn(n) {
			return
		}
	}
}

// Floor returns the last node with Key < key, or nil.
func (l *InsertList) Floor(key []byte) *InsertNode {
	st, exact := l.Search(key)
	if exact != nil {
		return st.update[0]
	}
	return st.update[0]
}
