package btree

import (
	"fmt"

	"github.com/cuemby/kvaerner/internal/page"
)

// deepSplitChildren is the child-count threshold above which a parent
// page is deep-split into siblings instead of simply growing its Refs
// array.
const deepSplitChildren = 256

// rebuildChain copies every update in an existing chain onto a fresh
// one, preserving TxnID/Value/Tombstone/Aborted and relative order.
// Used when a split moves a logical row into a newly built sibling
// page: the old chain object is abandoned along with the old page.
func rebuildChain(head *page.Update) page.Chain {
	var ups []*page.Update
	for u := head; u != nil; u = u.Next() {
		ups = append(ups, u)
	}
	var c page.Chain
	for i := len(ups) - 1; i >= 0; i-- {
		nu := page.NewUpdate(ups[i].TxnID, ups[i].Value, ups[i].Tombstone)
		if ups[i].Aborted.Load() {
			nu.Aborted.Store(true)
		}
		c.Push(nu)
	}
	return c
}

// splitLeaf performs the append-heavy in-memory split: the tail of
// leaf's insert list moves into a brand new
// sibling leaf, installed as a new Ref in the parent. The original
// leaf's Ref is updated in place to point at a trimmed copy of
// itself — the Ref object is shared by every Page that currently
// lists it as a child, so this single CAS is visible tree-wide
// without a parent rebuild.
func (t *Btree) splitLeaf(leaf *page.Page, ref *page.Ref) error {
	if !leaf.TryLockSplitting() {
		return nil // a split (or eviction reconciliation) already owns this page
	}
	defer leaf.ClearFlag(page.FlagSplitting)

	var nodes []*page.InsertNode
	leaf.Inserts.Range(func(n *page.InsertNode) bool { nodes = append(nodes, n); return true })
	if len(nodes) < 2 {
		return nil // nothing worth splitting off yet
	}
	mid := len(nodes) / 2
	splitKey := nodes[mid].Key

	entIdx, _ := leaf.SearchEntries(splitKey)

	left := page.NewLeafPage(leaf.Type)
	left.FixedWidth = leaf.FixedWidth
	left.StartRecno = leaf.StartRecno
	left.Entries = rebuildEntries(leaf.Entries[:entIdx])
	for _, n := range nodes[:mid] {
		installNode(&left.Inserts, n)
	}

	right := page.NewLeafPage(leaf.Type)
	right.FixedWidth = leaf.FixedWidth
	right.StartRecno = leaf.StartRecno + uint64(entIdx)
	right.Entries = rebuildEntries(leaf.Entries[entIdx:])
	for _, n := range nodes[mid:] {
		installNode(&right.Inserts, n)
	}

	left.SetWriteGen(leaf.WriteGen() + 1)
	right.SetWriteGen(leaf.WriteGen() + 1)
	left.MarkDirty()
	right.MarkDirty()

	rightRef := page.NewRef(splitKey, right.StartRecno, right)
	right.ParentRef.Store(rightRef)

	if ref == t.Root {
		// leaf was the tree root: it has no Refs array of its own to
		// grow into, so a fresh internal root is built with left and
		// right as its only two children.
		leftRef := page.NewRef(nil, left.StartRecno, left)
		left.ParentRef.Store(leftRef)

		newRoot := page.NewInternalPage(leaf.Type, []*page.Ref{leftRef, rightRef})
		newRoot.SetWriteGen(leaf.WriteGen() + 1)
		leftRef.Home.Store(newRoot)
		rightRef.Home.Store(newRoot)
		newRoot.ParentRef.Store(t.Root)
		t.Root.SetPage(newRoot)
		return nil
	}

	left.ParentRef.Store(ref)
	if !ref.CASPage(leaf, left) {
		return nil // lost a race with a concurrent split/eviction; caller retries its own op
	}

	parent := ref.Home.Load()
	if parent == nil {
		return fmt.Errorf("split leaf: no parent page")
	}
	return t.growParent(parent, parent.ParentRef.Load(), ref, rightRef)
}

func rebuildEntries(src []page.Entry) []page.Entry {
	out := make([]page.Entry, len(src))
	for i, e := range src {
		out[i] = page.Entry{Key: e.Key, Base: e.Base, Chain: rebuildChain(e.Chain.Head())}
	}
	return out
}

// installNode re-inserts an existing insert-list node's key and
// update chain into a fresh InsertList under the new sibling page.
func installNode(list *page.InsertList, n *page.InsertNode) {
	st, _ := list.Search(n.Key)
	newNode, ok := list.InsertCAS(n.Key, st)
	if !ok {
		// single-threaded construction of a brand new page: cannot race.
		panic("installNode: unexpected CAS failure building new sibling")
	}
	newNode.Chain = rebuildChain(n.Chain.Head())
}

// growParent inserts newRightRef into parent's child array just after
// existingRef, growing the array. If the result would exceed
// deepSplitChildren, a deep split is performed instead. parentRef is
// the Ref that points at parent itself (t.Root when parent is the
// tree's top level).
func (t *Btree) growParent(parent *page.Page, parentRef *page.Ref, existingRef, newRightRef *page.Ref) error {
	if !parent.TryLockSplitting() {
		return nil
	}
	defer parent.ClearFlag(page.FlagSplitting)

	pos := -1
	for i, r := range parent.Refs {
		if r == existingRef {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("grow parent: existing ref not found")
	}

	grown := make([]*page.Ref, 0, len(parent.Refs)+1)
	grown = append(grown, parent.Refs[:pos+1]...)
	grown = append(grown, newRightRef)
	grown = append(grown, parent.Refs[pos+1:]...)

	if len(grown) > deepSplitChildren {
		return t.splitInternal(parent, parentRef, grown)
	}

	next := page.NewInternalPage(parent.Type, grown)
	next.StartRecno = parent.StartRecno
	next.SetWriteGen(parent.WriteGen() + 1)
	for _, r := range grown {
		r.Home.Store(next)
	}

	// parentRef points at parent itself — t.Root when parent is the
	// tree's top level, an ordinary Ref otherwise. Either way it is
	// the shared pointer every ancestor Refs array holds, so one CAS
	// publishes the grown page tree-wide.
	next.ParentRef.Store(parentRef)
	if !parentRef.CASPage(parent, next) {
		return nil // superseded by a concurrent grandparent split; abandon, caller retries
	}
	return nil
}

// splitInternal is the deep split: parent is broken into
// evenly sized siblings under a new level. parentRef (the Ref
// pointing at parent) transitions to RefSplit, so any reader still
// mid-descent through the superseded subtree restarts from the root
// rather than dereferencing a page about to be abandoned.
func (t *Btree) splitInternal(parent *page.Page, parentRef *page.Ref, grown []*page.Ref) error {
	const fanout = 2
	chunk := (len(grown) + fanout - 1) / fanout
	siblingRefs := make([]*page.Ref, 0, fanout)

	for i := 0; i < len(grown); i += chunk {
		end := i + chunk
		if end > len(grown) {
			end = len(grown)
		}
		children := append([]*page.Ref(nil), grown[i:end]...)
		sib := page.NewInternalPage(parent.Type, children)
		sib.SetWriteGen(parent.WriteGen() + 1)
		var key []byte
		var recno uint64
		if len(children) > 0 {
			key, recno = children[0].Key, children[0].Recno
		}
		ref := page.NewRef(key, recno, sib)
		sib.ParentRef.Store(ref)
		for _, c := range children {
			c.Home.Store(sib)
		}
		siblingRefs = append(siblingRefs, ref)
	}

	grandparent := parentRef.Home.Load()
	if grandparent == nil {
		// parentRef is t.Root itself (t.Root.Home is never set — it is
		// the tree's fixed entry point, not a child slot in any Refs
		// array): parent was the root, so the tree grows one level
		// taller.
		newRoot := page.NewInternalPage(parent.Type, siblingRefs)
		newRoot.SetWriteGen(parent.WriteGen() + 1)
		for _, r := range siblingRefs {
			r.Home.Store(newRoot)
		}
		newRoot.ParentRef.Store(t.Root)
		t.Root.SetPage(newRoot)
		return nil
	}

	// parentRef itself is superseded by len(siblingRefs) new refs: any
	// reader still holding it mid-walk must restart.
	parentRef.SetState(page.RefSplit)
	return t.growSiblings(grandparent, parentRef, siblingRefs)
}

// growSiblings replaces a single superseded Ref in grandparent's
// child array with the N new sibling Refs produced by a deep split.
func (t *Btree) growSiblings(grandparent *page.Page, oldRef *page.Ref, siblings []*page.Ref) error {
	pos := -1
	for i, r := range grandparent.Refs {
		if r == oldRef {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("grow siblings: ref not found")
	}
	grown := make([]*page.Ref, 0, len(grandparent.Refs)+len(siblings)-1)
	grown = append(grown, grandparent.Refs[:pos]...)
	grown = append(grown, siblings...)
	grown = append(grown, grandparent.Refs[pos+1:]...)

	next := page.NewInternalPage(grandparent.Type, grown)
	next.SetWriteGen(grandparent.WriteGen() + 1)
	for _, r := range grown {
		r.Home.Store(next)
	}

	ggRef := grandparent.ParentRef.Load()
	next.ParentRef.Store(ggRef)
	ggRef.CASPage(grandparent, next) // lost race: a concurrent split already superseded grandparent
	return nil
}
