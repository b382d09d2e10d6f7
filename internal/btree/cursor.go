package btree

import (
	"bytes"
	"fmt"

	"github.com/cuemby/kvaerner/internal/kverr"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
)

// Cursor is a positioned, row-or-column-store iterator over one
// Btree. Every positioning operation re-resolves hazard pointers and
// retries on ErrRestart; a Cursor must not be shared across
// goroutines.
type Cursor struct {
	tree *Btree
	txn  *txn.Transaction
	hz   *page.HazardSet

	leaf    *page.Page
	leafRef *page.Ref
	release func()

	rows []row // materialized, visible rows of the current leaf
	pos  int
}

type row struct {
	key     []byte
	idx     int          // position in leaf.Entries, -1 if this row came from Inserts
	update  *page.Update // nil means "value is Entries[idx].Base", non-nil value/tombstone otherwise
	deleted bool
}

func NewCursor(t *Btree, transaction *txn.Transaction, hz *page.HazardSet) *Cursor {
	return &Cursor{tree: t, txn: transaction, hz: hz}
}

func (c *Cursor) Close() {
	if c.release != nil {
		c.release()
		c.release = nil
	}
}

func logicalKey(leaf *page.Page, idx int) []byte {
	if leaf.Entries[idx].Key != nil {
		return leaf.Entries[idx].Key
	}
	return page.RecnoKey(leaf.StartRecno + uint64(idx))
}

// loadLeaf positions the cursor on the leaf containing key (row
// store) or recno (column store) and materializes its visible rows in
// order.
func (c *Cursor) loadLeaf(key []byte, recno uint64, byRecno bool) error {
	c.Close()
	c.txn.RefreshIfReadCommitted()

	var leaf *page.Page
	var release func()
	var err error
	if byRecno {
		leaf, release, err = SearchRecno(c.tree, c.hz, recno)
	} else {
		leaf, release, err = Search(c.tree, c.hz, key)
	}
	if err != nil {
		return err
	}
	c.leaf = leaf
	c.release = release
	c.leafRef = leaf.ParentRef.Load()
	c.materialize()
	return nil
}

func (c *Cursor) materialize() {
	visible := c.txn.Visible
	c.rows = c.rows[:0]

	var inserts []*page.InsertNode
	c.leaf.Inserts.Range(func(n *page.InsertNode) bool { inserts = append(inserts, n); return true })

	ei, ii := 0, 0
	for ei < len(c.leaf.Entries) || ii < len(inserts) {
		var useEntry bool
		switch {
		case ei >= len(c.leaf.Entries):
			useEntry = false
		case ii >= len(inserts):
			useEntry = true
		default:
			useEntry = bytes.Compare(logicalKey(c.leaf, ei), inserts[ii].Key) <= 0
		}

		if useEntry {
			u := page.VisibleTo(c.leaf.Entries[ei].Chain.Head(), visible)
			r := row{key: logicalKey(c.leaf, ei), idx: ei, update: u}
			if u != nil {
				r.deleted = u.Tombstone
			} else if c.leaf.Entries[ei].Base == nil {
				r.deleted = true
			}
			c.rows = append(c.rows, r)
			ei++
		} else {
			n := inserts[ii]
			u := page.VisibleTo(n.Chain.Head(), visible)
			if u != nil {
				c.rows = append(c.rows, row{key: n.Key, idx: -1, update: u, deleted: u.Tombstone})
			}
			ii++
		}
	}
}

// Value returns the cursor's current key/value pair and whether it is
// visible (not a tombstone). The caller must have positioned the
// cursor with Seek/First/Next/Prev first.
func (c *Cursor) Value() (key, value []byte, ok bool) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, nil, false
	}
	r := c.rows[c.pos]
	if r.deleted {
		return r.key, nil, false
	}
	if r.update != nil {
		return r.key, r.update.Value, true
	}
	return r.key, c.leaf.Entries[r.idx].Base, true
}

// Seek positions the cursor at the first row with key >= target and
// reports whether an exact match was found.
func (c *Cursor) Seek(key []byte) (exact bool, err error) {
	if err := c.loadLeaf(key, 0, false); err != nil {
		return false, err
	}
	c.pos = 0
	for c.pos < len(c.rows) && bytes.Compare(c.rows[c.pos].key, key) < 0 {
		c.pos++
	}
	if c.pos < len(c.rows) && bytes.Equal(c.rows[c.pos].key, key) {
		return true, nil
	}
	return false, nil
}

// Insert writes value for key under c.txn, creating a new row or
// pushing onto an existing update chain. If the key's newest update
// belongs to another, non-aborted transaction that c.txn cannot see,
// the write is a write-write conflict (kverr.ErrRollback).
func (c *Cursor) Insert(key, value []byte) error {
	return c.write(key, value, false)
}

// Remove logically deletes key by pushing a tombstone update.
func (c *Cursor) Remove(key []byte) error {
	return c.write(key, nil, true)
}

func (c *Cursor) write(key, value []byte, tombstone bool) error {
	if err := c.loadLeaf(key, 0, false); err != nil {
		return err
	}
	c.txn.AssignID()

	idx, found := c.leaf.SearchEntries(key)
	var chain *page.Chain
	if found {
		chain = &c.leaf.Entries[idx].Chain
	} else {
		st, exact := c.leaf.Inserts.Search(key)
		if exact != nil {
			chain = &exact.Chain
		} else {
			node, ok := c.leaf.Inserts.InsertCAS(key, st)
			if !ok {
				// concurrent insert raced in; caller retries the whole op
				return kverr.ErrRestart
			}
			chain = &node.Chain
		}
	}

	head := chain.Head()
	if head != nil && !head.Aborted.Load() && head.TxnID != c.txn.ID && !c.txn.Visible(head.TxnID) {
		return fmt.Errorf("write %q: %w", key, kverr.ErrRollback)
	}

	u := page.NewUpdate(c.txn.ID, value, tombstone)
	if !chain.PushIfHeadUnchanged(u, head) {
		return kverr.ErrRestart
	}
	c.leaf.MarkDirty()
	c.txn.RecordUndo(func() { u.Aborted.Store(true) })
	c.leaf.AddMemSize(u.Size())

	return c.tree.maybeSplit(c.leaf, c.leafRef)
}

// Next advances to the following visible row, descending into the
// right sibling leaf if the current one is exhausted.
func (c *Cursor) Next() (bool, error) {
	c.pos++
	for c.pos >= len(c.rows) {
		if err := c.toSiblingLeaf(true); err != nil {
			return false, err
		}
		if c.leaf == nil {
			return false, nil
		}
		c.pos = 0
	}
	return true, nil
}

// Prev is the mirror of Next.
func (c *Cursor) Prev() (bool, error) {
	c.pos--
	for c.pos < 0 {
		if err := c.toSiblingLeaf(false); err != nil {
			return false, err
		}
		if c.leaf == nil {
			return false, nil
		}
		c.pos = len(c.rows) - 1
	}
	return true, nil
}

// toSiblingLeaf moves the cursor to the next (forward=true) or
// previous leaf in key order by re-descending from the root with a
// probe just past the current leaf's last key (forward) or just
// before its first key (backward, via decrementKey).
// This keeps the cursor lock-free and restart-safe at the cost of a
// full top-down walk per leaf boundary crossing.
func (c *Cursor) toSiblingLeaf(forward bool) error {
	if len(c.rows) == 0 {
		c.leaf = nil
		return nil
	}
	prior := c.leaf
	var probe []byte
	if forward {
		probe = append([]byte(nil), c.rows[len(c.rows)-1].key...)
		probe = append(probe, 0x00)
	} else {
		probe = decrementKey(c.rows[0].key)
	}

	if err := c.loadLeaf(probe, 0, false); err != nil {
		return err
	}
	if c.leaf == prior || len(c.rows) == 0 {
		// No sibling holds data beyond the probe: this was the last
		// (or first, walking backward) leaf in the tree.
		c.leaf = nil
	}
	return nil
}

// First positions the cursor at the smallest visible key in the tree.
func (c *Cursor) First() (bool, error) {
	if err := c.loadLeaf(nil, 0, false); err != nil {
		return false, err
	}
	c.pos = 0
	return len(c.rows) > 0, nil
}

// decrementKey produces a byte string guaranteed to sort before key,
// used to probe for the leaf preceding key's leaf during Prev. It is
// not a true predecessor (lexicographic order has no immediate
// predecessor in general) — only a routing aid, good enough to find
// the previous leaf boundary for the monotonically-assigned keys this
// engine expects in practice.
func decrementKey(key []byte) []byte {
	out := append([]byte(nil), key...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] > 0 {
			out[i]--
			return out[:i+1]
		}
		out = out[:i]
	}
	return nil
}
