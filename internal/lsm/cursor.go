package lsm

import (
	"bytes"

	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
)

// Get is a point lookup across every chunk of t, newest first: the
// first chunk whose key range actually holds key decides the result,
// whether that is a visible value or a tombstone (an older chunk's
// copy of the same key is no longer current). A flushed chunk whose
// bloom filter rules out key is skipped without a tree descent.
func Get(t *Tree, tr *txn.Transaction, hz *page.HazardSet, key []byte) (value []byte, ok bool, err error) {
	for _, c := range t.Chunks() {
		if b := c.Bloom(); b != nil && !b.MayContain(key) {
			continue
		}
		cur := btree.NewCursor(c.Tree, tr, hz)
		exact, err := cur.Seek(key)
		if err != nil {
			cur.Close()
			return nil, false, err
		}
		if !exact {
			cur.Close()
			continue
		}
		_, val, visible := cur.Value()
		cur.Close()
		if visible {
			return val, true, nil
		}
		return nil, false, nil
	}
	return nil, false, nil
}

// chunkCursor is one chunk's cursor within a merged scan, plus
// whether it is still positioned on a row.
type chunkCursor struct {
	chunk *Chunk
	cur   *btree.Cursor
	ok    bool
}

// Cursor iterates every chunk of a tree in parallel, newest first,
// returning the newest visible update per key.
type Cursor struct {
	cursors []*chunkCursor

	key   []byte
	value []byte
	ok    bool
}

// NewCursor opens one per-chunk btree.Cursor sharing transaction and
// hazard set. Close must be called once the scan is done.
func NewCursor(t *Tree, tr *txn.Transaction, hz *page.HazardSet) *Cursor {
	chunks := t.Chunks()
	cursors := make([]*chunkCursor, len(chunks))
	for i, c := range chunks {
		c.Acquire()
		cursors[i] = &chunkCursor{chunk: c, cur: btree.NewCursor(c.Tree, tr, hz)}
	}
	return &Cursor{cursors: cursors}
}

func (c *Cursor) Close() {
	for _, cc := range c.cursors {
		cc.cur.Close()
		cc.chunk.Release()
	}
}

// First positions the cursor at the smallest visible key across every
// chunk.
func (c *Cursor) First() (bool, error) {
	for _, cc := range c.cursors {
		ok, err := cc.cur.First()
		if err != nil {
			return false, err
		}
		cc.ok = ok
	}
	return c.settle()
}

// Next advances past the current key to the next distinct visible
// key.
func (c *Cursor) Next() (bool, error) {
	return c.settle()
}

// Value returns the cursor's current key/value, matching
// internal/btree.Cursor.Value's shape.
func (c *Cursor) Value() (key, value []byte, ok bool) {
	return c.key, c.value, c.ok
}

// settle advances every chunk cursor tied at the smallest pending key
// to the next row, keeping the newest chunk's value for that key, and
// repeats while the winner is a tombstone (so a deleted key is never
// surfaced, only skipped).
func (c *Cursor) settle() (bool, error) {
	for {
		winners := c.minKeyCursors()
		if len(winners) == 0 {
			c.key, c.value, c.ok = nil, nil, false
			return false, nil
		}

		key, value, visible := winners[0].cur.Value()
		for _, cc := range winners {
			ok, err := cc.cur.Next()
			if err != nil {
				return false, err
			}
			cc.ok = ok
		}

		if visible {
			c.key, c.value, c.ok = key, value, true
			return true, nil
		}
	}
}

// minKeyCursors returns every still-positioned chunk cursor currently
// at the smallest key, ordered newest chunk first so callers can take
// winners[0] as the authoritative value.
func (c *Cursor) minKeyCursors() []*chunkCursor {
	var min []byte
	var winners []*chunkCursor
	for _, cc := range c.cursors {
		if !cc.ok {
			continue
		}
		key, _, _ := cc.cur.Value()
		switch {
		case min == nil || bytes.Compare(key, min) < 0:
			min = key
			winners = []*chunkCursor{cc}
		case bytes.Equal(key, min):
			winners = append(winners, cc)
		}
	}
	return winners
}
