package kv

import (
	"bytes"
	"fmt"

	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/lsm"
	"github.com/cuemby/kvaerner/internal/recovery"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/cuemby/kvaerner/internal/wal"
)

// Cursor is a positioned iterator over one table, backed by either an
// internal/btree.Cursor (file: tables) or an internal/lsm.Cursor
// (lsm: tables). Not safe for concurrent use; a Session's cursors may
// only be used from the goroutine that owns the Session, since they
// share its hazard-pointer slot.
type Cursor struct {
	session *Session
	uri     string

	tree    *btree.Btree
	lsmTree *lsm.Tree

	bc *btree.Cursor
	lc *lsm.Cursor

	txn     *txn.Transaction
	ownsTxn bool // true when OpenCursor had no explicit session transaction to share
}

// Close releases the cursor's underlying position and, if it owned
// its read transaction (no explicit session transaction was active),
// rolls it back to release the session's snapshot membership.
func (c *Cursor) Close() {
	if c.lc != nil {
		c.lc.Close()
	} else {
		c.bc.Close()
	}
	if c.ownsTxn {
		c.txn.Rollback()
	}
}

// Value returns the cursor's current key/value and whether it is
// visible (not a tombstone).
func (c *Cursor) Value() (key, value []byte, ok bool) {
	if c.lc != nil {
		return c.lc.Value()
	}
	return c.bc.Value()
}

// First positions the cursor at the smallest visible key.
func (c *Cursor) First() (bool, error) {
	if c.lc != nil {
		return c.lc.First()
	}
	return c.bc.First()
}

// Next advances to the next visible key.
func (c *Cursor) Next() (bool, error) {
	if c.lc != nil {
		return c.lc.Next()
	}
	return c.bc.Next()
}

// Prev moves to the previous visible key. Not implemented for lsm:
// tables, whose merged cursor (internal/lsm.Cursor) only scans
// forward.
func (c *Cursor) Prev() (bool, error) {
	if c.lc != nil {
		return false, fmt.Errorf("kvaerner: prev on %s: %w", c.uri, ErrUnsupported)
	}
	return c.bc.Prev()
}

// Seek positions the cursor at the first row with key >= target,
// reporting whether an exact match was found. An lsm: table has no
// native seek (internal/lsm.Cursor only scans from First), so it is
// emulated by scanning forward from the start — acceptable for the
// point lookups and bounded scans the CLI and tests use it for, but
// not a substitute for a real index seek on a large table.
func (c *Cursor) Seek(key []byte) (exact bool, err error) {
	if c.bc != nil {
		return c.bc.Seek(key)
	}
	ok, err := c.lc.First()
	if err != nil {
		return false, err
	}
	for ok {
		k, _, _ := c.lc.Value()
		if bytes.Compare(k, key) >= 0 {
			break
		}
		ok, err = c.lc.Next()
		if err != nil {
			return false, err
		}
	}
	if !ok {
		return false, nil
	}
	k, _, _ := c.lc.Value()
	return bytes.Equal(k, key), nil
}

// Insert writes value for key. Remove logically deletes key.
func (c *Cursor) Insert(key, value []byte) error { return c.write(key, value, false) }
func (c *Cursor) Remove(key []byte) error        { return c.write(key, nil, true) }

// write performs one autocommit write (its own begin/log/commit) if
// no explicit session transaction is running, or joins the session's
// open transaction otherwise — only logging the op record, leaving
// Session.Commit to log the single commit record for every op the
// transaction made.
func (c *Cursor) write(key, value []byte, tombstone bool) error {
	db := c.session.db
	s := c.session

	s.mu.Lock()
	explicit := s.txn
	s.mu.Unlock()

	autocommit := explicit == nil
	tr := explicit
	if autocommit {
		tr = txn.Begin(db.global, s.state, s.isolation)
	}

	var tree *btree.Btree
	uri := c.uri
	if c.lc != nil {
		tree = c.lsmTree.Primary().Tree
		uri = c.lsmTree.URI
	} else {
		tree = c.tree
	}

	wc := btree.NewCursor(tree, tr, s.hz)
	defer wc.Close()

	var opErr error
	if tombstone {
		opErr = wc.Remove(key)
	} else {
		opErr = wc.Insert(key, value)
	}
	if opErr != nil {
		if autocommit {
			db.rollbackTxn(tr)
		}
		return opErr
	}

	var payload []byte
	if tombstone {
		payload = recovery.EncodeRemove(tr.ID, uri, key)
	} else {
		payload = recovery.EncodePut(tr.ID, uri, key, value)
	}
	if _, err := db.log.Append(payload, wal.SyncFlags{}); err != nil {
		if autocommit {
			db.rollbackTxn(tr)
		}
		return fmt.Errorf("kvaerner: write %s: wal append: %w", uri, err)
	}

	if autocommit {
		return db.commitTxn(tr)
	}
	return nil
}
