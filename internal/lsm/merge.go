package lsm

import (
	"fmt"

	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/txn"
)

// mergeRun rewrites run (ordered newest first, as returned by
// mergeableRun) into a single new chunk, retiring run's originals to
// the old-chunks list once the new chunk is flushed and bloom-built.
// Tombstones are dropped only when run reaches the oldest chunk in
// the whole roster — otherwise a chunk outside the run might still
// carry an older, now-superseded copy of the same key that must stay
// shadowed.
func (t *Tree) mergeRun(run []*Chunk) error {
	dropTombstones := t.isOldestRun(run)

	tree, blk, err := t.open(newChunkID())
	if err != nil {
		return fmt.Errorf("lsm: merge: open output chunk: %w", err)
	}
	out := NewChunk(tree, blk)

	session := t.global.NewSession()
	hz := t.hz.Register()
	defer t.hz.Unregister(hz)

	readTxn := txn.Begin(t.global, session, txn.Snapshot)
	cursors := make([]*chunkCursor, len(run))
	for i, c := range run {
		cc := &chunkCursor{chunk: c, cur: btree.NewCursor(c.Tree, readTxn, hz)}
		ok, err := cc.cur.First()
		if err != nil {
			return fmt.Errorf("lsm: merge: position chunk %s: %w", c.ID, err)
		}
		cc.ok = ok
		cursors[i] = cc
	}
	defer func() {
		for _, cc := range cursors {
			cc.cur.Close()
		}
	}()

	writeTxn := txn.Begin(t.global, session, txn.Snapshot)
	writeCursor := btree.NewCursor(out.Tree, writeTxn, hz)
	defer writeCursor.Close()

	merged := &Cursor{cursors: cursors}
	for {
		winners := merged.minKeyCursors()
		if len(winners) == 0 {
			break
		}

		key, value, visible := winners[0].cur.Value()
		key = append([]byte(nil), key...)
		value = append([]byte(nil), value...)
		for _, cc := range winners {
			ok, err := cc.cur.Next()
			if err != nil {
				return fmt.Errorf("lsm: merge: advance chunk %s: %w", cc.chunk.ID, err)
			}
			cc.ok = ok
		}

		if visible {
			if err := writeCursor.Insert(key, value); err != nil {
				return fmt.Errorf("lsm: merge: insert %x: %w", key, err)
			}
		} else if !dropTombstones {
			if err := writeCursor.Remove(key); err != nil {
				return fmt.Errorf("lsm: merge: carry tombstone %x: %w", key, err)
			}
		}
	}

	if err := writeTxn.Commit(); err != nil {
		return fmt.Errorf("lsm: merge: commit output chunk: %w", err)
	}

	if err := t.flushChunk(out); err != nil {
		return fmt.Errorf("lsm: merge: flush output chunk: %w", err)
	}

	t.replaceRun(run, out)
	return nil
}
