package txn

import (
	"fmt"
	"sort"

	"github.com/cuemby/kvaerner/internal/kverr"
)

// Isolation selects the visibility rule a transaction reads under.
type Isolation int

const (
	ReadUncommitted Isolation = iota
	ReadCommitted
	Snapshot
)

func (i Isolation) String() string {
	switch i {
	case ReadUncommitted:
		return "read-uncommitted"
	case ReadCommitted:
		return "read-committed"
	case Snapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// State is a transaction's lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateCommitted
	StateAborted
)

// Transaction is a single session's MVCC transaction: an id, an
// isolation level, a snapshot of ids not yet visible, and the set of
// updates it has made so Commit/Rollback can finalize them.
type Transaction struct {
	ID        uint64
	Isolation Isolation
	State     State

	SnapMin uint64   // lowest id considered running when the snapshot was taken
	SnapMax uint64   // one past the highest id considered running
	ids     []uint64 // sorted ids excluded from visibility (running at snapshot time)

	global  *Global
	session *SessionState

	aborters []func()
}

// Begin starts a new transaction on session. No global id is
// allocated here — the id is assigned lazily on the transaction's
// first write, so read-only transactions never consume one. A
// snapshot is taken immediately for Snapshot and ReadCommitted
// isolation; ReadUncommitted never snapshots.
func Begin(global *Global, session *SessionState, isolation Isolation) *Transaction {
	t := &Transaction{
		Isolation: isolation,
		global:    global,
		session:   session,
	}
	if isolation != ReadUncommitted {
		t.takeSnapshot()
	}
	return t
}

func (t *Transaction) takeSnapshot() {
	running, current := t.global.RunningSnapshot()
	t.ids = running
	t.SnapMax = current
	if len(running) > 0 {
		t.SnapMin = running[0]
	} else {
		t.SnapMin = current
	}
	t.session.snapMin.Store(t.SnapMin)
}

// AssignID lazily allocates this transaction's global id on first
// write. Safe to call more than once; subsequent calls are no-ops.
func (t *Transaction) AssignID() uint64 {
	if t.ID != None {
		return t.ID
	}
	t.ID = t.global.AllocateID()
	t.session.runningID.Store(t.ID)
	return t.ID
}

// RecordUndo registers a rollback action to run if the transaction
// aborts (typically marking an Update's Aborted flag).
func (t *Transaction) RecordUndo(undo func()) {
	t.aborters = append(t.aborters, undo)
}

// Commit finalizes the transaction: clears its running-id publication
// so it stops excluding readers, and marks it committed. The caller
// is responsible for having durably logged the transaction's updates
// before calling Commit (internal/wal writes the commit record).
func (t *Transaction) Commit() error {
	if t.State != StateRunning {
		return fmt.Errorf("txn %d: commit: %w", t.ID, kverr.ErrRollback)
	}
	t.State = StateCommitted
	t.session.runningID.Store(None)
	t.session.snapMin.Store(None)
	return nil
}

// Rollback undoes every recorded update (marking update-chain entries
// aborted) and releases the transaction's running-id publication.
func (t *Transaction) Rollback() {
	if t.State != StateRunning {
		return
	}
	for i := len(t.aborters) - 1; i >= 0; i-- {
		t.aborters[i]()
	}
	t.State = StateAborted
	t.session.runningID.Store(None)
	t.session.snapMin.Store(None)
}

// Visible reports whether an update committed by transaction id is
// visible to t, per the rule in doc.go: own writes are always
// visible; for ReadUncommitted every id is visible; otherwise id must
// predate the snapshot's boundary and not be one of the ids that were
// still running when the snapshot was taken.
func (t *Transaction) Visible(id uint64) bool {
	if id == t.ID && id != None {
		return true
	}
	switch t.Isolation {
	case ReadUncommitted:
		return true
	default:
		if id >= t.SnapMax {
			return false
		}
		i := sort.Search(len(t.ids), func(i int) bool { return t.ids[i] >= id })
		if i < len(t.ids) && t.ids[i] == id {
			return false
		}
		return true
	}
}

// RefreshIfReadCommitted re-takes the snapshot before every cursor
// operation under read-committed isolation (SPEC_FULL.md C.5); it is
// a no-op for the other two isolation levels, whose snapshot (or lack
// of one) is fixed for the transaction's lifetime.
func (t *Transaction) RefreshIfReadCommitted() {
	if t.Isolation == ReadCommitted {
		t.takeSnapshot()
	}
}
