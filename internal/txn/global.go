package txn

import (
	"sort"
	"sync"
	"sync/atomic"
)

// None is the reserved "no transaction id" value: sessions that have
// not yet made a write, and updates visible to everyone, use it.
const None uint64 = 0

// FirstID is the first id ever handed out; ids below it never exist,
// which lets oldest-id start at FirstID with no special-casing.
const FirstID uint64 = 1

// SessionState is one session's contribution to the global table:
// its currently-running transaction id (None if read-only or idle)
// and the snap_min it published at transaction begin.
type SessionState struct {
	runningID atomic.Uint64
	snapMin   atomic.Uint64
	active    atomic.Bool
}

func (s *SessionState) RunningID() uint64 { return s.runningID.Load() }
func (s *SessionState) SnapMin() uint64   { return s.snapMin.Load() }

// Global is the process-wide transaction table. One instance per
// open database.
type Global struct {
	currentID atomic.Uint64
	oldestID  atomic.Uint64

	scanCount atomic.Int32 // CAS-guarded: excludes concurrent oldest-id rewriters

	mu       sync.Mutex
	sessions map[*SessionState]struct{}
}

func NewGlobal() *Global {
	g := &Global{sessions: make(map[*SessionState]struct{})}
	g.currentID.Store(FirstID)
	g.oldestID.Store(FirstID)
	return g
}

// NewSession registers a new per-session slot in the global table.
func (g *Global) NewSession() *SessionState {
	s := &SessionState{}
	g.mu.Lock()
	g.sessions[s] = struct{}{}
	g.mu.Unlock()
	return s
}

func (g *Global) CloseSession(s *SessionState) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
}

// AllocateID hands out the next transaction id, called lazily on a
// session's first write (read-only transactions may never call this).
func (g *Global) AllocateID() uint64 {
	return g.currentID.Add(1) - 1
}

func (g *Global) CurrentID() uint64 { return g.currentID.Load() }
func (g *Global) OldestID() uint64  { return g.oldestID.Load() }

// RunningSnapshot returns every currently-running id and the current
// id, used to build a new snapshot-isolation transaction's view.
func (g *Global) RunningSnapshot() (running []uint64, currentID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for s := range g.sessions {
		if id := s.RunningID(); id != None {
			running = append(running, id)
		}
	}
	sort.Slice(running, func(i, j int) bool { return running[i] < running[j] })
	return running, g.currentID.Load()
}

// UpdateOldest recomputes and publishes oldest_id as the minimum of
// every running id and every published snap_min, using a CAS-guarded
// scan counter so only one thread actually rewrites the published
// value at a time (concurrent callers simply see the scan through and
// return without contributing a second write). oldest_id never
// decreases.
func (g *Global) UpdateOldest() uint64 {
	if !g.scanCount.CompareAndSwap(0, 1) {
		return g.oldestID.Load()
	}
	defer g.scanCount.Store(0)

	min := g.currentID.Load()
	g.mu.Lock()
	for s := range g.sessions {
		if id := s.RunningID(); id != None && id < min {
			min = id
		}
		if sm := s.SnapMin(); sm != None && sm < min {
			min = sm
		}
	}
	g.mu.Unlock()

	for {
		cur := g.oldestID.Load()
		if min <= cur {
			return cur
		}
		if g.oldestID.CompareAndSwap(cur, min) {
			return min
		}
	}
}
