package page

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/kvaerner/internal/codec"
)

// Flag bits on Page.flags, CAS-driven.
const (
	FlagSplitting uint32 = 1 << iota // in-memory or deep split in progress; single-threads the page
	FlagScanning                     // reconciliation in progress; excludes concurrent eviction
	FlagEvicting                     // eviction has locked this page for reconciliation
	FlagNoEviction                   // e.g. the metadata page: always skipped by the eviction server
)

// Entry is one on-page logical row: its key (row store) or nothing
// (column store, where position implies the key), a base value
// decoded from the disk image, and the update chain layered over it.
type Entry struct {
	Key   []byte // nil for column-store entries
	Base  []byte // decoded on-disk value; nil if the on-page cell is a tombstone
	Chain Chain
}

// Modify holds everything a dirty page needs for reconciliation:
// overflow-value bookkeeping and the eventual new disk
// image addresses. Reconciliation single-threads access to it via the
// page's Scanning flag, so its internals use a plain mutex rather
// than lock-free structures.
type Modify struct {
	mu sync.Mutex

	// OverflowReuse deduplicates identical overflow writes within one
	// reconciliation, keyed by the value's bytes.
	OverflowReuse map[string]codec.Cookie

	// OverflowTxnCache retains overflow values, keyed by their block
	// address, long enough for snapshot readers after the value was
	// logically removed from the page.
	OverflowTxnCache map[codec.Cookie][]byte

	// OverflowDiscard lists overflow cells whose backing blocks must be
	// freed once this reconciliation's new image set is committed.
	OverflowDiscard []codec.Cookie

	// PageImages is the set of (key-or-recno, cookie) boundaries this
	// reconciliation produced; written at commit time.
	PageImages []Boundary

	WriteGen uint64
}

// Boundary is a provisional split point recorded during
// reconciliation: the on-disk address of one output page image plus
// the first key (row) or recno (column) it covers.
type Boundary struct {
	Addr       codec.Cookie
	FirstKey   []byte
	FirstRecno uint64
	Entries    int
}

func NewModify() *Modify {
	return &Modify{
		OverflowReuse:    make(map[string]codec.Cookie),
		OverflowTxnCache: make(map[codec.Cookie][]byte),
	}
}

func (m *Modify) Lock()   { m.mu.Lock() }
func (m *Modify) Unlock() { m.mu.Unlock() }

// Page is an in-memory node of a per-btree B-tree.
type Page struct {
	Type codec.Type

	// Addr is this page's on-disk image pointer, valid when the page
	// is clean (no Modify) or has not yet been written back after its
	// most recent change.
	Addr codec.Cookie

	// ParentRef is the non-owning back-reference to the Ref (in the
	// parent internal page) that points to this page. Fixed up under
	// the parent's split lock by deep splits.
	ParentRef atomic.Pointer[Ref]

	readGen  atomic.Uint64
	memSize  atomic.Int64
	writeGen atomic.Uint64
	flags    atomic.Uint32
	splitGen atomic.Uint64

	modify atomic.Pointer[Modify]

	// Leaf row / leaf col-var: on-page entries plus the insert list for
	// keys/recnos between or past them.
	Entries []Entry
	Inserts InsertList

	// Leaf col-fix: a packed bit/byte field decoded into Base, one
	// Chain per slot (no per-entry Key; position is the key).
	FixedWidth int // bits per value; 0 if this is not a col-fix leaf

	// Column-store leaves/internals: the smallest recno on this page.
	StartRecno uint64

	// Internal row/col: children, ordered by key or start recno.
	Refs []*Ref
}

func NewLeafPage(typ codec.Type) *Page {
	return &Page{Type: typ}
}

func NewInternalPage(typ codec.Type, refs []*Ref) *Page {
	return &Page{Type: typ, Refs: refs}
}

func (p *Page) ReadGen() uint64      { return p.readGen.Load() }
func (p *Page) SetReadGen(v uint64)  { p.readGen.Store(v) }
func (p *Page) MemSize() int64       { return p.memSize.Load() }
func (p *Page) AddMemSize(d int64)   { p.memSize.Add(d) }
func (p *Page) WriteGen() uint64     { return p.writeGen.Load() }
func (p *Page) SetWriteGen(v uint64) { p.writeGen.Store(v) }
func (p *Page) SplitGen() uint64     { return p.splitGen.Load() }
func (p *Page) BumpSplitGen() uint64 { return p.splitGen.Add(1) }

func (p *Page) Modify() *Modify { return p.modify.Load() }

// MarkDirty installs a fresh Modify record if the page is currently
// clean, and returns it either way.
func (p *Page) MarkDirty() *Modify {
	for {
		if m := p.modify.Load(); m != nil {
			return m
		}
		m := NewModify()
		if p.modify.CompareAndSwap(nil, m) {
			return m
		}
	}
}

func (p *Page) ClearDirty() { p.modify.Store(nil) }

func (p *Page) IsDirty() bool { return p.modify.Load() != nil }

func (p *Page) flagSet(bit uint32) bool {
	for {
		old := p.flags.Load()
		if old&bit != 0 {
			return false
		}
		if p.flags.CompareAndSwap(old, old|bit) {
			return true
		}
	}
}

func (p *Page) ClearFlag(bit uint32) {
	for {
		old := p.flags.Load()
		if old&bit == 0 {
			return
		}
		if p.flags.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

func (p *Page) HasFlag(bit uint32) bool { return p.flags.Load()&bit != 0 }

// TryLockSplitting CASes the Splitting flag on, returning false if
// another thread already holds it. The Evicting and Scanning flags are
// not checked.
func (p *Page) TryLockSplitting() bool { return p.flagSet(FlagSplitting) }

func (p *Page) TryLockScanning() bool { return p.flagSet(FlagScanning) }

func (p *Page) TryLockEvicting() bool { return p.flagSet(FlagEvicting) }
