package page

import (
	"sync/atomic"

	"github.com/cuemby/kvaerner/internal/codec"
)

// RefState is a child slot's lifecycle state. All transitions are
// CAS-driven.
type RefState int32

const (
	RefDisk RefState = iota // on disk only, not yet read in
	RefReading               // a thread is reading the image in
	RefLocked                // exclusively held (eviction or split)
	RefMem                   // resident, Page is safe to dereference after a hazard pointer
	RefDeleted               // logically removed, no backing page
	RefSplit                 // page split away; reader must restart from the root
)

// Ref is an internal page's slot referring to one child.
type Ref struct {
	Addr codec.Cookie

	state RefState // atomic via CAS helpers below
	page  atomic.Pointer[Page]

	// Home is the non-owning back-reference to the parent page this
	// Ref lives in. It is fixed up under the parent's split-lock
	// whenever a deep split rehomes the Ref into a new parent.
	Home atomic.Pointer[Page]

	// Key/Recno is this child's smallest key (row store) or starting
	// recno (column store), used by internal-page search.
	Key   []byte
	Recno uint64
}

func (r *Ref) State() RefState { return RefState(atomic.LoadInt32((*int32)(&r.state))) }

func (r *Ref) CASState(from, to RefState) bool {
	return atomic.CompareAndSwapInt32((*int32)(&r.state), int32(from), int32(to))
}

func (r *Ref) SetState(s RefState) { atomic.StoreInt32((*int32)(&r.state), int32(s)) }

func (r *Ref) Page() *Page { return r.page.Load() }

func (r *Ref) SetPage(p *Page) { r.page.Store(p) }

// CASPage swaps in a new copy-on-write page image for this Ref,
// succeeding only if no concurrent writer has already replaced old.
// Used when growing a parent's child array: the new Page object
// carries the extended Refs slice; readers holding a hazard pointer
// to the superseded image finish their current operation against it
// undisturbed.
func (r *Ref) CASPage(old, new *Page) bool { return r.page.CompareAndSwap(old, new) }

// NewRef builds a child slot in RefMem state, used by splits to
// install a freshly built sibling page.
func NewRef(key []byte, recno uint64, p *Page) *Ref {
	r := &Ref{Key: key, Recno: recno, state: RefMem}
	r.page.Store(p)
	return r
}

// NewDiskRef builds a child slot in RefDisk state, pointing at addr
// but with no resident Page: used to bootstrap a tree's root (or a
// reattached table's root) from a previously checkpointed on-disk
// address without reading it in until a descent first reaches it.
func NewDiskRef(key []byte, recno uint64, addr codec.Cookie) *Ref {
	return &Ref{Key: key, Recno: recno, Addr: addr, state: RefDisk}
}
