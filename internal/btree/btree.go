package btree

import (
	"fmt"
	"runtime"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/kverr"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/reconcile"
)

// Config sizes a tree per its config-string knobs.
type Config struct {
	LeafPageMax     int64
	InternalPageMax int64
	MemoryPageMax   int64
	SplitPct        int // percent of memory_page_max that triggers an in-memory split
	ColumnStore     bool
}

func DefaultConfig() Config {
	return Config{
		LeafPageMax:     32 * 1024,
		InternalPageMax: 4 * 1024,
		MemoryPageMax:   5 * 1024 * 1024,
		SplitPct:        75,
	}
}

// Btree is one open tree: a root Ref, the block manager it allocates
// pages from, the page-codec compressor used when reading disk
// images, and sizing config. One Btree exists per open file handle
// (see internal/meta for the handle-to-Btree table).
type Btree struct {
	Root       *page.Ref
	Block      *block.Manager
	Compressor codec.Compressor
	Config     Config

	hazards *page.Registry
}

func New(root *page.Ref, blk *block.Manager, compressor codec.Compressor, cfg Config, hazards *page.Registry) *Btree {
	if p := root.Page(); p != nil {
		p.ParentRef.Store(root)
	}
	return &Btree{Root: root, Block: blk, Compressor: compressor, Config: cfg, hazards: hazards}
}

// readIn reads ref's on-disk image and decodes it into a resident
// leaf page, installing it and flipping ref from RefReading (set by
// the caller's CAS) to RefMem. Called with exclusive ownership of ref
// already established, mirroring how eviction directly calls SetState
// once it holds a ref's equivalent exclusive claim.
func (t *Btree) readIn(ref *page.Ref) error {
	header, payload, err := codec.ReadPage(t.Block.File(), ref.Addr, t.Compressor)
	if err != nil {
		ref.SetState(page.RefDisk)
		return fmt.Errorf("btree: read in %s: %w", ref.Addr, err)
	}
	p, err := reconcile.DecodeLeaf(header, payload, t.readOverflow)
	if err != nil {
		ref.SetState(page.RefDisk)
		return fmt.Errorf("btree: read in %s: %w", ref.Addr, err)
	}
	p.Addr = ref.Addr
	p.ParentRef.Store(ref)
	ref.SetPage(p)
	ref.SetState(page.RefMem)
	return nil
}

// readOverflow reads back one overflow value block, used by
// reconcile.DecodeLeaf to resolve a cell it finds flagged as an
// out-of-page value.
func (t *Btree) readOverflow(c codec.Cookie) ([]byte, error) {
	header, payload, err := codec.ReadPage(t.Block.File(), c, t.Compressor)
	if err != nil {
		return nil, fmt.Errorf("btree: read overflow %s: %w", c, err)
	}
	if header.Type != codec.TypeOverflow {
		return nil, fmt.Errorf("btree: read overflow %s: unexpected page type %s", c, header.Type)
	}
	return payload, nil
}

// descend walks from ref down to the leaf that would contain key (row
// store) or recno (column store), publishing a hazard pointer on the
// leaf before returning it. Callers must call the returned release
// func. Returns kverr.ErrRestart if a concurrent split is observed;
// the caller re-enters at the root.
func (t *Btree) descend(hz *page.HazardSet, key []byte, recno uint64, byRecno bool) (leaf *page.Page, release func(), err error) {
	cur := t.Root
	for {
		switch cur.State() {
		case page.RefSplit:
			return nil, nil, kverr.ErrRestart
		case page.RefDeleted:
			return nil, nil, fmt.Errorf("descend: %w", kverr.ErrNotFound)
		case page.RefReading, page.RefLocked:
			// Another thread is reading this ref in, or holds it locked
			// for eviction/split. Spin until it resolves.
			runtime.Gosched()
		case page.RefDisk:
			if cur.CASState(page.RefDisk, page.RefReading) {
				if err := t.readIn(cur); err != nil {
					return nil, nil, err
				}
			}
		case page.RefMem:
			p := cur.Page()
			if p == nil {
				return nil, nil, kverr.ErrRestart
			}
			rel, ok := hz.Acquire(p)
			if !ok {
				return nil, nil, fmt.Errorf("descend: hazard set exhausted: %w", kverr.ErrBusy)
			}
			// Re-check the ref after publishing the hazard pointer: a
			// split that raced in right before Acquire is still visible.
			if cur.State() == page.RefSplit {
				rel()
				return nil, nil, kverr.ErrRestart
			}
			if isLeaf(p.Type) {
				return p, rel, nil
			}
			var idx int
			if byRecno {
				idx = p.SearchRefsRecno(recno)
			} else {
				idx = p.SearchRefs(key)
			}
			next := p.Refs[idx]
			rel()
			cur = next
		default:
			return nil, nil, fmt.Errorf("descend: ref in unknown state %d", cur.State())
		}
	}
}

func isLeaf(t codec.Type) bool {
	switch t {
	case codec.TypeLeafRow, codec.TypeLeafColFix, codec.TypeLeafColVar:
		return true
	default:
		return false
	}
}

// Search finds the leaf page that would contain key, retrying the
// whole descent on ErrRestart (a split raced with the walk). Returns
// the leaf with a live hazard pointer held via hz; callers must call
// release when done.
func Search(t *Btree, hz *page.HazardSet, key []byte) (leaf *page.Page, release func(), err error) {
	for {
		leaf, release, err = t.descend(hz, key, 0, false)
		if err == kverr.ErrRestart {
			continue
		}
		return leaf, release, err
	}
}

// SearchRecno is Search for a column-store tree, descending on record
// number instead of key bytes.
func SearchRecno(t *Btree, hz *page.HazardSet, recno uint64) (leaf *page.Page, release func(), err error) {
	for {
		leaf, release, err = t.descend(hz, nil, recno, true)
		if err == kverr.ErrRestart {
			continue
		}
		return leaf, release, err
	}
}

// maybeSplit checks whether leaf has grown past the in-memory split
// threshold and, if so, performs an in-memory split. Called by the
// cursor after any insert that grows the page.
func (t *Btree) maybeSplit(leaf *page.Page, ref *page.Ref) error {
	threshold := t.Config.MemoryPageMax * int64(t.Config.SplitPct) / 100
	if leaf.MemSize() < threshold {
		return nil
	}
	return t.splitLeaf(leaf, ref)
}
