package checkpoint

import (
	"fmt"

	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/reconcile"
)

// flushTree walks t's entire resident tree from the root and
// reconciles every dirty leaf under oldest, in place: unlike
// internal/cache's eviction pass, the page stays resident afterward —
// only its on-disk image and dirty bit change. It returns how many
// leaves were actually flushed.
func (c *Checkpointer) flushTree(t *Tree, oldest uint64) (int, error) {
	flushed := 0
	queue := []*page.Ref{t.Root}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		if ref.State() != page.RefMem {
			continue
		}
		p := ref.Page()
		if p == nil {
			continue
		}
		if len(p.Refs) > 0 {
			// Internal page: walk its children. Bottom-up here means
			// leaves are flushed (and their parent Ref.Addr fixed up)
			// before the checkpoint considers itself done with this
			// tree, but this implementation never reconciles an internal
			// page's own on-disk image — internal/reconcile only knows
			// how to rewrite a leaf's entries (see DESIGN.md). An
			// internal page's authoritative state stays in memory for
			// the life of the process; only leaves round-trip to disk.
			queue = append(queue, p.Refs...)
			continue
		}

		ok, err := c.flushLeaf(t, ref, p, oldest)
		if err != nil {
			return flushed, err
		}
		if ok {
			flushed++
		}
	}
	return flushed, nil
}

// flushLeaf reconciles one dirty leaf under oldest and, if
// reconciliation did not have to leave it dirty, installs the new
// on-disk address and clears the dirty bit. The page remains resident
// either way.
func (c *Checkpointer) flushLeaf(t *Tree, ref *page.Ref, p *page.Page, oldest uint64) (bool, error) {
	if !p.IsDirty() {
		return false, nil
	}
	if !p.TryLockScanning() {
		// Another thread holds this page's Scanning flag. Eviction and
		// splits take their own flags (Evicting, Splitting), which this
		// check does not look at. The page is picked up by the next
		// checkpoint pass if it is still dirty.
		return false, nil
	}
	defer p.ClearFlag(page.FlagScanning)

	// Re-check under the lock: eviction may have raced in and already
	// cleaned (or removed) this page before the CAS above.
	if !p.IsDirty() || ref.State() != page.RefMem {
		return false, nil
	}

	result, err := reconcile.Reconcile(p, t.Block, t.Compressor, oldest, c.cfg.Reconcile)
	if err != nil {
		return false, fmt.Errorf("flush leaf: %w", err)
	}
	if result.LeaveDirty {
		return false, nil
	}

	if len(result.Boundaries) > 0 {
		// If reconciliation produced more than one boundary, the leaf
		// grew past a single page image since it was last reconciled.
		// Only the first image is addressable until the btree layer's
		// in-memory split actually runs; the checkpoint does not
		// restructure the tree itself.
		ref.Addr = result.Boundaries[0].Addr
	}
	p.ClearDirty()
	return true, nil
}
