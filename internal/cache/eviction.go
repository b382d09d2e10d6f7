package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/reconcile"
)

// candidate is one sampled page, scored for eviction.
type candidate struct {
	tree *Tree
	ref  *page.Ref
	page *page.Page
	score uint64
}

// runPass samples up to cfg.SampleSize resident pages per registered
// tree, sorts the combined sample by score ascending, and hands the
// bottom quartile to the worker pool. It returns how many pages were
// actually freed.
func (c *Cache) runPass() (int, error) {
	var sample []candidate
	for _, t := range c.snapshotTrees() {
		if t.NoEviction {
			continue
		}
		sample = append(sample, c.sampleTree(t)...)
	}
	if len(sample) == 0 {
		return 0, nil
	}

	sort.Slice(sample, func(i, j int) bool { return sample[i].score < sample[j].score })

	quartile := len(sample) / 4
	if quartile == 0 {
		quartile = len(sample)
	}
	candidates := sample[:quartile]

	return c.dispatch(candidates)
}

// sampleTree walks t's resident pages from the root, breadth over
// depth, stopping once cfg.SampleSize pages have been collected. A
// page not in RefMem state (not resident, or locked by a concurrent
// split/eviction) is skipped rather than waited on.
func (c *Cache) sampleTree(t *Tree) []candidate {
	var out []candidate
	queue := []*page.Ref{t.Root}
	for len(queue) > 0 && len(out) < c.cfg.SampleSize {
		ref := queue[0]
		queue = queue[1:]

		if ref.State() != page.RefMem {
			continue
		}
		p := ref.Page()
		if p == nil || p.HasFlag(page.FlagNoEviction) {
			continue
		}
		if p.HasFlag(page.FlagSplitting) || p.HasFlag(page.FlagScanning) || p.HasFlag(page.FlagEvicting) {
			continue
		}

		if len(p.Refs) > 0 {
			// Internal pages are walked for sampling but not themselves
			// evicted: reconciliation only knows how to rewrite a leaf's
			// entries, not an internal page's child-address cells.
			queue = append(queue, p.Refs...)
			continue
		}

		out = append(out, candidate{tree: t, ref: ref, page: p, score: p.ReadGen()})
	}
	return out
}

// dispatch runs candidates through a bounded worker pool, each worker
// CASing its candidate's Ref from MEM to LOCKED before acting on it so
// two workers (or a worker and an application-thread forced eviction)
// never race on the same page.
func (c *Cache) dispatch(candidates []candidate) (int, error) {
	workers := c.cfg.EvictWorkers
	if workers <= 0 {
		workers = 1
	}

	work := make(chan candidate, len(candidates))
	for _, cand := range candidates {
		work <- cand
	}
	close(work)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		freed int
		first error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range work {
				ok, err := c.evictOne(cand)
				mu.Lock()
				if ok {
					freed++
				}
				if err != nil && first == nil {
					first = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return freed, first
}

// evictOne attempts to reclaim one candidate page: lock it against
// concurrent eviction, reconcile it under the current oldest-id
// snapshot, and free it if reconciliation did not have to leave it
// dirty (a page with content still invisible to every reader cannot
// be evicted this pass — it is unlocked and left for a later one).
func (c *Cache) evictOne(cand candidate) (bool, error) {
	if !cand.page.TryLockEvicting() {
		return false, nil
	}
	defer cand.page.ClearFlag(page.FlagEvicting)

	if c.hazards.InUse(cand.page) {
		return false, nil
	}
	if !cand.ref.CASState(page.RefMem, page.RefLocked) {
		return false, nil
	}

	oldest := c.global.OldestID()
	result, err := reconcile.Reconcile(cand.page, cand.tree.Block, cand.tree.Compressor, oldest, c.cfg.Reconcile)
	if err != nil {
		cand.ref.SetState(page.RefMem)
		return false, fmt.Errorf("cache: evict %s: %w", cand.tree.URI, err)
	}
	if result.LeaveDirty {
		cand.ref.SetState(page.RefMem)
		return false, nil
	}
	if c.hazards.InUse(cand.page) {
		// A reader acquired a hazard pointer mid-reconciliation; the
		// disk image is still valid (reconciliation never mutates the
		// logical content readers see) but freeing the in-memory page
		// now would pull it out from under that reader.
		cand.ref.SetState(page.RefMem)
		return false, nil
	}

	c.AddDirty(-cand.page.MemSize())
	c.AddInUse(-cand.page.MemSize())

	if len(result.Boundaries) == 0 {
		cand.ref.SetState(page.RefDeleted)
		cand.ref.SetPage(nil)
		return true, nil
	}

	cand.ref.Addr = result.Boundaries[0].Addr
	cand.page.ClearDirty()
	cand.ref.SetPage(nil)
	cand.ref.SetState(page.RefDisk)
	return true, nil
}
