package lsm

import (
	"fmt"

	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/reconcile"
)

// flushChunk reconciles every dirty leaf of a demoted chunk's tree
// under oldest, then builds its bloom filter (if enabled) and
// transitions it to StateFlushed. Mirrors internal/checkpoint's
// flushTree/flushLeaf, but a chunk has no concurrent writers left to
// race against once it is no longer the primary, so no per-leaf
// scanning lock is needed.
func (t *Tree) flushChunk(c *Chunk) error {
	oldest := t.global.OldestID()

	queue := []*page.Ref{c.Tree.Root}
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
			queue = append(queue, p.Refs...)
			continue
		}
		if !p.IsDirty() {
			continue
		}

		result, err := reconcile.Reconcile(p, c.Block, c.Tree.Compressor, oldest, t.cfg.Reconcile)
		if err != nil {
			return fmt.Errorf("lsm: flush chunk %s: %w", c.ID, err)
		}
		if result.LeaveDirty {
			continue
		}
		if len(result.Boundaries) > 0 {
			ref.Addr = result.Boundaries[0].Addr
		}
		p.ClearDirty()
	}

	c.Block.Checkpoint()
	if err := c.Block.TruncateTail(); err != nil {
		return fmt.Errorf("lsm: flush chunk %s: truncate tail: %w", c.ID, err)
	}

	var bloom *Bloom
	if t.cfg.Bloom {
		b, err := BuildBloom(c.Tree, t.global, t.hz, t.cfg)
		if err != nil {
			return fmt.Errorf("lsm: flush chunk %s: build bloom: %w", c.ID, err)
		}
		bloom = b
	}

	t.markFlushed(c, bloom)
	return nil
}
