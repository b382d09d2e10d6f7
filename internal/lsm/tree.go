package lsm

import (
	"fmt"
	"sync"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/google/uuid"
)

// Opener builds a fresh, empty chunk: a Btree over a newly allocated
// backing file named after id. The session/meta layer supplies this,
// since only it knows how to create and register a new file's block
// manager (mirrors internal/meta.RecoveryTarget.Opener).
type Opener func(id string) (*btree.Btree, *block.Manager, error)

// Tree is one open LSM tree: an ordered roster of chunks, newest
// (the writable primary) first, plus chunks retired by a merge and
// awaiting drop.
type Tree struct {
	URI    string
	cfg    Config
	open   Opener
	global *txn.Global
	hz     *page.Registry

	mu        sync.RWMutex
	chunks    []*Chunk // chunks[0] is the primary
	oldChunks []*Chunk
}

// New creates a tree with a single writable primary chunk.
func New(uri string, cfg Config, open Opener, global *txn.Global, hz *page.Registry) (*Tree, error) {
	t := &Tree{URI: uri, cfg: cfg, open: open, global: global, hz: hz}
	if err := t.switchPrimary(); err != nil {
		return nil, fmt.Errorf("lsm: new tree %s: %w", uri, err)
	}
	return t, nil
}

// Primary returns the current writable chunk.
func (t *Tree) Primary() *Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chunks[0]
}

// Chunks returns a snapshot of the roster, newest first.
func (t *Tree) Chunks() []*Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Chunk, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// OldChunks returns a snapshot of chunks retired by a merge and
// awaiting drop.
func (t *Tree) OldChunks() []*Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Chunk, len(t.oldChunks))
	copy(out, t.oldChunks)
	return out
}

// ChunkCount returns the number of chunks currently in the roster
// (excluding retired chunks awaiting drop), for the metrics collector.
func (t *Tree) ChunkCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.chunks)
}

// switchPrimary opens a brand-new chunk and, if a prior primary
// exists, demotes it to StateSwitched.
func (t *Tree) switchPrimary() error {
	tree, blk, err := t.open(newChunkID())
	if err != nil {
		return fmt.Errorf("open new chunk: %w", err)
	}
	next := NewChunk(tree, blk)

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.chunks) > 0 {
		old := t.chunks[0]
		old.SwitchTxn = t.global.OldestID()
		old.setState(StateSwitched)
	}
	t.chunks = append([]*Chunk{next}, t.chunks...)
	return nil
}

// Switch demotes the current primary and installs a fresh one,
// called by the manager once the primary's backing file crosses
// cfg.ChunkSize.
func (t *Tree) Switch() error {
	return t.switchPrimary()
}

// primaryOversized reports whether the writable chunk has grown past
// the configured switch threshold.
func (t *Tree) primaryOversized() bool {
	p := t.Primary()
	return p.Block.Size() >= t.cfg.ChunkSize
}

// mergeableRun finds the oldest contiguous run of StateFlushed chunks
// of length between cfg.MergeMin and cfg.MergeMax, or nil if none
// qualifies yet. Running a merge against the oldest chunks first
// keeps the roster's tail (the part negative lookups pay for most
// often) shortest.
func (t *Tree) mergeableRun() []*Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var run []*Chunk
	for i := len(t.chunks) - 1; i >= 0; i-- {
		c := t.chunks[i]
		if c.State() != StateFlushed || c.Referenced() {
			run = nil
			continue
		}
		run = append([]*Chunk{c}, run...)
		if len(run) >= t.cfg.MergeMax {
			break
		}
	}
	if len(run) < t.cfg.MergeMin {
		return nil
	}
	return run
}

// isOldestRun reports whether run reaches the very end of the on-disk
// roster — i.e. no chunk older than run's oldest member remains, so a
// merge of run may finally discard tombstones rather than carry them
// forward.
func (t *Tree) isOldestRun(run []*Chunk) bool {
	if len(run) == 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chunks[len(t.chunks)-1].ID == run[len(run)-1].ID
}

// replaceRun removes run's chunks from the roster, appends them to
// oldChunks for the drop worker, and splices in replacement at the
// same position.
func (t *Tree) replaceRun(run []*Chunk, replacement *Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make(map[string]bool, len(run))
	for _, c := range run {
		ids[c.ID] = true
	}

	out := make([]*Chunk, 0, len(t.chunks)-len(run)+1)
	spliced := false
	for _, c := range t.chunks {
		if ids[c.ID] {
			if !spliced {
				out = append(out, replacement)
				spliced = true
			}
			c.setState(StateOld)
			t.oldChunks = append(t.oldChunks, c)
			continue
		}
		out = append(out, c)
	}
	t.chunks = out
}

// reapOldChunks drops every retired chunk no cursor still references,
// returning how many were removed.
func (t *Tree) reapOldChunks(drop func(*Chunk) error) (int, error) {
	t.mu.Lock()
	var ready, rest []*Chunk
	for _, c := range t.oldChunks {
		if c.Referenced() {
			rest = append(rest, c)
		} else {
			ready = append(ready, c)
		}
	}
	t.oldChunks = rest
	t.mu.Unlock()

	n := 0
	for _, c := range ready {
		if err := drop(c); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// markFlushed transitions a StateSwitched chunk to StateFlushed once
// it has been reconciled and its bloom filter built, without
// disturbing roster order.
func (t *Tree) markFlushed(c *Chunk, bloom *Bloom) {
	c.setBloom(bloom)
	c.setState(StateFlushed)
}

func newChunkID() string { return uuid.NewString() }
