package checkpoint

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/logging"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/reconcile"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/cuemby/kvaerner/internal/wal"
)

// Tree is one registered btree's checkpoint surface: enough of
// internal/btree.Btree's fields to walk and reconcile it. Mirrors
// internal/cache.Tree, which a session wires from the same
// internal/btree.Btree it opens.
type Tree struct {
	URI        string
	Root       *page.Ref
	Block      *block.Manager
	Compressor codec.Compressor
}

// Config sizes a Checkpointer.
type Config struct {
	Interval  time.Duration // 0 disables the timer loop; Run is still callable directly
	Reconcile reconcile.Config

	// UpdateMetadata persists a tree's new root address against the
	// checkpoint that just flushed it. The session/meta layer supplies
	// this; internal/checkpoint has no metadata-table dependency of its
	// own (see DESIGN.md).
	UpdateMetadata func(uri string, root codec.Cookie, generation uint64) error
}

func DefaultConfig() Config {
	return Config{
		Interval:  60 * time.Second,
		Reconcile: reconcile.DefaultConfig(),
	}
}

// Checkpointer runs the ten-step checkpoint protocol against every
// registered tree, sharing one write-ahead log and one global
// transaction table with the rest of the open database.
type Checkpointer struct {
	cfg    Config
	log    *wal.Log
	global *txn.Global

	schemaLock sync.Mutex // step 1: excludes concurrent schema change / another checkpoint

	mu    sync.RWMutex
	trees map[string]*Tree

	generation   atomic.Uint64
	lastDuration atomic.Int64 // nanoseconds, last completed Run

	stopCh   chan struct{}
	signalCh chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, log *wal.Log, global *txn.Global) *Checkpointer {
	return &Checkpointer{
		cfg:      cfg,
		log:      log,
		global:   global,
		trees:    make(map[string]*Tree),
		stopCh:   make(chan struct{}),
		signalCh: make(chan struct{}, 1),
	}
}

func (c *Checkpointer) RegisterTree(t *Tree) {
	c.mu.Lock()
	c.trees[t.URI] = t
	c.mu.Unlock()
}

func (c *Checkpointer) UnregisterTree(uri string) {
	c.mu.Lock()
	delete(c.trees, uri)
	c.mu.Unlock()
}

func (c *Checkpointer) snapshotTrees() []*Tree {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Tree, 0, len(c.trees))
	for _, t := range c.trees {
		out = append(out, t)
	}
	return out
}

// Generation returns the most recently published checkpoint's
// sequence number (0 before the first checkpoint completes).
func (c *Checkpointer) Generation() uint64 { return c.generation.Load() }

// LastDuration returns how long the most recently completed Run took.
func (c *Checkpointer) LastDuration() time.Duration {
	return time.Duration(c.lastDuration.Load())
}

// Start launches the timer-driven checkpoint loop. Stop must be called
// once the checkpointer is no longer needed.
func (c *Checkpointer) Start() {
	if c.cfg.Interval <= 0 {
		return
	}
	c.wg.Add(1)
	go c.loop()
}

func (c *Checkpointer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Signal requests an immediate checkpoint pass rather than waiting for
// the next tick. Nothing in this module calls it; DB.Checkpoint in
// package kv runs a pass with Run instead.
func (c *Checkpointer) Signal() {
	select {
	case c.signalCh <- struct{}{}:
	default:
	}
}

func (c *Checkpointer) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	log := logging.WithComponent("checkpoint")
	for {
		select {
		case <-ticker.C:
		case <-c.signalCh:
		case <-c.stopCh:
			return
		}
		if err := c.Run(); err != nil {
			log.Warn().Err(err).Msg("checkpoint pass failed")
		}
	}
}

// Run executes one full checkpoint pass, synchronously, against every
// registered tree. Safe to call directly (e.g. on graceful shutdown)
// even with the timer loop disabled.
func (c *Checkpointer) Run() error {
	log := logging.WithComponent("checkpoint")

	// Step 1: schema lock. A real schema-lock subsystem would also
	// exclude table create/drop/rename; here it only serializes
	// checkpoint passes against each other, since no such subsystem
	// exists yet (see DESIGN.md).
	c.schemaLock.Lock()
	defer c.schemaLock.Unlock()

	start := time.Now()
	defer func() { c.lastDuration.Store(int64(time.Since(start))) }()

	generation := c.generation.Load() + 1
	oldest := c.global.OldestID()

	// Step 2: CKPT_PREPARE, fsync'd so recovery can always find the
	// start of the most recent checkpoint attempt.
	if _, err := c.log.Append(marker(opPrepare, generation, oldest), wal.SyncFlags{FSync: true}); err != nil {
		return fmt.Errorf("checkpoint: write CKPT_PREPARE: %w", err)
	}

	// Step 3 is oldest itself: every tree's leaves are reconciled under
	// this single snapshot, so the checkpoint is transactionally
	// consistent across trees even though each tree is flushed
	// independently.

	trees := c.snapshotTrees()
	var flushed int
	for _, t := range trees {
		n, err := c.flushTree(t, oldest)
		if err != nil {
			return fmt.Errorf("checkpoint: flush %s: %w", t.URI, err)
		}
		flushed += n

		// Step 6: resolve this tree's extent-list overlap (in memory
		// only; the lists are not written to disk), now that every dirty
		// leaf has a fresh block address reserved from this tree's manager.
		t.Block.Checkpoint()
		if err := t.Block.TruncateTail(); err != nil {
			log.Warn().Str("file", t.URI).Err(err).Msg("checkpoint: truncate tail failed")
		}

		// Step 7: let the caller persist the new root address. t.Root.Addr
		// is only meaningful when the root is itself a leaf (the common
		// case for a freshly created, still-small table); see the
		// comment on internal pages in flushTree for the multi-level-tree
		// limitation.
		if c.cfg.UpdateMetadata != nil {
			if err := c.cfg.UpdateMetadata(t.URI, t.Root.Addr, generation); err != nil {
				return fmt.Errorf("checkpoint: update metadata for %s: %w", t.URI, err)
			}
		}
	}

	// Step 8: CKPT_STOP marks this checkpoint durable: every record
	// before it describing one of its trees' reconciled content is now
	// superseded by on-disk pages, not replay.
	stopLSN, err := c.log.Append(marker(opStop, generation, oldest), wal.SyncFlags{FSync: true})
	if err != nil {
		return fmt.Errorf("checkpoint: write CKPT_STOP: %w", err)
	}

	// Step 9: publish. Readers that care about "as of the last
	// checkpoint" consistency (e.g. a future online-backup cursor) read
	// Generation() after this store.
	c.generation.Store(generation)

	// Step 10: archive. Every log file strictly before CKPT_STOP's file
	// only contains records this checkpoint has already reconciled onto
	// disk, so recovery will never need to scan them again.
	removed, err := c.log.Archive(stopLSN)
	if err != nil {
		log.Warn().Err(err).Msg("checkpoint: log archive failed")
	}

	log.Info().
		Uint64("generation", generation).
		Int("trees", len(trees)).
		Int("leaves_flushed", flushed).
		Int("log_files_archived", removed).
		Msg("checkpoint complete")
	return nil
}
