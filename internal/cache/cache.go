package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/logging"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/reconcile"
	"github.com/cuemby/kvaerner/internal/txn"
)

// Config sizes the cache and its eviction policy.
type Config struct {
	MaxBytes         int64 // hard target: application threads help-evict or sleep past this
	TargetBytes      int64 // the server loop evicts down to this
	DirtyMaxBytes    int64
	DirtyTargetBytes int64

	EvictTick    time.Duration // server loop wake interval absent an explicit signal
	SampleSize   int           // pages sampled per tree per pass
	EvictWorkers int
	StuckRetries int // consecutive empty passes before stuck detection fires

	Reconcile reconcile.Config

	// RollbackOldest is called when stuck detection fires; the session
	// layer supplies this since only it maps the global's oldest
	// running id back to a live *txn.Transaction it can roll back.
	RollbackOldest func() error
}

func DefaultConfig() Config {
	return Config{
		MaxBytes:         512 * 1024 * 1024,
		TargetBytes:      400 * 1024 * 1024,
		DirtyMaxBytes:    256 * 1024 * 1024,
		DirtyTargetBytes: 200 * 1024 * 1024,
		EvictTick:        time.Second,
		SampleSize:       80,
		EvictWorkers:     4,
		StuckRetries:     100,
		Reconcile:        reconcile.DefaultConfig(),
	}
}

// Tree is one registered btree's eviction surface: enough of
// internal/btree.Btree's fields to walk and reconcile it, plus
// whether it is exempt from eviction entirely (the metadata table).
type Tree struct {
	URI        string
	Root       *page.Ref
	Block      *block.Manager
	Compressor codec.Compressor
	NoEviction bool
}

// Cache is the one shared page cache for a database, partitioned
// implicitly across registered trees.
type Cache struct {
	cfg     Config
	global  *txn.Global
	hazards *page.Registry

	globalReadGen atomic.Uint64
	inUseBytes    atomic.Int64
	dirtyBytes    atomic.Int64

	mu    sync.RWMutex
	trees map[string]*Tree

	stopCh   chan struct{}
	signalCh chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	stuckCount atomic.Int32

	passCount    atomic.Int64
	pagesEvicted atomic.Int64
}

func New(cfg Config, global *txn.Global, hazards *page.Registry) *Cache {
	return &Cache{
		cfg:      cfg,
		global:   global,
		hazards:  hazards,
		trees:    make(map[string]*Tree),
		stopCh:   make(chan struct{}),
		signalCh: make(chan struct{}, 1),
	}
}

// RegisterTree adds a tree to the set the eviction server walks.
func (c *Cache) RegisterTree(t *Tree) {
	c.mu.Lock()
	c.trees[t.URI] = t
	c.mu.Unlock()
}

func (c *Cache) UnregisterTree(uri string) {
	c.mu.Lock()
	delete(c.trees, uri)
	c.mu.Unlock()
}

func (c *Cache) snapshotTrees() []*Tree {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Tree, 0, len(c.trees))
	for _, t := range c.trees {
		out = append(out, t)
	}
	return out
}

// Touch records a page access: its read generation becomes the next
// tick of the cache-wide clock.
func (c *Cache) Touch(p *page.Page) {
	p.SetReadGen(c.globalReadGen.Add(1))
}

func (c *Cache) ReadGen() uint64 { return c.globalReadGen.Load() }

// AddInUse and AddDirty adjust the cache's byte accounting; callers
// are the session write path (on insert/update) and reconciliation
// (on page clean).
func (c *Cache) AddInUse(delta int64) { c.inUseBytes.Add(delta) }
func (c *Cache) AddDirty(delta int64) { c.dirtyBytes.Add(delta) }

func (c *Cache) InUseBytes() int64 { return c.inUseBytes.Load() }
func (c *Cache) DirtyBytes() int64 { return c.dirtyBytes.Load() }

// PassCount and PagesEvicted report cumulative eviction-server
// activity for the metrics collector.
func (c *Cache) PassCount() int64    { return c.passCount.Load() }
func (c *Cache) PagesEvicted() int64 { return c.pagesEvicted.Load() }

func (c *Cache) overHardTarget() bool {
	return c.inUseBytes.Load() > c.cfg.MaxBytes || c.dirtyBytes.Load() > c.cfg.DirtyMaxBytes
}

func (c *Cache) overSoftTarget() bool {
	return c.inUseBytes.Load() > c.cfg.TargetBytes || c.dirtyBytes.Load() > c.cfg.DirtyTargetBytes
}

// Start launches the eviction server goroutine. Stop must be called
// once the cache is no longer needed.
func (c *Cache) Start() {
	c.wg.Add(1)
	go c.serverLoop()
}

func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Signal wakes the server loop immediately rather than waiting for
// the next tick, used by back-pressure when an application thread
// observes the hard target crossed.
func (c *Cache) Signal() {
	select {
	case c.signalCh <- struct{}{}:
	default:
	}
}

func (c *Cache) serverLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.EvictTick)
	defer ticker.Stop()

	log := logging.WithComponent("cache")
	for {
		select {
		case <-ticker.C:
		case <-c.signalCh:
		case <-c.stopCh:
			return
		}

		if !c.overSoftTarget() {
			c.stuckCount.Store(0)
			continue
		}

		evicted, err := c.runPass()
		c.passCount.Add(1)
		c.pagesEvicted.Add(int64(evicted))
		if err != nil {
			log.Warn().Err(err).Msg("eviction pass failed")
		}
		if evicted > 0 {
			c.stuckCount.Store(0)
			continue
		}

		if c.stuckCount.Add(1) < int32(c.cfg.StuckRetries) {
			continue
		}
		c.stuckCount.Store(0)
		if c.cfg.RollbackOldest == nil {
			continue
		}
		if err := c.cfg.RollbackOldest(); err != nil {
			log.Warn().Err(err).Msg("stuck-eviction rollback of oldest transaction failed")
		} else {
			log.Warn().Msg("stuck eviction pass: rolled back oldest running transaction")
		}
	}
}
