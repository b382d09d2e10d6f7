package lsm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/kvaerner/internal/logging"
)

// workKind identifies one of the manager's typed queues: the worker
// pool drains typed queues for switch, flush, bloom, merge, and drop
// work.
type workKind int

const (
	workSwitch workKind = iota
	workFlush
	workBloom
	workMerge
	workDrop
)

type workItem struct {
	kind workKind
	tree *Tree
	// chunk is set for flush/bloom; run is set for merge.
	chunk *Chunk
	run   []*Chunk
}

// Manager is the privileged server thread that inspects every
// registered tree on a timer and schedules switch/flush/bloom/merge/
// drop work onto bounded worker pools, plus a throttle that shortens
// the inspection tick as the busiest primary nears its switch
// threshold, so switch and flush keep up with application writers.
type Manager struct {
	cfg Config

	mu    sync.RWMutex
	trees map[string]*Tree

	queues map[workKind]chan workItem

	stopCh   chan struct{}
	signalCh chan struct{}
	stopOnce sync.Once
	loopWg   sync.WaitGroup // inspectLoop only
	workerWg sync.WaitGroup // every queue's worker pool

	mergeCount atomic.Int64
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg,
		trees:    make(map[string]*Tree),
		queues:   make(map[workKind]chan workItem),
		stopCh:   make(chan struct{}),
		signalCh: make(chan struct{}, 1),
	}
	m.queues[workSwitch] = make(chan workItem, 64)
	m.queues[workFlush] = make(chan workItem, 64)
	m.queues[workBloom] = make(chan workItem, 64)
	m.queues[workMerge] = make(chan workItem, 16)
	m.queues[workDrop] = make(chan workItem, 64)
	return m
}

func (m *Manager) RegisterTree(t *Tree) {
	m.mu.Lock()
	m.trees[t.URI] = t
	m.mu.Unlock()
}

func (m *Manager) UnregisterTree(uri string) {
	m.mu.Lock()
	delete(m.trees, uri)
	m.mu.Unlock()
}

func (m *Manager) snapshotTrees() []*Tree {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Tree, 0, len(m.trees))
	for _, t := range m.trees {
		out = append(out, t)
	}
	return out
}

// Start launches the manager's inspection loop and every queue's
// worker pool. Stop must be called once the manager is no longer
// needed.
func (m *Manager) Start() {
	m.startWorkers(workSwitch, m.cfg.SwitchWorkers, m.runSwitch)
	m.startWorkers(workFlush, m.cfg.FlushWorkers, m.runFlush)
	m.startWorkers(workBloom, m.cfg.BloomWorkers, m.runBloom)
	m.startWorkers(workMerge, m.cfg.MergeWorkers, m.runMerge)
	m.startWorkers(workDrop, m.cfg.DropWorkers, m.runDrop)

	m.loopWg.Add(1)
	go m.inspectLoop()
}

// Stop halts the inspection loop first, then closes every queue so
// its worker pool drains and exits. Closing the queues before the
// loop stops would let inspectPass push onto an already-closed
// channel.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.loopWg.Wait()
	for _, q := range m.queues {
		close(q)
	}
	m.workerWg.Wait()
}

// Signal wakes the inspection loop immediately rather than waiting
// for the next tick.
func (m *Manager) Signal() {
	select {
	case m.signalCh <- struct{}{}:
	default:
	}
}

func (m *Manager) startWorkers(kind workKind, n int, fn func(workItem)) {
	if n <= 0 {
		n = 1
	}
	q := m.queues[kind]
	for i := 0; i < n; i++ {
		m.workerWg.Add(1)
		go func() {
			defer m.workerWg.Done()
			for item := range q {
				fn(item)
			}
		}()
	}
}

func (m *Manager) push(item workItem) {
	select {
	case m.queues[item.kind] <- item:
	default:
		// Queue full: this pass's candidate is picked up again next
		// tick rather than blocking the inspection loop.
	}
}

func (m *Manager) inspectLoop() {
	defer m.loopWg.Done()
	ticker := time.NewTicker(m.cfg.ManagerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-m.signalCh:
		case <-m.stopCh:
			return
		}
		m.inspectPass()
		ticker.Reset(m.throttle())
	}
}

// inspectPass looks at every registered tree once and enqueues any
// work it finds ready: a switch if the primary is oversized, a flush
// for each demoted-but-not-yet-flushed chunk, a bloom build for each
// flushed chunk still missing one, a merge for the oldest mergeable
// run, and drops for any fully dereferenced retired chunk.
func (m *Manager) inspectPass() {
	for _, t := range m.snapshotTrees() {
		if t.primaryOversized() {
			m.push(workItem{kind: workSwitch, tree: t})
		}
		for _, c := range t.Chunks() {
			switch c.State() {
			case StateSwitched:
				m.push(workItem{kind: workFlush, tree: t, chunk: c})
			case StateFlushed:
				if c.Bloom() == nil && m.cfg.Bloom {
					m.push(workItem{kind: workBloom, tree: t, chunk: c})
				}
			}
		}
		if run := t.mergeableRun(); run != nil {
			m.push(workItem{kind: workMerge, tree: t, run: run})
		}
		if len(t.OldChunks()) > 0 {
			m.push(workItem{kind: workDrop, tree: t})
		}
	}
}

func (m *Manager) runSwitch(item workItem) {
	log := logging.WithComponent("lsm")
	if err := item.tree.Switch(); err != nil {
		log.Warn().Str("uri", item.tree.URI).Err(err).Msg("lsm switch failed")
	}
}

func (m *Manager) runFlush(item workItem) {
	log := logging.WithComponent("lsm")
	if err := item.tree.flushChunk(item.chunk); err != nil {
		log.Warn().Str("uri", item.tree.URI).Str("chunk", item.chunk.ID).Err(err).Msg("lsm flush failed")
	}
}

func (m *Manager) runBloom(item workItem) {
	log := logging.WithComponent("lsm")
	bloom, err := BuildBloom(item.chunk.Tree, item.tree.global, item.tree.hz, item.tree.cfg)
	if err != nil {
		log.Warn().Str("uri", item.tree.URI).Str("chunk", item.chunk.ID).Err(err).Msg("lsm bloom build failed")
		return
	}
	item.chunk.setBloom(bloom)
}

func (m *Manager) runMerge(item workItem) {
	log := logging.WithComponent("lsm")
	if err := item.tree.mergeRun(item.run); err != nil {
		log.Warn().Str("uri", item.tree.URI).Int("chunks", len(item.run)).Err(err).Msg("lsm merge failed")
		return
	}
	m.mergeCount.Add(1)
}

// MergeCount returns the cumulative number of completed merges across
// every tree this manager oversees, for the metrics collector.
func (m *Manager) MergeCount() int64 { return m.mergeCount.Load() }

// ChunkCount sums ChunkCount across every registered tree.
func (m *Manager) ChunkCount() int {
	total := 0
	for _, t := range m.snapshotTrees() {
		total += t.ChunkCount()
	}
	return total
}

func (m *Manager) runDrop(item workItem) {
	log := logging.WithComponent("lsm")
	n, err := item.tree.reapOldChunks(dropChunkFile)
	if err != nil {
		log.Warn().Str("uri", item.tree.URI).Err(err).Msg("lsm drop failed")
	}
	if n > 0 {
		log.Info().Str("uri", item.tree.URI).Int("chunks", n).Msg("lsm dropped retired chunks")
	}
}

// throttle lengthens or shortens the inspection tick based on how
// close the busiest registered tree's primary is to its switch
// threshold: a primary filling quickly earns a shorter tick so switch
// and flush keep up, while a quiet tree backs off to cfg.ManagerTick.
func (m *Manager) throttle() time.Duration {
	var worstFill float64
	for _, t := range m.snapshotTrees() {
		p := t.Primary()
		if t.cfg.ChunkSize <= 0 {
			continue
		}
		fill := float64(p.Block.Size()) / float64(t.cfg.ChunkSize)
		if fill > worstFill {
			worstFill = fill
		}
	}
	if worstFill <= 0 {
		return m.cfg.ManagerTick
	}
	if worstFill > 1 {
		worstFill = 1
	}
	// Linear interpolation: quiet tree -> full tick, nearly-full
	// primary -> a quarter of it.
	scaled := time.Duration(float64(m.cfg.ManagerTick) * (1 - 0.75*worstFill))
	if scaled < m.cfg.ManagerTick/4 {
		return m.cfg.ManagerTick / 4
	}
	return scaled
}
