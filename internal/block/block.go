package block

import (
	"fmt"
	"os"
	"sync"

	"github.com/cuemby/kvaerner/internal/logging"
)

// Manager serves alloc/free against a single file, preserving the
// extent-list invariants of the data model and persisting extent
// lists atomically with checkpoints. One Manager per open btree file
// or LSM chunk file.
type Manager struct {
	mu sync.Mutex // live_lock: guards every list below and fh/size

	fh            *os.File
	uri           string
	allocUnit     int64
	firstFit      bool
	size          int64 // current file size
	descriptorEnd int64 // end of the fixed description page

	available     *ExtList // free extents available for alloc()
	alloc         *ExtList // extents allocated in the current checkpoint
	discard       *ExtList // extents freed in the current checkpoint
	ckptAvailable *ExtList // freed across checkpoints, retained for this one
}

// Config configures a new block Manager.
type Config struct {
	AllocationSize   int64 // allocation unit, a power of two, e.g. 4096
	AllocateFirstFit bool
}

// Open attaches a Manager to fh, whose current size is size and whose
// fixed description page ends at descriptorEnd. The four extent lists
// start empty; a fresh database has no free extents to offer until
// Restore loads a checkpoint's serialized lists.
func Open(uri string, fh *os.File, size, descriptorEnd int64, cfg Config) *Manager {
	if cfg.AllocationSize <= 0 {
		cfg.AllocationSize = 4096
	}
	if size < descriptorEnd {
		// Brand-new file: reserve [0, descriptorEnd) up front so the
		// first real Alloc lands past the description page instead of
		// overlapping it.
		size = descriptorEnd
	}
	return &Manager{
		fh:            fh,
		uri:           uri,
		allocUnit:     cfg.AllocationSize,
		firstFit:      cfg.AllocateFirstFit,
		size:          size,
		descriptorEnd: descriptorEnd,
		available:     NewExtList("available", true),
		alloc:         NewExtList("alloc", false),
		discard:       NewExtList("discard", false),
		ckptAvailable: NewExtList("ckpt-available", false),
	}
}

func (m *Manager) align(size int64) int64 {
	if size%m.allocUnit != 0 {
		panic(fmt.Sprintf("block: size %d is not a multiple of the allocation unit %d", size, m.allocUnit))
	}
	return size
}

// Alloc reserves size bytes (a multiple of the allocation unit) and
// returns its offset. It first tries the available list (first-fit or
// best-fit per configuration); failing that it extends the file.
func (m *Manager) Alloc(size int64) (off int64, err error) {
	m.align(size)
	m.mu.Lock()
	defer m.mu.Unlock()

	var foundOff, foundSize int64
	var ok bool
	if m.firstFit {
		foundOff, ok = m.available.FirstFit(size)
		if ok {
			foundSize = size
			// FirstFit only guarantees foundOff's extent size >= size;
			// recover the exact size by a floor lookup.
			if node := m.available.containing(foundOff, size); node != nil {
				foundSize = node.size
			}
		}
	} else {
		foundOff, foundSize, ok = m.available.BestFit(size)
	}

	if !ok {
		return m.appendLocked(size)
	}

	m.available.RemoveExact(foundOff, foundSize)
	if remainder := foundSize - size; remainder > 0 {
		m.available.Insert(foundOff+size, remainder)
	}
	m.alloc.Insert(foundOff, size)
	return foundOff, nil
}

// appendLocked extends the file by size bytes and records the new
// extent directly in the current checkpoint's alloc list. Caller must
// hold m.mu.
func (m *Manager) appendLocked(size int64) (int64, error) {
	off := m.size
	if err := m.fh.Truncate(off + size); err != nil {
		return 0, fmt.Errorf("block: extend file: %w", err)
	}
	m.size = off + size
	m.alloc.Insert(off, size)
	return off, nil
}

// Free releases [off, off+size). If the range was allocated in the
// current checkpoint it is removed from the alloc list (splitting a
// larger alloc extent if necessary) and merged into available
// immediately; otherwise it is merged into the discard list to be
// resolved against alloc at the next checkpoint.
func (m *Manager) Free(off, size int64) error {
	m.align(size)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.alloc.RemoveRange(off, size) {
		m.available.Insert(off, size)
		return nil
	}
	m.discard.Insert(off, size)
	return nil
}

// TruncateTail shrinks the file if the available list's highest
// extent reaches end-of-file, called after a checkpoint publishes new
// extent lists.
func (m *Manager) TruncateTail() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.available.Last()
	if !ok || last.End() != m.size {
		return nil
	}
	m.available.RemoveExact(last.Off, last.Size)
	if err := m.fh.Truncate(last.Off); err != nil {
		m.available.Insert(last.Off, last.Size)
		return fmt.Errorf("block: truncate tail: %w", err)
	}
	m.size = last.Off
	return nil
}

// Size returns the current file size.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Available exposes the free-extent list for tests and statistics.
func (m *Manager) Available() *ExtList { return m.available }
func (m *Manager) Alloc_() *ExtList    { return m.alloc }
func (m *Manager) Discard() *ExtList   { return m.discard }

// File exposes the underlying file handle for reconciliation and
// recovery, which read and write page images directly at block
// offsets this Manager hands out.
func (m *Manager) File() *os.File { return m.fh }

// Checkpoint resolves the alloc/discard overlap into the
// checkpoint-available list, then moves what is left in discard and
// everything in checkpoint-available into the available list and
// empties alloc, so the next checkpoint interval starts with empty
// alloc, discard and checkpoint-available lists. The extent lists are
// kept in memory only; Checkpoint does not write them to disk.
func (m *Manager) Checkpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()

	resolveOverlap(m.alloc, m.discard, m.ckptAvailable)

	// Whatever is left in discard after overlap resolution was freed
	// this checkpoint but never (re)allocated this checkpoint: it
	// becomes available for the next one.
	for _, e := range m.discard.Snapshot() {
		m.discard.RemoveExact(e.Off, e.Size)
		m.available.Insert(e.Off, e.Size)
	}

	// ckptAvailable holds extents that were allocated and freed within
	// the same checkpoint interval. They are folded into available
	// here, in the same call, not held back until the checkpoint
	// completes.
	for _, e := range m.ckptAvailable.Snapshot() {
		m.ckptAvailable.RemoveExact(e.Off, e.Size)
		m.available.Insert(e.Off, e.Size)
	}

	// The alloc list for the next interval starts empty; extents still
	// recorded there (allocated but not yet freed) remain owned by
	// whatever page references them and are simply dropped from this
	// bookkeeping list.
	for _, e := range m.alloc.Snapshot() {
		m.alloc.RemoveExact(e.Off, e.Size)
	}

	logging.WithComponent("block").Debug().
		Str("file", m.uri).
		Int("available", m.available.Len()).
		Msg("checkpoint extent-list bookkeeping resolved")
}
