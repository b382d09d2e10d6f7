package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/logging"
)

// Config sizes and names one log's on-disk files.
type Config struct {
	Dir               string
	FilePrefix        string // e.g. "kvaerner-log"
	PreallocatePrefix string // e.g. "kvaerner-log-prep"; renamed into place on rotation
	FileMax           int64
	AllocationSize    int64
	Compressor        codec.Compressor
	FSyncDir          bool // also fsync the containing directory after rotation
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		FilePrefix:        "kvaerner-log",
		PreallocatePrefix: "kvaerner-log-prep",
		FileMax:           100 * 1024 * 1024,
		AllocationSize:    4096,
		FSyncDir:          true,
	}
}

func (c Config) fileName(num uint32) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s.%010d", c.FilePrefix, num))
}

// Log is one write-ahead log: a sequence of bounded files, the slot
// protocol's reservation state, and the write_lsn/sync_lsn ordering
// points.
//
// Reservation is serialized by a mutex rather than a lock-free
// fetch-add, and each record is written straight to the file at its
// reserved range, with no shared slot buffer. Writers claim disjoint
// byte ranges and publish write_lsn in increasing LSN order.
type Log struct {
	cfg Config

	mu         sync.Mutex // guards reservation: curFile/curFileNum/curOffset
	curFile    *os.File
	curFileNum uint32
	curOffset  int64

	writeMu   sync.Mutex
	writeCond *sync.Cond
	writeLSN  LSN

	syncMu  sync.Mutex
	syncLSN LSN

	bytesWritten atomic.Int64
	fsyncCount   atomic.Int64
}

// BytesWritten and FSyncCount report cumulative write-ahead-log
// activity for the metrics collector.
func (l *Log) BytesWritten() int64 { return l.bytesWritten.Load() }
func (l *Log) FSyncCount() int64   { return l.fsyncCount.Load() }

// Open opens (creating if necessary) a log rooted at cfg.Dir, resuming
// at the newest existing file or starting file #1 if none exists.
func Open(cfg Config) (*Log, error) {
	if cfg.AllocationSize <= 0 {
		cfg.AllocationSize = 4096
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", cfg.Dir, err)
	}

	l := &Log{cfg: cfg}
	l.writeCond = sync.NewCond(&l.writeMu)

	num, err := l.latestFileNum()
	if err != nil {
		return nil, err
	}
	if num == 0 {
		return l, l.rotateLocked()
	}

	fh, err := os.OpenFile(cfg.fileName(num), os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", cfg.fileName(num), err)
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", cfg.fileName(num), err)
	}

	l.curFile = fh
	l.curFileNum = num
	l.curOffset = info.Size()
	l.writeLSN = LSN{File: num, Offset: info.Size()}
	l.syncLSN = l.writeLSN
	return l, nil
}

func (l *Log) latestFileNum() (uint32, error) {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("wal: readdir %s: %w", l.cfg.Dir, err)
	}
	var nums []uint32
	for _, e := range entries {
		var num uint32
		if _, err := fmt.Sscanf(e.Name(), l.cfg.FilePrefix+".%010d", &num); err == nil {
			nums = append(nums, num)
		}
	}
	if len(nums) == 0 {
		return 0, nil
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] > nums[j] })
	return nums[0], nil
}

// Close releases the current file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.curFile == nil {
		return nil
	}
	err := l.curFile.Close()
	l.curFile = nil
	return err
}

// CurrentLSN returns the LSN the next Append would be assigned.
func (l *Log) CurrentLSN() LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LSN{File: l.curFileNum, Offset: l.curOffset}
}

// SyncFlags requests durability behavior for one Append call.
type SyncFlags struct {
	FSync bool
}

// Append reserves space for payload, writes it, advances write_lsn in
// order, and — if requested — fsyncs behind sync_lock before
// returning. It returns the LSN the record was written at.
func (l *Log) Append(payload []byte, sync SyncFlags) (LSN, error) {
	rec := encodeRecord(payload, l.cfg.Compressor)
	size := roundUp(int64(len(rec)), l.cfg.AllocationSize)

	l.mu.Lock()
	if l.curOffset+size > l.cfg.FileMax {
		if err := l.rotateLocked(); err != nil {
			l.mu.Unlock()
			return LSN{}, err
		}
	}
	lsn := LSN{File: l.curFileNum, Offset: l.curOffset}
	fh := l.curFile
	l.curOffset += size
	l.mu.Unlock()

	buf := make([]byte, size)
	copy(buf, rec)
	if _, err := fh.WriteAt(buf, lsn.Offset); err != nil {
		return LSN{}, fmt.Errorf("wal: write record at %s: %w", lsn, err)
	}
	l.bytesWritten.Add(size)

	l.publishWriteLSN(lsn, size)

	if sync.FSync {
		if err := l.syncThrough(fh, LSN{File: lsn.File, Offset: lsn.Offset + size}); err != nil {
			return lsn, err
		}
	}
	return lsn, nil
}

// publishWriteLSN blocks until write_lsn reaches lsn (every
// earlier-reserved writer has released), then advances it past this
// record and wakes waiters — preserving on-disk record order even
// though writes themselves may complete out of reservation order.
func (l *Log) publishWriteLSN(lsn LSN, size int64) {
	l.writeMu.Lock()
	for l.writeLSN != lsn {
		l.writeCond.Wait()
	}
	l.writeLSN = LSN{File: lsn.File, Offset: lsn.Offset + size}
	l.writeCond.Broadcast()
	l.writeMu.Unlock()
}

// syncThrough fsyncs fh if sync_lsn has not already passed through,
// batching concurrent sync requests behind one lock: a caller that
// finds sync_lsn already past its own record's end skips the syscall
// entirely, as if it had ridden a prior waiter's fsync.
func (l *Log) syncThrough(fh *os.File, through LSN) error {
	l.syncMu.Lock()
	defer l.syncMu.Unlock()
	if through.LessEqual(l.syncLSN) {
		return nil
	}
	if err := fh.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	l.fsyncCount.Add(1)
	l.syncLSN = through
	return nil
}

// rotateLocked closes out the current file (if any) and opens the
// next one, renaming a pre-allocated file into place when available.
// Caller must hold l.mu.
func (l *Log) rotateLocked() error {
	nextNum := l.curFileNum + 1
	path := l.cfg.fileName(nextNum)

	if err := l.claimPreallocated(path); err != nil {
		return err
	}

	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("wal: create %s: %w", path, err)
	}
	if err := fh.Truncate(l.cfg.FileMax); err != nil {
		fh.Close()
		return fmt.Errorf("wal: preallocate %s: %w", path, err)
	}

	desc := encodeDescriptor(descriptor{Magic: Magic, Version: Version, MaxSize: l.cfg.FileMax})
	if _, err := fh.WriteAt(desc, 0); err != nil {
		fh.Close()
		return fmt.Errorf("wal: write descriptor %s: %w", path, err)
	}

	if l.cfg.FSyncDir {
		if dir, err := os.Open(l.cfg.Dir); err == nil {
			dir.Sync()
			dir.Close()
		}
	}

	if l.curFile != nil {
		l.curFile.Close()
	}
	l.curFile = fh
	l.curFileNum = nextNum
	l.curOffset = roundUp(descriptorSize, l.cfg.AllocationSize)

	l.writeMu.Lock()
	l.writeLSN = LSN{File: nextNum, Offset: l.curOffset}
	l.writeCond.Broadcast()
	l.writeMu.Unlock()

	logging.WithComponent("wal").Debug().Uint32("file", nextNum).Msg("rotated log file")
	return nil
}

// claimPreallocated renames a file under cfg.PreallocatePrefix into
// path if one exists, avoiding file-create latency on the append
// critical path.
func (l *Log) claimPreallocated(path string) error {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), l.cfg.PreallocatePrefix) {
			return os.Rename(filepath.Join(l.cfg.Dir, e.Name()), path)
		}
	}
	return nil
}

// Archive removes every log file strictly older than keepFrom.File,
// i.e. files no checkpoint or recovery scan starting at keepFrom could
// ever need again. It never removes the file currently being written.
func (l *Log) Archive(keepFrom LSN) (removed int, err error) {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return 0, fmt.Errorf("wal: readdir %s: %w", l.cfg.Dir, err)
	}

	l.mu.Lock()
	current := l.curFileNum
	l.mu.Unlock()

	for _, e := range entries {
		var num uint32
		if _, err := fmt.Sscanf(e.Name(), l.cfg.FilePrefix+".%010d", &num); err != nil {
			continue
		}
		if num >= keepFrom.File || num == current {
			continue
		}
		if err := os.Remove(filepath.Join(l.cfg.Dir, e.Name())); err != nil {
			return removed, fmt.Errorf("wal: archive remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func roundUp(n, unit int64) int64 {
	if unit <= 0 {
		return n
	}
	if n%unit == 0 {
		return n
	}
	return (n/unit + 1) * unit
}
