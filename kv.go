package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/cache"
	"github.com/cuemby/kvaerner/internal/checkpoint"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/config"
	"github.com/cuemby/kvaerner/internal/logging"
	"github.com/cuemby/kvaerner/internal/lsm"
	"github.com/cuemby/kvaerner/internal/meta"
	"github.com/cuemby/kvaerner/internal/metrics"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/recovery"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/cuemby/kvaerner/internal/wal"
)

// ErrTableExists is returned by Session.Create when uri already has a
// metadata entry.
var ErrTableExists = errors.New("kvaerner: table exists")

// ErrTableNotFound is returned by Session.OpenCursor and Session.Drop
// when uri has no metadata entry.
var ErrTableNotFound = errors.New("kvaerner: table not found")

// ErrUnsupported is returned for an operation a table kind does not
// implement (e.g. Prev on an lsm: table).
var ErrUnsupported = errors.New("kvaerner: unsupported for this table kind")

const metadataFile = "metadata.kvt"

// Config configures Open. Zero-value fields fall back to the matching
// internal package's own DefaultConfig, mirroring how
// internal/config.EngineConfig leaves its own fields optional.
type Config struct {
	Dir string

	Isolation txn.Isolation

	Cache      cache.Config
	Checkpoint checkpoint.Config
	WAL        wal.Config
	LSM        lsm.Config
	Block      block.Config

	MetricsInterval time.Duration

	// NoBackground disables every server goroutine (eviction,
	// checkpoint timer, LSM manager, metrics collector). Checkpoint and
	// recovery still run synchronously on Open/Close/Checkpoint. Used
	// by tests that want deterministic, single-threaded behavior.
	NoBackground bool
}

// DefaultConfig returns sane defaults for a database rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		Isolation:       txn.Snapshot,
		Cache:           cache.DefaultConfig(),
		Checkpoint:      checkpoint.DefaultConfig(),
		WAL:             wal.DefaultConfig(filepath.Join(dir, "log")),
		LSM:             lsm.DefaultConfig(),
		Block:           block.Config{AllocationSize: 4096},
		MetricsInterval: 5 * time.Second,
	}
}

// ApplyEngineConfig overlays an EngineConfig loaded from YAML onto
// cfg, leaving zero fields in ec untouched. Isolation is parsed
// against the three names the config-string grammar recognizes; an
// unrecognized value is left as cfg's existing isolation rather than
// erroring, since this is a best-effort overlay of operator-facing
// defaults, not a validated config string.
func ApplyEngineConfig(cfg *Config, ec *config.EngineConfig) {
	if ec == nil {
		return
	}
	if ec.CacheSize > 0 {
		cfg.Cache.MaxBytes = ec.CacheSize
		cfg.Cache.TargetBytes = ec.CacheSize * 8 / 10
	}
	if ec.LogPath != "" {
		cfg.WAL.Dir = ec.LogPath
	}
	if ec.LogFileMax > 0 {
		cfg.WAL.FileMax = ec.LogFileMax
	}
	switch ec.Isolation {
	case "read-uncommitted":
		cfg.Isolation = txn.ReadUncommitted
	case "read-committed":
		cfg.Isolation = txn.ReadCommitted
	case "snapshot":
		cfg.Isolation = txn.Snapshot
	}
}

type tableKind int

const (
	kindBtree tableKind = iota
	kindLSM
)

type tableEntry struct {
	kind    tableKind
	handle  *meta.Handle
	lsmTree *lsm.Tree
}

// DB is one open database directory, wiring every internal/ layer
// together (block manager per file, cache, transaction table,
// write-ahead log, checkpointer, LSM manager, metrics collector).
type DB struct {
	cfg Config

	global   *txn.Global
	hazards  *page.Registry
	registry *meta.Registry

	metaBlock *block.Manager
	metadata  *meta.Metadata

	log          *wal.Log
	cacheSrv     *cache.Cache
	checkpointer *checkpoint.Checkpointer
	lsmManager   *lsm.Manager
	collector    *metrics.Collector

	mu     sync.Mutex
	tables map[string]*tableEntry

	sessMu   sync.Mutex
	sessions map[*txn.SessionState]*Session

	closed atomic.Bool
}

// Open creates dir if absent, attaches (or creates) the metadata
// table, replays the write-ahead log past the last checkpoint, and
// starts the background servers unless cfg.NoBackground is set.
func Open(cfg Config) (*DB, error) {
	if cfg.Dir == "" {
		return nil, errors.New("kvaerner: Config.Dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("kvaerner: open: %w", err)
	}
	if cfg.Cache.MaxBytes == 0 {
		cfg.Cache = cache.DefaultConfig()
	}
	if cfg.Checkpoint.Interval == 0 {
		cfg.Checkpoint = checkpoint.DefaultConfig()
	}
	if cfg.WAL.Dir == "" {
		cfg.WAL = wal.DefaultConfig(filepath.Join(cfg.Dir, "log"))
	}
	if cfg.Block.AllocationSize == 0 {
		cfg.Block = block.Config{AllocationSize: 4096}
	}
	if cfg.MetricsInterval == 0 {
		cfg.MetricsInterval = 5 * time.Second
	}

	log, err := wal.Open(cfg.WAL)
	if err != nil {
		return nil, fmt.Errorf("kvaerner: open log: %w", err)
	}

	metaBlock, err := openOrCreateBlockFile(filepath.Join(cfg.Dir, metadataFile), cfg.Block)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("kvaerner: open metadata file: %w", err)
	}

	global := txn.NewGlobal()
	hazards := page.NewRegistry()
	registry := meta.NewRegistry()
	metadata, err := meta.Open(global, metaBlock, log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("kvaerner: open metadata: %w", err)
	}

	db := &DB{
		cfg:       cfg,
		global:    global,
		hazards:   hazards,
		registry:  registry,
		metaBlock: metaBlock,
		metadata:  metadata,
		log:       log,
		tables:    make(map[string]*tableEntry),
		sessions:  make(map[*txn.SessionState]*Session),
	}

	cacheCfg := cfg.Cache
	cacheCfg.RollbackOldest = db.rollbackOldestSession
	db.cacheSrv = cache.New(cacheCfg, global, hazards)

	ckptCfg := cfg.Checkpoint
	ckptCfg.UpdateMetadata = metadata.UpdateRoot
	db.checkpointer = checkpoint.New(ckptCfg, log, global)

	db.cacheSrv.RegisterTree(&cache.Tree{URI: meta.Table, Root: metadata.Tree().Root, Block: metaBlock, Compressor: codec.NoCompression{}, NoEviction: true})
	db.checkpointer.RegisterTree(&checkpoint.Tree{URI: meta.Table, Root: metadata.Tree().Root, Block: metaBlock, Compressor: codec.NoCompression{}})

	recoveryTarget := meta.NewRecoveryTarget(registry, global, metadata)
	recoveryTarget.Opener = db.openBtreeForRecovery
	if _, err := recovery.Recover(log, recoveryTarget, recovery.Config{}); err != nil {
		log.Close()
		return nil, fmt.Errorf("kvaerner: recovery: %w", err)
	}

	if err := db.reattachTables(); err != nil {
		log.Close()
		return nil, fmt.Errorf("kvaerner: reattach tables: %w", err)
	}

	db.collector = metrics.NewCollector(cfg.MetricsInterval)
	db.collector.Cache = db.cacheSrv
	db.collector.Global = global
	db.collector.Log = log
	db.collector.Checkpointer = db.checkpointer

	if !cfg.NoBackground {
		db.cacheSrv.Start()
		db.checkpointer.Start()
		db.collector.Start()
	}

	logging.WithComponent("kv").Info().Str("dir", cfg.Dir).Msg("database open")
	return db, nil
}

// reattachTables re-registers every file: table still present in the
// metadata table with the cache and checkpointer. A URI recovery
// already opened via the RecoveryTarget's registry (because a
// committed write landed against it after the last checkpoint) keeps
// that handle, preserving whatever replay just applied to it;
// everything else is opened fresh here, its tree rooted at the
// on-disk address metadata.List's checkpoint_root_* entry names
// (openBtreeFromCheckpoint), not at a brand-new empty leaf.
func (db *DB) reattachTables() error {
	entries, err := db.metadata.List()
	if err != nil {
		return err
	}
	for uri, configStr := range entries {
		if uri == meta.Table || !strings.HasPrefix(uri, "file:") {
			continue
		}
		if h, ok := db.registry.Lookup(uri); ok {
			db.attachBtreeHandle(uri, h)
			continue
		}
		h, err := db.registry.Open(uri, func() (*btree.Btree, error) {
			return db.openBtreeFromCheckpoint(uri, configStr)
		})
		if err != nil {
			return fmt.Errorf("kvaerner: reattach %s: %w", uri, err)
		}
		db.attachBtreeHandle(uri, h)
	}
	return nil
}

// attachBtreeHandle records uri's handle in db.tables and registers
// its tree with the cache and checkpointer, the common tail of both
// Session.createBtreeTable and reattachTables.
func (db *DB) attachBtreeHandle(uri string, h *meta.Handle) {
	db.mu.Lock()
	db.tables[uri] = &tableEntry{kind: kindBtree, handle: h}
	db.mu.Unlock()
	db.cacheSrv.RegisterTree(&cache.Tree{URI: uri, Root: h.Tree.Root, Block: h.Tree.Block, Compressor: h.Tree.Compressor})
	db.checkpointer.RegisterTree(&checkpoint.Tree{URI: uri, Root: h.Tree.Root, Block: h.Tree.Block, Compressor: h.Tree.Compressor})
}

// openBtreeForRecovery builds uri's Btree when recovery encounters a
// committed op against a URI it has not already opened this run,
// reading uri's config string back out of the already-reopened
// metadata table (itself bootstrapped from the block descriptor ahead
// of this call) so a write replayed after the last checkpoint lands
// against the table's true prior content instead of a fresh tree.
func (db *DB) openBtreeForRecovery(uri string) (*btree.Btree, error) {
	configStr, _, err := db.metadata.Get(uri)
	if err != nil {
		return nil, fmt.Errorf("open %s for recovery: %w", uri, err)
	}
	return db.openBtreeFromCheckpoint(uri, configStr)
}

// openBtreeFromCheckpoint opens uri's backing file and roots its tree
// at configStr's checkpoint_root_* cookie via page.NewDiskRef when one
// is present, lazily read in by the first descent that reaches it
// (internal/btree.Btree.readIn); a uri with no such cookie yet (just
// created, never checkpointed) starts from a fresh empty leaf.
func (db *DB) openBtreeFromCheckpoint(uri, configStr string) (*btree.Btree, error) {
	name := sanitizeURI(uri)
	blk, err := openOrCreateBlockFile(filepath.Join(db.cfg.Dir, name+".kvt"), db.cfg.Block)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Parse(configStr)
	if err != nil {
		return nil, fmt.Errorf("open %s: parse config: %w", uri, err)
	}
	compressor := compressorFor(cfg)

	var root *page.Ref
	if cookie, ok := checkpointRootCookie(cfg); ok {
		root = page.NewDiskRef(nil, 0, cookie)
	} else {
		leaf := page.NewLeafPage(codec.TypeLeafRow)
		root = page.NewRef(nil, 0, leaf)
		leaf.ParentRef.Store(root)
	}
	return btree.New(root, blk, compressor, btree.DefaultConfig(), db.hazards), nil
}

// checkpointRootCookie parses the checkpoint_root_* keys UpdateRoot
// writes back into a table's config string, or reports ok=false if
// the table has never been through a checkpoint.
func checkpointRootCookie(cfg *config.Config) (codec.Cookie, bool) {
	if !cfg.Has("checkpoint_root_off") {
		return codec.Cookie{}, false
	}
	checksum, err := strconv.ParseUint(cfg.String("checkpoint_root_checksum", "0"), 16, 64)
	if err != nil {
		return codec.Cookie{}, false
	}
	return codec.Cookie{
		Off:      cfg.Int("checkpoint_root_off", 0),
		Size:     cfg.Int("checkpoint_root_size", 0),
		Checksum: checksum,
	}, true
}

func (db *DB) rollbackOldestSession() error {
	db.sessMu.Lock()
	defer db.sessMu.Unlock()
	oldest := db.global.OldestID()
	for _, s := range db.sessions {
		s.mu.Lock()
		t := s.txn
		if t != nil && t.ID == oldest {
			db.rollbackTxn(t)
			s.txn = nil
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()
	}
	return nil
}

// OpenSession starts a new session: its own hazard-pointer slot and
// transaction-table registration, closed by Session.Close.
func (db *DB) OpenSession() *Session {
	state := db.global.NewSession()
	s := &Session{
		db:        db,
		state:     state,
		hz:        db.hazards.Register(),
		isolation: db.cfg.Isolation,
	}
	db.sessMu.Lock()
	db.sessions[state] = s
	db.sessMu.Unlock()
	return s
}

func (db *DB) closeSession(s *Session) {
	db.sessMu.Lock()
	delete(db.sessions, s.state)
	db.sessMu.Unlock()
	db.hazards.Unregister(s.hz)
	db.global.CloseSession(s.state)
}

// Checkpoint runs one synchronous checkpoint pass against every
// registered table.
func (db *DB) Checkpoint() error {
	return db.checkpointer.Run()
}

// ListTables returns every table URI currently in the metadata table.
// The metadata table's own metadata: URI is not among them.
func (db *DB) ListTables() ([]string, error) {
	entries, err := db.metadata.List()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for uri := range entries {
		out = append(out, uri)
	}
	return out, nil
}

// TableConfig returns uri's stored config string, or ok=false if it
// has no metadata entry.
func (db *DB) TableConfig(uri string) (configStr string, ok bool, err error) {
	return db.metadata.Get(uri)
}

// Verify runs a read-only consistency walk over uri's tree. Only
// file: tables are supported; for an lsm: table it returns
// ErrUnsupported.
func (db *DB) Verify(uri string) (*btree.VerifyReport, error) {
	db.mu.Lock()
	te, ok := db.tables[uri]
	db.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("kvaerner: verify %s: %w", uri, ErrTableNotFound)
	}
	if te.kind != kindBtree {
		return nil, fmt.Errorf("kvaerner: verify %s: %w", uri, ErrUnsupported)
	}
	return te.handle.Tree.Verify(context.Background())
}

// Salvage rebuilds uri's free-extent bookkeeping from a page-by-page
// scan of its backing file, recovering what it can of a corrupted
// file rather than refusing to open it.
func (db *DB) Salvage(uri string) (*block.SalvageReport, error) {
	db.mu.Lock()
	te, ok := db.tables[uri]
	db.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("kvaerner: salvage %s: %w", uri, ErrTableNotFound)
	}
	if te.kind != kindBtree {
		return nil, fmt.Errorf("kvaerner: salvage %s: %w", uri, ErrUnsupported)
	}
	blk := te.handle.Tree.Block
	return blk.Salvage(
		func(off, size int64) ([]byte, error) {
			buf := make([]byte, size)
			f, err := os.Open(filepath.Join(db.cfg.Dir, sanitizeURI(uri)+".kvt"))
			if err != nil {
				return nil, err
			}
			defer f.Close()
			if _, err := f.ReadAt(buf, off); err != nil {
				return nil, err
			}
			return buf, nil
		},
		codec.VerifyPage,
	)
}

// Close runs a final checkpoint, stops every background server, and
// closes the write-ahead log.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if err := db.checkpointer.Run(); err != nil {
		firstErr = fmt.Errorf("kvaerner: close: final checkpoint: %w", err)
	}
	if !db.cfg.NoBackground {
		db.cacheSrv.Stop()
		db.checkpointer.Stop()
		db.collector.Stop()
		if db.lsmManager != nil {
			db.lsmManager.Stop()
		}
	}
	if err := db.log.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("kvaerner: close: log: %w", err)
	}
	logging.WithComponent("kv").Info().Str("dir", db.cfg.Dir).Msg("database closed")
	return firstErr
}

func sanitizeURI(uri string) string {
	return strings.NewReplacer(":", "_", "/", "_").Replace(uri)
}

func openOrCreateBlockFile(path string, cfg block.Config) (*block.Manager, error) {
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, err
	}
	return block.Open(path, fh, info.Size(), cfg.AllocationSize, cfg), nil
}
