package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/cache"
	"github.com/cuemby/kvaerner/internal/checkpoint"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/config"
	"github.com/cuemby/kvaerner/internal/logging"
	"github.com/cuemby/kvaerner/internal/lsm"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/recovery"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/cuemby/kvaerner/internal/wal"
)

// Session is one application thread's handle onto a DB: its own
// hazard-pointer slot, and at most one explicit transaction at a
// time. A Session must not be shared across goroutines (its hazard
// set isn't; see internal/page.HazardSet).
type Session struct {
	db        *DB
	state     *txn.SessionState
	hz        *page.HazardSet
	isolation txn.Isolation

	mu  sync.Mutex
	txn *txn.Transaction // non-nil while an explicit transaction is open
}

// Close ends the session. Any open explicit transaction is rolled
// back first.
func (s *Session) Close() {
	s.mu.Lock()
	if s.txn != nil {
		s.rollbackLocked()
	}
	s.mu.Unlock()
	s.db.closeSession(s)
}

// Begin starts an explicit transaction under isolation, superseding
// the session's default for its lifetime. Every cursor opened while
// it is running shares it; writes are not autocommit and only take
// effect at Commit.
func (s *Session) Begin(isolation txn.Isolation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn != nil {
		return fmt.Errorf("kvaerner: session: transaction already open")
	}
	s.txn = txn.Begin(s.db.global, s.state, isolation)
	return nil
}

// Commit logs a commit record (if the transaction assigned an id,
// i.e. actually wrote something) and finalizes it.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return fmt.Errorf("kvaerner: session: no open transaction")
	}
	t := s.txn
	s.txn = nil
	return s.db.commitTxn(t)
}

// Rollback undoes every update the transaction made and releases its
// snapshot membership.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return fmt.Errorf("kvaerner: session: no open transaction")
	}
	s.rollbackLocked()
	return nil
}

func (s *Session) rollbackLocked() {
	s.db.rollbackTxn(s.txn)
	s.txn = nil
}

// commitTxn logs t's commit record (skipped if t never wrote, i.e.
// never assigned an id) and finalizes it.
func (db *DB) commitTxn(t *txn.Transaction) error {
	if t.ID != txn.None {
		if _, err := db.log.Append(recovery.EncodeCommit(t.ID), wal.SyncFlags{FSync: true}); err != nil {
			t.Rollback()
			return fmt.Errorf("kvaerner: commit: wal append: %w", err)
		}
	}
	return t.Commit()
}

// rollbackTxn logs an abort record for a transaction that wrote
// something, best-effort (the transaction is unwound either way).
func (db *DB) rollbackTxn(t *txn.Transaction) {
	if t.ID != txn.None {
		if _, err := db.log.Append(recovery.EncodeAbort(t.ID), wal.SyncFlags{}); err != nil {
			logging.WithComponent("kv").Warn().Err(err).Msg("rollback: wal append abort record failed")
		}
	}
	t.Rollback()
}

// Create registers a new table under uri ("file:name" or "lsm:name")
// with the config string configStr, allocates its backing file(s),
// and persists its metadata entry.
func (s *Session) Create(uri, configStr string) error {
	db := s.db
	db.mu.Lock()
	if _, exists := db.tables[uri]; exists {
		db.mu.Unlock()
		return fmt.Errorf("kvaerner: create %s: %w", uri, ErrTableExists)
	}
	db.mu.Unlock()

	cfg, err := config.Parse(configStr)
	if err != nil {
		return fmt.Errorf("kvaerner: create %s: %w", uri, err)
	}

	switch {
	case strings.HasPrefix(uri, "lsm:"):
		return db.createLSMTable(uri, cfg, configStr)
	case strings.HasPrefix(uri, "file:"):
		return db.createBtreeTable(uri, cfg, configStr)
	default:
		return fmt.Errorf("kvaerner: create %s: uri must start with file: or lsm:", uri)
	}
}

func (db *DB) createBtreeTable(uri string, cfg *config.Config, configStr string) error {
	blk, err := openOrCreateBlockFile(filepath.Join(db.cfg.Dir, sanitizeURI(uri)+".kvt"), db.cfg.Block)
	if err != nil {
		return fmt.Errorf("kvaerner: create %s: %w", uri, err)
	}

	leaf := page.NewLeafPage(codec.TypeLeafRow)
	root := page.NewRef(nil, 0, leaf)
	leaf.ParentRef.Store(root)
	compressor := compressorFor(cfg)
	tree := btree.New(root, blk, compressor, btree.DefaultConfig(), db.hazards)

	h, err := db.registry.Open(uri, func() (*btree.Btree, error) { return tree, nil })
	if err != nil {
		return fmt.Errorf("kvaerner: create %s: %w", uri, err)
	}

	if err := db.metadata.Put(uri, configStr); err != nil {
		return fmt.Errorf("kvaerner: create %s: %w", uri, err)
	}

	db.mu.Lock()
	db.tables[uri] = &tableEntry{kind: kindBtree, handle: h}
	db.mu.Unlock()

	db.cacheSrv.RegisterTree(&cache.Tree{URI: uri, Root: root, Block: blk, Compressor: compressor})
	db.checkpointer.RegisterTree(&checkpoint.Tree{URI: uri, Root: root, Block: blk, Compressor: compressor})
	return nil
}

func (db *DB) createLSMTable(uri string, cfg *config.Config, configStr string) error {
	lsmCfg := lsm.ParseConfig(cfg)
	dir := filepath.Join(db.cfg.Dir, "lsm", sanitizeURI(uri))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("kvaerner: create %s: %w", uri, err)
	}

	open := func(id string) (*btree.Btree, *block.Manager, error) {
		blk, err := openOrCreateBlockFile(filepath.Join(dir, id+".kvt"), db.cfg.Block)
		if err != nil {
			return nil, nil, err
		}
		leaf := page.NewLeafPage(codec.TypeLeafRow)
		root := page.NewRef(nil, 0, leaf)
		leaf.ParentRef.Store(root)
		return btree.New(root, blk, codec.NoCompression{}, lsmCfg.Btree, db.hazards), blk, nil
	}

	tree, err := lsm.New(uri, lsmCfg, open, db.global, db.hazards)
	if err != nil {
		return fmt.Errorf("kvaerner: create %s: %w", uri, err)
	}

	if err := db.metadata.Put(uri, configStr); err != nil {
		return fmt.Errorf("kvaerner: create %s: %w", uri, err)
	}

	db.mu.Lock()
	db.tables[uri] = &tableEntry{kind: kindLSM, lsmTree: tree}
	if db.lsmManager == nil {
		db.lsmManager = lsm.NewManager(lsmCfg)
		if !db.cfg.NoBackground {
			db.lsmManager.Start()
		}
	}
	db.lsmManager.RegisterTree(tree)
	db.mu.Unlock()
	return nil
}

func compressorFor(cfg *config.Config) codec.Compressor {
	switch cfg.String("block_compressor", "none") {
	case "zstd":
		z, err := codec.NewZstdCompressor(0)
		if err == nil {
			return z
		}
	}
	return codec.NoCompression{}
}

// Drop removes uri's metadata entry. For a file: table it first
// releases the DB's own reference to the shared handle and then drops
// the handle (internal/meta.Registry.Drop refuses while any other
// reference remains); its backing file is left on disk.
func (s *Session) Drop(uri string) error {
	db := s.db
	db.mu.Lock()
	te, ok := db.tables[uri]
	db.mu.Unlock()
	if !ok {
		return fmt.Errorf("kvaerner: drop %s: %w", uri, ErrTableNotFound)
	}

	if te.kind == kindBtree {
		db.registry.Close(te.handle)
		if err := db.registry.Drop(uri); err != nil {
			return fmt.Errorf("kvaerner: drop %s: %w", uri, err)
		}
		db.cacheSrv.UnregisterTree(uri)
		db.checkpointer.UnregisterTree(uri)
	} else {
		db.mu.Lock()
		if db.lsmManager != nil {
			db.lsmManager.UnregisterTree(uri)
		}
		db.mu.Unlock()
	}

	if err := db.metadata.Remove(uri); err != nil {
		return fmt.Errorf("kvaerner: drop %s: %w", uri, err)
	}
	db.mu.Lock()
	delete(db.tables, uri)
	db.mu.Unlock()
	return nil
}

// OpenCursor opens a positioned iterator over uri. If the session has
// an explicit transaction open (Begin), the cursor shares it;
// otherwise reads run under one implicit snapshot for the cursor's
// lifetime and writes autocommit. The read-committed re-snapshot rule
// still applies per operation either way, via
// Transaction.RefreshIfReadCommitted.
func (s *Session) OpenCursor(uri string) (*Cursor, error) {
	db := s.db
	db.mu.Lock()
	te, ok := db.tables[uri]
	db.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("kvaerner: open cursor %s: %w", uri, ErrTableNotFound)
	}

	s.mu.Lock()
	explicit := s.txn != nil
	readTxn := s.txn
	s.mu.Unlock()
	if !explicit {
		readTxn = txn.Begin(db.global, s.state, s.isolation)
	}

	c := &Cursor{session: s, uri: uri, txn: readTxn, ownsTxn: !explicit}
	if te.kind == kindLSM {
		c.lsmTree = te.lsmTree
		c.lc = lsm.NewCursor(te.lsmTree, readTxn, s.hz)
	} else {
		c.tree = te.handle.Tree
		c.bc = btree.NewCursor(te.handle.Tree, readTxn, s.hz)
	}
	return c, nil
}
