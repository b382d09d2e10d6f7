package meta

import (
	"fmt"
	"strconv"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/config"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/recovery"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/cuemby/kvaerner/internal/wal"
)

// Table names the metadata btree's own URI: a special file keyed by
// every other object's URI, value a config string.
const Table = "metadata:"

// Metadata is the metadata table: URI -> config string, plus the
// transaction state it needs to run its own small, self-contained
// read/write operations (every Get/Put/Remove is its own auto-commit
// transaction; the metadata table never participates in a caller's
// multi-operation transaction). Unlike an ordinary file: table, its
// own root cookie cannot live inside its own config-string entries
// (that would be circular), so it is anchored in blk's fixed
// description page instead (see internal/block.Manager.WriteDescriptor).
type Metadata struct {
	tree    *btree.Btree
	hazards *page.Registry
	global  *txn.Global
	session *txn.SessionState

	blk *block.Manager
	log *wal.Log // nil in tests that exercise Metadata without a log
}

// Open attaches the metadata table to blk, reading back blk's
// description page to find a prior checkpoint's root; a file with no
// description page yet (brand-new, or predating this on-disk format)
// starts from a single empty leaf. log is used to make Put/Remove
// durable between checkpoints, mirroring how Cursor.write logs row
// writes; it may be nil in tests that only exercise Get/Put/Remove
// in isolation.
func Open(global *txn.Global, blk *block.Manager, log *wal.Log) (*Metadata, error) {
	priorRoot, _, ok, err := blk.ReadDescriptor()
	if err != nil {
		return nil, fmt.Errorf("meta: open: %w", err)
	}

	var root *page.Ref
	if ok {
		root = page.NewDiskRef(nil, 0, priorRoot)
	} else {
		leaf := page.NewLeafPage(codec.TypeLeafRow)
		root = page.NewRef(nil, 0, leaf)
		leaf.ParentRef.Store(root)
	}

	hazards := page.NewRegistry()
	tree := btree.New(root, blk, codec.NoCompression{}, btree.DefaultConfig(), hazards)
	return &Metadata{
		tree:    tree,
		hazards: hazards,
		global:  global,
		session: global.NewSession(),
		blk:     blk,
		log:     log,
	}, nil
}

// Tree exposes the underlying Btree so it can be registered with a
// checkpointer the same way any other open table is.
func (m *Metadata) Tree() *btree.Btree { return m.tree }

// Get returns uri's config string, or ok=false if uri has no entry.
func (m *Metadata) Get(uri string) (value string, ok bool, err error) {
	tr := txn.Begin(m.global, m.session, txn.Snapshot)
	hz := m.hazards.Register()
	defer m.hazards.Unregister(hz)

	c := btree.NewCursor(m.tree, tr, hz)
	defer c.Close()

	exact, err := c.Seek([]byte(uri))
	if err != nil {
		return "", false, fmt.Errorf("meta: get %s: %w", uri, err)
	}
	if !exact {
		return "", false, nil
	}
	_, val, visible := c.Value()
	if !visible {
		return "", false, nil
	}
	return string(val), true, nil
}

// Put creates or overwrites uri's config string entry, logging it to
// the write-ahead log the same way Cursor.write logs a row write, so a
// schema change survives a crash before the next checkpoint anchors
// it in blk's description page.
func (m *Metadata) Put(uri, value string) error {
	tr := txn.Begin(m.global, m.session, txn.Snapshot)
	hz := m.hazards.Register()
	defer m.hazards.Unregister(hz)

	c := btree.NewCursor(m.tree, tr, hz)
	if err := c.Insert([]byte(uri), []byte(value)); err != nil {
		c.Close()
		tr.Rollback()
		return fmt.Errorf("meta: put %s: %w", uri, err)
	}
	c.Close()

	if m.log != nil {
		payload := recovery.EncodePut(tr.ID, Table, []byte(uri), []byte(value))
		if _, err := m.log.Append(payload, wal.SyncFlags{}); err != nil {
			tr.Rollback()
			return fmt.Errorf("meta: put %s: wal append: %w", uri, err)
		}
	}
	return m.commit(tr, uri, "put")
}

// Remove deletes uri's entry. Removing an absent entry is not an
// error — schema drop is idempotent at this layer.
func (m *Metadata) Remove(uri string) error {
	tr := txn.Begin(m.global, m.session, txn.Snapshot)
	hz := m.hazards.Register()
	defer m.hazards.Unregister(hz)

	c := btree.NewCursor(m.tree, tr, hz)
	if err := c.Remove([]byte(uri)); err != nil {
		c.Close()
		tr.Rollback()
		return fmt.Errorf("meta: remove %s: %w", uri, err)
	}
	c.Close()

	if m.log != nil {
		payload := recovery.EncodeRemove(tr.ID, Table, []byte(uri))
		if _, err := m.log.Append(payload, wal.SyncFlags{}); err != nil {
			tr.Rollback()
			return fmt.Errorf("meta: remove %s: wal append: %w", uri, err)
		}
	}
	return m.commit(tr, uri, "remove")
}

// commit logs tr's commit record (when m.log is set) and finalizes
// it, mirroring DB.commitTxn for the metadata table's own writes.
func (m *Metadata) commit(tr *txn.Transaction, uri, op string) error {
	if m.log != nil {
		if _, err := m.log.Append(recovery.EncodeCommit(tr.ID), wal.SyncFlags{FSync: true}); err != nil {
			tr.Rollback()
			return fmt.Errorf("meta: %s %s: wal append commit: %w", op, uri, err)
		}
	}
	return tr.Commit()
}

// applyPut installs key -> value directly into the metadata tree with
// no write-ahead logging, used by RecoveryTarget to replay a
// previously committed schema write without re-appending it to the
// log it was just read from.
func (m *Metadata) applyPut(key, value []byte) error {
	tr := txn.Begin(m.global, m.session, txn.Snapshot)
	hz := m.hazards.Register()
	defer m.hazards.Unregister(hz)

	c := btree.NewCursor(m.tree, tr, hz)
	if err := c.Insert(key, value); err != nil {
		c.Close()
		tr.Rollback()
		return fmt.Errorf("meta: replay put %s: %w", key, err)
	}
	c.Close()
	return tr.Commit()
}

// applyRemove is applyPut's counterpart for a replayed schema removal.
func (m *Metadata) applyRemove(key []byte) error {
	tr := txn.Begin(m.global, m.session, txn.Snapshot)
	hz := m.hazards.Register()
	defer m.hazards.Unregister(hz)

	c := btree.NewCursor(m.tree, tr, hz)
	if err := c.Remove(key); err != nil {
		c.Close()
		tr.Rollback()
		return fmt.Errorf("meta: replay remove %s: %w", key, err)
	}
	c.Close()
	return tr.Commit()
}

// List returns every URI currently in the metadata table along with
// its config string.
func (m *Metadata) List() (map[string]string, error) {
	tr := txn.Begin(m.global, m.session, txn.Snapshot)
	hz := m.hazards.Register()
	defer m.hazards.Unregister(hz)

	c := btree.NewCursor(m.tree, tr, hz)
	defer c.Close()

	out := make(map[string]string)
	ok, err := c.First()
	if err != nil {
		return nil, fmt.Errorf("meta: list: %w", err)
	}
	for ok {
		key, val, visible := c.Value()
		if visible {
			out[string(key)] = string(val)
		}
		ok, err = c.Next()
		if err != nil {
			return nil, fmt.Errorf("meta: list: %w", err)
		}
	}
	return out, nil
}

// UpdateRoot rewrites uri's stored checkpoint root cookie, called from
// checkpoint.Config.UpdateMetadata once a tree's leaves have been
// reconciled. The rest of uri's config string (key/value formats,
// compression) is preserved by parsing the existing entry and setting
// only the checkpoint_root_* / checkpoint_generation keys, rather than
// round-tripping through the nested checkpoint=(...) group the format
// table names — flat keys keep Serialize's output trivially
// reparseable without needing a Config.SetSub.
//
// uri == Table is the metadata tree checkpointing itself: since its
// root cannot be recorded inside its own config-string entries
// without circularity, it is written to blk's fixed description page
// instead.
func (m *Metadata) UpdateRoot(uri string, root codec.Cookie, generation uint64) error {
	if uri == Table {
		if err := m.blk.WriteDescriptor(root, generation); err != nil {
			return fmt.Errorf("meta: update root %s: %w", uri, err)
		}
		return nil
	}

	existing, ok, err := m.Get(uri)
	if err != nil {
		return fmt.Errorf("meta: update root %s: %w", uri, err)
	}
	cfg := config.Empty()
	if ok {
		cfg, err = config.Parse(existing)
		if err != nil {
			return fmt.Errorf("meta: update root %s: %w", uri, err)
		}
	}
	cfg.Set("checkpoint_root_off", strconv.FormatInt(root.Off, 10))
	cfg.Set("checkpoint_root_size", strconv.FormatInt(root.Size, 10))
	cfg.Set("checkpoint_root_checksum", strconv.FormatUint(root.Checksum, 16))
	cfg.Set("checkpoint_generation", strconv.FormatUint(generation, 10))

	if err := m.Put(uri, cfg.Serialize()); err != nil {
		return fmt.Errorf("meta: update root %s: %w", uri, err)
	}
	return nil
}
