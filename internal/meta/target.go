package meta

import (
	"fmt"

	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
)

// RecoveryTarget adapts the dhandle Registry into internal/recovery's
// Target interface: a committed Put/Remove record names a URI, which
// this type resolves to an already-open (or lazily opened) Btree and
// applies the operation to via a one-off cursor and its own
// auto-commit transaction, mirroring Metadata's own Get/Put shape.
type RecoveryTarget struct {
	registry *Registry
	global   *txn.Global
	session  *txn.SessionState
	hazards  *page.Registry
	metadata *Metadata

	// Opener builds a fresh Btree for a URI recovery has not already
	// opened this run — e.g. reading its root cookie back out of the
	// metadata table and attaching the matching on-disk file. Left
	// nil in tests that pre-populate every URI via Registry.Open.
	Opener func(uri string) (*btree.Btree, error)
}

// NewRecoveryTarget builds a target that applies replayed row writes
// via registry/Opener and replayed schema writes (uri == Table)
// directly against metadata, bypassing registry/Opener entirely since
// the metadata table is never one of its own registered handles.
func NewRecoveryTarget(registry *Registry, global *txn.Global, metadata *Metadata) *RecoveryTarget {
	return &RecoveryTarget{
		registry: registry,
		global:   global,
		session:  global.NewSession(),
		hazards:  page.NewRegistry(),
		metadata: metadata,
	}
}

func (t *RecoveryTarget) resolve(uri string) (*Handle, error) {
	if h, ok := t.registry.Lookup(uri); ok {
		return h, nil
	}
	if t.Opener == nil {
		return nil, fmt.Errorf("meta: recovery target: %s has no open handle and no opener configured", uri)
	}
	return t.registry.Open(uri, func() (*btree.Btree, error) { return t.Opener(uri) })
}

func (t *RecoveryTarget) Put(uri string, key, value []byte) error {
	if uri == Table {
		if err := t.metadata.applyPut(key, value); err != nil {
			return fmt.Errorf("meta: recovery put %s: %w", uri, err)
		}
		return nil
	}

	h, err := t.resolve(uri)
	if err != nil {
		return fmt.Errorf("meta: recovery put %s: %w", uri, err)
	}

	tr := txn.Begin(t.global, t.session, txn.Snapshot)
	hz := t.hazards.Register()
	defer t.hazards.Unregister(hz)

	c := btree.NewCursor(h.Tree, tr, hz)
	if err := c.Insert(key, value); err != nil {
		c.Close()
		tr.Rollback()
		return fmt.Errorf("meta: recovery put %s: %w", uri, err)
	}
	c.Close()
	return tr.Commit()
}

func (t *RecoveryTarget) Remove(uri string, key []byte) error {
	if uri == Table {
		if err := t.metadata.applyRemove(key); err != nil {
			return fmt.Errorf("meta: recovery remove %s: %w", uri, err)
		}
		return nil
	}

	h, err := t.resolve(uri)
	if err != nil {
		return fmt.Errorf("meta: recovery remove %s: %w", uri, err)
	}

	tr := txn.Begin(t.global, t.session, txn.Snapshot)
	hz := t.hazards.Register()
	defer t.hazards.Unregister(hz)

	c := btree.NewCursor(h.Tree, tr, hz)
	if err := c.Remove(key); err != nil {
		c.Close()
		tr.Rollback()
		return fmt.Errorf("meta: recovery remove %s: %w", uri, err)
	}
	c.Close()
	return tr.Commit()
}
