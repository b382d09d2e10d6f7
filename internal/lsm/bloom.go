package lsm

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/holiman/bloomfilter/v2"
)

// Bloom is a chunk's negative-lookup filter: most keys absent from the
// chunk are rejected without a tree descent.
type Bloom struct {
	filter *bloomfilter.Filter
}

// MayContain reports whether key could be present in the chunk the
// filter was built from. false is authoritative; true only means "go
// look."
func (b *Bloom) MayContain(key []byte) bool {
	if b == nil || b.filter == nil {
		return true
	}
	return b.filter.Contains(xxhash.Sum64(key))
}

// BuildBloom walks every visible key in tree under a snapshot that
// sees everything committed as of the call (the chunk is already
// read-only by the time a flush triggers this) and inserts its hash
// into a fresh filter sized per cfg.
func BuildBloom(tree *btree.Btree, global *txn.Global, hazards *page.Registry, cfg Config) (*Bloom, error) {
	m := cfg.BloomBitCount
	k := cfg.BloomHashCount
	if m == 0 {
		m = 1
	}
	if k == 0 {
		k = 1
	}
	filter, err := bloomfilter.New(m, k)
	if err != nil {
		return nil, fmt.Errorf("lsm: new bloom filter: %w", err)
	}

	session := global.NewSession()
	tr := txn.Begin(global, session, txn.Snapshot)
	hz := hazards.Register()
	defer hazards.Unregister(hz)

	c := btree.NewCursor(tree, tr, hz)
	defer c.Close()

	ok, err := c.First()
	if err != nil {
		return nil, fmt.Errorf("lsm: build bloom: %w", err)
	}
	for ok {
		key, _, visible := c.Value()
		if visible {
			filter.Add(xxhash.Sum64(key))
		}
		ok, err = c.Next()
		if err != nil {
			return nil, fmt.Errorf("lsm: build bloom: %w", err)
		}
	}
	tr.Commit()

	return &Bloom{filter: filter}, nil
}
