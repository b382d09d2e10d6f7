package reconcile

import (
	"os"
	"testing"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/stretchr/testify/require"
)

func newTestBlock(t *testing.T) *block.Manager {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kvaerner-reconcile-*")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return block.Open("test://reconcile", f, 0, 0, block.Config{AllocationSize: 4096})
}

func insertRow(t *testing.T, leaf *page.Page, key, value []byte, txnID uint64) {
	t.Helper()
	st, exact := leaf.Inserts.Search(key)
	var chain *page.Chain
	if exact != nil {
		chain = &exact.Chain
	} else {
		node, ok := leaf.Inserts.InsertCAS(key, st)
		require.True(t, ok)
		chain = &node.Chain
	}
	chain.Push(page.NewUpdate(txnID, value, false))
}

func TestReconcileProducesReadableBoundary(t *testing.T) {
	leaf := page.NewLeafPage(codec.TypeLeafRow)
	insertRow(t, leaf, []byte("alpha"), []byte("1"), 1)
	insertRow(t, leaf, []byte("beta"), []byte("2"), 1)
	insertRow(t, leaf, []byte("gamma"), []byte("3"), 1)

	blk := newTestBlock(t)
	cfg := DefaultConfig()

	result, err := Reconcile(leaf, blk, codec.NoCompression{}, 100, cfg)
	require.NoError(t, err)
	require.False(t, result.LeaveDirty)
	require.Len(t, result.Boundaries, 1)
	require.Equal(t, 3, result.Boundaries[0].Entries)

	hdr, payload, err := codec.ReadPage(blk.File(), result.Boundaries[0].Addr, codec.NoCompression{})
	require.NoError(t, err)
	require.Equal(t, codec.TypeLeafRow, hdr.Type)
	require.NotEmpty(t, payload)
}

func TestReconcileLeavesDirtyWhenUpdateNotVisible(t *testing.T) {
	leaf := page.NewLeafPage(codec.TypeLeafRow)
	insertRow(t, leaf, []byte("alpha"), []byte("1"), 500) // not yet below oldest

	blk := newTestBlock(t)
	result, err := Reconcile(leaf, blk, codec.NoCompression{}, 100, DefaultConfig())
	require.NoError(t, err)
	require.True(t, result.LeaveDirty)
	require.Empty(t, result.Boundaries)
}

func TestReconcileWritesOverflowBlock(t *testing.T) {
	leaf := page.NewLeafPage(codec.TypeLeafRow)
	big := make([]byte, 8192)
	for i := range big {
		big[i] = byte(i)
	}
	insertRow(t, leaf, []byte("huge"), big, 1)

	blk := newTestBlock(t)
	cfg := DefaultConfig()
	cfg.OverflowMin = 1024

	result, err := Reconcile(leaf, blk, codec.NoCompression{}, 100, cfg)
	require.NoError(t, err)
	require.Len(t, result.Boundaries, 1)

	mod := leaf.Modify()
	require.Len(t, mod.OverflowReuse, 1)
}
