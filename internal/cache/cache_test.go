package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/stretchr/testify/require"
)

func newTestBlock(t *testing.T) *block.Manager {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kvaerner-cache-*")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return block.Open("test://cache", f, 0, 0, block.Config{AllocationSize: 4096})
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

func newTestTree(t *testing.T, uri string) (*Tree, *page.Ref) {
	t.Helper()
	leaf := page.NewLeafPage(codec.TypeLeafRow)
	insertRow(t, leaf, []byte("alpha"), []byte("1"), 1)
	insertRow(t, leaf, []byte("beta"), []byte("2"), 1)

	root := page.NewRef(nil, 0, leaf)
	leaf.ParentRef.Store(root)

	blk := newTestBlock(t)
	return &Tree{URI: uri, Root: root, Block: blk, Compressor: codec.NoCompression{}}, root
}

func TestEvictionPassFreesColdLeaf(t *testing.T) {
	global := txn.NewGlobal()
	hazards := page.NewRegistry()
	c := New(DefaultConfig(), global, hazards)

	tree, root := newTestTree(t, "file:1")
	c.RegisterTree(tree)

	global.AllocateID() // bump current_id so oldest_id can advance past txn 1
	global.UpdateOldest()

	freed, err := c.runPass()
	require.NoError(t, err)
	require.Equal(t, 1, freed)
	require.Equal(t, page.RefDisk, root.State())
	require.Nil(t, root.Page())
}

func TestNoEvictionTreeIsSkipped(t *testing.T) {
	global := txn.NewGlobal()
	hazards := page.NewRegistry()
	c := New(DefaultConfig(), global, hazards)

	tree, root := newTestTree(t, "file:meta")
	tree.NoEviction = true
	c.RegisterTree(tree)
	global.UpdateOldest()

	freed, err := c.runPass()
	require.NoError(t, err)
	require.Equal(t, 0, freed)
	require.Equal(t, page.RefMem, root.State())
}

func TestHazardPointerBlocksEviction(t *testing.T) {
	global := txn.NewGlobal()
	hazards := page.NewRegistry()
	c := New(DefaultConfig(), global, hazards)

	tree, root := newTestTree(t, "file:2")
	c.RegisterTree(tree)
	global.UpdateOldest()

	hz := hazards.Register()
	release, ok := hz.Acquire(root.Page())
	require.True(t, ok)
	defer release()

	freed, err := c.runPass()
	require.NoError(t, err)
	require.Equal(t, 0, freed)
	require.Equal(t, page.RefMem, root.State())
}

func TestUncommittedUpdateLeavesPageDirty(t *testing.T) {
	global := txn.NewGlobal()
	hazards := page.NewRegistry()
	c := New(DefaultConfig(), global, hazards)

	leaf := page.NewLeafPage(codec.TypeLeafRow)
	insertRow(t, leaf, []byte("alpha"), []byte("1"), 500)
	root := page.NewRef(nil, 0, leaf)
	leaf.ParentRef.Store(root)

	tree := &Tree{URI: "file:3", Root: root, Block: newTestBlock(t), Compressor: codec.NoCompression{}}
	c.RegisterTree(tree)

	freed, err := c.runPass()
	require.NoError(t, err)
	require.Equal(t, 0, freed)
	require.Equal(t, page.RefMem, root.State())
}

func TestWaitForSpaceNoopUnderTarget(t *testing.T) {
	global := txn.NewGlobal()
	hazards := page.NewRegistry()
	c := New(DefaultConfig(), global, hazards)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.WaitForSpace(ctx))
}
