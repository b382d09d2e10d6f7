package checkpoint

import (
	"os"
	"testing"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/cuemby/kvaerner/internal/wal"
	"github.com/stretchr/testify/require"
)

func newTestBlock(t *testing.T) *block.Manager {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kvaerner-ckpt-*")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return block.Open("test://checkpoint", f, 0, 0, block.Config{AllocationSize: 4096})
}

func newTestLog(t *testing.T) *wal.Log {
	t.Helper()
	cfg := wal.DefaultConfig(t.TempDir())
	l, err := wal.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
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
	leaf.MarkDirty()
}

func newTestTree(t *testing.T, uri string) (*Tree, *page.Ref) {
	t.Helper()
	leaf := page.NewLeafPage(codec.TypeLeafRow)
	insertRow(t, leaf, []byte("alpha"), []byte("1"), 1)
	insertRow(t, leaf, []byte("beta"), []byte("2"), 1)

	root := page.NewRef(nil, 0, leaf)
	leaf.ParentRef.Store(root)

	return &Tree{URI: uri, Root: root, Block: newTestBlock(t), Compressor: codec.NoCompression{}}, root
}

func TestRunFlushesDirtyLeafAndAdvancesGeneration(t *testing.T) {
	global := txn.NewGlobal()
	global.AllocateID() // bump current_id so oldest_id can advance past txn 1
	global.UpdateOldest()

	tree, root := newTestTree(t, "file:1")
	c := New(DefaultConfig(), newTestLog(t), global)
	c.RegisterTree(tree)

	require.True(t, root.Page().IsDirty())
	require.NoError(t, c.Run())
	require.False(t, root.Page().IsDirty())
	require.Equal(t, page.RefMem, root.State())
	require.False(t, root.Addr.IsZero())
	require.Equal(t, uint64(1), c.Generation())
}

func TestRunLeavesUncommittedPageDirty(t *testing.T) {
	global := txn.NewGlobal()

	leaf := page.NewLeafPage(codec.TypeLeafRow)
	insertRow(t, leaf, []byte("alpha"), []byte("1"), 500) // far future id: not yet visible to any snapshot
	root := page.NewRef(nil, 0, leaf)
	leaf.ParentRef.Store(root)
	tree := &Tree{URI: "file:2", Root: root, Block: newTestBlock(t), Compressor: codec.NoCompression{}}

	c := New(DefaultConfig(), newTestLog(t), global)
	c.RegisterTree(tree)

	require.NoError(t, c.Run())
	require.True(t, leaf.IsDirty())
	require.True(t, root.Addr.IsZero())
}

func TestRunCallsUpdateMetadataPerTree(t *testing.T) {
	global := txn.NewGlobal()
	global.AllocateID()
	global.UpdateOldest()

	tree, _ := newTestTree(t, "file:3")

	var seenURI string
	var seenGen uint64
	cfg := DefaultConfig()
	cfg.UpdateMetadata = func(uri string, root codec.Cookie, generation uint64) error {
		seenURI = uri
		seenGen = generation
		return nil
	}

	c := New(cfg, newTestLog(t), global)
	c.RegisterTree(tree)
	require.NoError(t, c.Run())

	require.Equal(t, "file:3", seenURI)
	require.Equal(t, uint64(1), seenGen)
}

func TestRunIsIdempotentOnCleanTree(t *testing.T) {
	global := txn.NewGlobal()
	global.AllocateID()
	global.UpdateOldest()

	tree, root := newTestTree(t, "file:4")
	c := New(DefaultConfig(), newTestLog(t), global)
	c.RegisterTree(tree)

	require.NoError(t, c.Run())
	addrAfterFirst := root.Addr

	require.NoError(t, c.Run())
	require.Equal(t, addrAfterFirst, root.Addr)
	require.Equal(t, uint64(2), c.Generation())
}
