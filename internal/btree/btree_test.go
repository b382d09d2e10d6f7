package btree

import (
	"fmt"
	"testing"

	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/stretchr/testify/require"
)

func newTestTree() (*Btree, *txn.Global) {
	root := page.NewRef(nil, 0, page.NewLeafPage(codec.TypeLeafRow))
	reg := page.NewRegistry()
	cfg := DefaultConfig()
	cfg.MemoryPageMax = 2048
	cfg.SplitPct = 50
	tr := New(root, nil, codec.NoCompression{}, cfg, reg)
	return tr, txn.NewGlobal()
}

func write(t *testing.T, tr *Btree, g *txn.Global, key, value []byte) {
	t.Helper()
	reg := page.NewRegistry()
	hz := reg.Register()
	defer reg.Unregister(hz)
	sess := g.NewSession()
	defer g.CloseSession(sess)
	transaction := txn.Begin(g, sess, txn.Snapshot)
	c := NewCursor(tr, transaction, hz)
	defer c.Close()
	require.NoError(t, c.Insert(key, value))
	require.NoError(t, transaction.Commit())
}

func TestInsertAndSeekRoundTrip(t *testing.T) {
	tr, g := newTestTree()
	write(t, tr, g, []byte("apple"), []byte("1"))
	write(t, tr, g, []byte("banana"), []byte("2"))
	write(t, tr, g, []byte("cherry"), []byte("3"))

	reg := page.NewRegistry()
	hz := reg.Register()
	sess := g.NewSession()
	reader := txn.Begin(g, sess, txn.Snapshot)
	c := NewCursor(tr, reader, hz)
	defer c.Close()

	exact, err := c.Seek([]byte("banana"))
	require.NoError(t, err)
	require.True(t, exact)
	_, v, ok := c.Value()
	require.True(t, ok)
	require.Equal(t, "2", string(v))
}

func TestCursorWalkOrdered(t *testing.T) {
	tr, g := newTestTree()
	keys := []string{"delta", "alpha", "charlie", "bravo"}
	for _, k := range keys {
		write(t, tr, g, []byte(k), []byte("v-"+k))
	}

	reg := page.NewRegistry()
	hz := reg.Register()
	sess := g.NewSession()
	reader := txn.Begin(g, sess, txn.Snapshot)
	c := NewCursor(tr, reader, hz)
	defer c.Close()

	ok, err := c.First()
	require.NoError(t, err)
	require.True(t, ok)

	var got []string
	for {
		k, _, visible := c.Value()
		if visible {
			got = append(got, string(k))
		}
		more, err := c.Next()
		require.NoError(t, err)
		if !more {
			break
		}
	}
	require.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, got)
}

func TestRemoveHidesValue(t *testing.T) {
	tr, g := newTestTree()
	write(t, tr, g, []byte("key"), []byte("v1"))

	reg := page.NewRegistry()
	hz := reg.Register()
	sess := g.NewSession()
	remover := txn.Begin(g, sess, txn.Snapshot)
	c := NewCursor(tr, remover, hz)
	require.NoError(t, c.Remove([]byte("key")))
	require.NoError(t, remover.Commit())
	c.Close()

	sess2 := g.NewSession()
	reader := txn.Begin(g, sess2, txn.Snapshot)
	c2 := NewCursor(tr, reader, hz)
	defer c2.Close()
	exact, err := c2.Seek([]byte("key"))
	require.NoError(t, err)
	require.True(t, exact)
	_, _, ok := c2.Value()
	require.False(t, ok)
}

func TestCursorPrevWalksOrderedAcrossSplitLeaves(t *testing.T) {
	tr, g := newTestTree()
	const n = 200
	var keys []string
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", i)
		keys = append(keys, k)
		write(t, tr, g, []byte(k), []byte("v"))
	}

	reg := page.NewRegistry()
	hz := reg.Register()
	sess := g.NewSession()
	reader := txn.Begin(g, sess, txn.Snapshot)
	c := NewCursor(tr, reader, hz)
	defer c.Close()

	// Seeking past every key lands past the end of the last leaf; Prev
	// from there walks backward from the greatest key, crossing leaf
	// boundaries the same way toSiblingLeaf(false) does for an ordinary
	// mid-tree Prev.
	exact, err := c.Seek([]byte("zzzzz"))
	require.NoError(t, err)
	require.False(t, exact)

	var got []string
	for {
		more, err := c.Prev()
		require.NoError(t, err)
		if !more {
			break
		}
		k, _, visible := c.Value()
		if visible {
			got = append(got, string(k))
		}
	}

	want := make([]string, len(keys))
	for i, k := range keys {
		want[len(keys)-1-i] = k
	}
	require.Equal(t, want, got)
}

func TestInsertManyForcesSplit(t *testing.T) {
	tr, g := newTestTree()
	const n = 200
	for i := 0; i < n; i++ {
		write(t, tr, g, []byte(fmt.Sprintf("k%05d", i)), []byte("v"))
	}

	reg := page.NewRegistry()
	hz := reg.Register()
	sess := g.NewSession()
	reader := txn.Begin(g, sess, txn.Snapshot)
	c := NewCursor(tr, reader, hz)
	defer c.Close()

	ok, err := c.First()
	require.NoError(t, err)
	require.True(t, ok)

	count := 0
	for {
		_, _, visible := c.Value()
		if visible {
			count++
		}
		more, err := c.Next()
		require.NoError(t, err)
		if !more {
			break
		}
	}
	require.Equal(t, n, count)
}
