package meta

import (
	"testing"

	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/stretchr/testify/require"
)

func newTestTree() *btree.Btree {
	leaf := page.NewLeafPage(codec.TypeLeafRow)
	root := page.NewRef(nil, 0, leaf)
	leaf.ParentRef.Store(root)
	return btree.New(root, nil, codec.NoCompression{}, btree.DefaultConfig(), page.NewRegistry())
}

func TestOpenSameURITwiceSharesOneHandle(t *testing.T) {
	r := NewRegistry()
	built := 0
	opener := func() (*btree.Btree, error) {
		built++
		return newTestTree(), nil
	}

	h1, err := r.Open("file:orders", opener)
	require.NoError(t, err)
	h2, err := r.Open("file:orders", opener)
	require.NoError(t, err)

	require.Same(t, h1, h2)
	require.Equal(t, 1, built)
}

func TestDropRefusesWhileReferenced(t *testing.T) {
	r := NewRegistry()
	_, err := r.Open("file:orders", func() (*btree.Btree, error) { return newTestTree(), nil })
	require.NoError(t, err)

	require.Error(t, r.Drop("file:orders"))
}

func TestDropSucceedsAfterEveryCloseMatchesOpen(t *testing.T) {
	r := NewRegistry()
	opener := func() (*btree.Btree, error) { return newTestTree(), nil }

	h1, err := r.Open("file:orders", opener)
	require.NoError(t, err)
	h2, err := r.Open("file:orders", opener)
	require.NoError(t, err)

	r.Close(h1)
	require.Error(t, r.Drop("file:orders"))

	r.Close(h2)
	require.NoError(t, r.Drop("file:orders"))

	_, ok := r.Lookup("file:orders")
	require.False(t, ok)
}

func TestDropMissingURIIsNotAnError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Drop("file:never-opened"))
}

func TestLenReflectsOpenHandles(t *testing.T) {
	r := NewRegistry()
	opener := func() (*btree.Btree, error) { return newTestTree(), nil }

	_, err := r.Open("file:a", opener)
	require.NoError(t, err)
	_, err = r.Open("file:b", opener)
	require.NoError(t, err)

	require.Equal(t, 2, r.Len())
}
