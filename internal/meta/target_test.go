package meta

import (
	"testing"

	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/stretchr/testify/require"
)

func TestRecoveryTargetAppliesPutAndRemoveToOpenHandle(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Open("file:orders", func() (*btree.Btree, error) { return newTestTree(), nil })
	require.NoError(t, err)

	target := NewRecoveryTarget(registry, txn.NewGlobal(), nil)

	require.NoError(t, target.Put("file:orders", []byte("a"), []byte("1")))

	h, ok := registry.Lookup("file:orders")
	require.True(t, ok)

	readTxn := txn.Begin(target.global, target.global.NewSession(), txn.Snapshot)
	hz := target.hazards.Register()
	c := btree.NewCursor(h.Tree, readTxn, hz)
	defer c.Close()

	exact, err := c.Seek([]byte("a"))
	require.NoError(t, err)
	require.True(t, exact)
	_, val, visible := c.Value()
	require.True(t, visible)
	require.Equal(t, []byte("1"), val)

	require.NoError(t, target.Remove("file:orders", []byte("a")))
}

func TestRecoveryTargetFailsWithoutOpenerForUnknownURI(t *testing.T) {
	target := NewRecoveryTarget(NewRegistry(), txn.NewGlobal(), nil)
	err := target.Put("file:never-opened", []byte("a"), []byte("1"))
	require.Error(t, err)
}
