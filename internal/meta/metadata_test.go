package meta

import (
	"os"
	"testing"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/config"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/stretchr/testify/require"
)

func newTestBlock(t *testing.T) *block.Manager {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kvaerner-meta-*")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return block.Open("test://meta", f, 0, 4096, block.Config{AllocationSize: 4096})
}

func openTestMetadata(t *testing.T) *Metadata {
	t.Helper()
	m, err := Open(txn.NewGlobal(), newTestBlock(t), nil)
	require.NoError(t, err)
	return m
}

func TestPutThenGetRoundTrips(t *testing.T) {
	m := openTestMetadata(t)

	require.NoError(t, m.Put("file:orders", "key_format=S,value_format=S"))

	val, ok, err := m.Get("file:orders")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "key_format=S,value_format=S", val)
}

func TestGetMissingReturnsNotOK(t *testing.T) {
	m := openTestMetadata(t)

	_, ok, err := m.Get("file:absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	m := openTestMetadata(t)

	require.NoError(t, m.Put("file:orders", "v=1"))
	require.NoError(t, m.Put("file:orders", "v=2"))

	val, ok, err := m.Get("file:orders")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v=2", val)
}

func TestRemoveThenGetReportsAbsent(t *testing.T) {
	m := openTestMetadata(t)

	require.NoError(t, m.Put("file:orders", "v=1"))
	require.NoError(t, m.Remove("file:orders"))

	_, ok, err := m.Get("file:orders")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveAbsentEntryIsNotAnError(t *testing.T) {
	m := openTestMetadata(t)
	require.NoError(t, m.Remove("file:never-existed"))
}

func TestListReturnsEveryEntry(t *testing.T) {
	m := openTestMetadata(t)

	require.NoError(t, m.Put("file:a", "v=a"))
	require.NoError(t, m.Put("file:b", "v=b"))
	require.NoError(t, m.Put("file:c", "v=c"))

	entries, err := m.List()
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"file:a": "v=a",
		"file:b": "v=b",
		"file:c": "v=c",
	}, entries)
}

func TestUpdateRootPreservesExistingFields(t *testing.T) {
	m := openTestMetadata(t)
	require.NoError(t, m.Put("file:orders", "key_format=S,value_format=S"))

	require.NoError(t, m.UpdateRoot("file:orders", codec.Cookie{Off: 4096, Size: 128, Checksum: 0xabc}, 1))

	val, ok, err := m.Get("file:orders")
	require.NoError(t, err)
	require.True(t, ok)

	parsed, err := config.Parse(val)
	require.NoError(t, err)
	require.Equal(t, "S", parsed.String("key_format", ""))
	require.Equal(t, "1", parsed.String("checkpoint_generation", ""))
}

func TestUpdateRootOnTableWritesBlockDescriptorInsteadOfPut(t *testing.T) {
	blk := newTestBlock(t)
	m, err := Open(txn.NewGlobal(), blk, nil)
	require.NoError(t, err)

	cookie := codec.Cookie{Off: 4096, Size: 64, Checksum: 0xdead}
	require.NoError(t, m.UpdateRoot(Table, cookie, 3))

	_, ok, err := m.Get(Table)
	require.NoError(t, err)
	require.False(t, ok, "the metadata tree's own root must not be written into its own entries")

	root, generation, ok, err := blk.ReadDescriptor()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cookie, root)
	require.Equal(t, uint64(3), generation)
}

func TestOpenReadsBackPriorRootFromDescriptor(t *testing.T) {
	blk := newTestBlock(t)
	cookie := codec.Cookie{Off: 4096, Size: 64, Checksum: 0xdead}
	require.NoError(t, blk.WriteDescriptor(cookie, 7))

	m, err := Open(txn.NewGlobal(), blk, nil)
	require.NoError(t, err)
	require.Equal(t, cookie, m.tree.Root.Addr)
	require.Equal(t, page.RefDisk, m.tree.Root.State())
}
