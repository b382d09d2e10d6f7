package metrics

import (
	"os"
	"testing"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/cache"
	"github.com/cuemby/kvaerner/internal/checkpoint"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/lsm"
	"github.com/cuemby/kvaerner/internal/page"
	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/cuemby/kvaerner/internal/wal"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *wal.Log {
	t.Helper()
	dir := t.TempDir()
	l, err := wal.Open(wal.DefaultConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestCollectorSamplesTxnGauges(t *testing.T) {
	global := txn.NewGlobal()
	global.AllocateID()
	global.AllocateID()

	c := &Collector{Global: global}
	c.collect()

	require.Equal(t, float64(2), testutil.ToFloat64(TxnCurrentID))
}

func TestCollectorSamplesWALCountersAsDeltas(t *testing.T) {
	l := newTestLog(t)

	before := testutil.ToFloat64(WALFSyncTotal)

	_, err := l.Append([]byte("hello"), wal.SyncFlags{FSync: true})
	require.NoError(t, err)

	c := &Collector{Log: l}
	c.collect()
	c.collect() // second pass must not double count

	require.Equal(t, before+1, testutil.ToFloat64(WALFSyncTotal))
}

func TestCollectorSamplesCacheGauges(t *testing.T) {
	ca := cache.New(cache.DefaultConfig(), txn.NewGlobal(), page.NewRegistry())
	ca.AddInUse(4096)
	ca.AddDirty(1024)

	c := &Collector{Cache: ca}
	c.collect()

	require.Equal(t, float64(4096), testutil.ToFloat64(CacheBytesInUse))
	require.Equal(t, float64(1024), testutil.ToFloat64(CacheDirtyBytes))
}

func TestCollectorSamplesCheckpointGeneration(t *testing.T) {
	l := newTestLog(t)
	global := txn.NewGlobal()
	cp := checkpoint.New(checkpoint.DefaultConfig(), l, global)

	c := &Collector{Checkpointer: cp}
	c.collect()
	require.Equal(t, float64(0), testutil.ToFloat64(CheckpointGeneration))

	require.NoError(t, cp.Run())
	c.collect()
	require.Equal(t, float64(1), testutil.ToFloat64(CheckpointGeneration))
}

func TestCollectorSamplesLSMChunkCount(t *testing.T) {
	dir := t.TempDir()
	global := txn.NewGlobal()
	hz := page.NewRegistry()

	open := func(id string) (*btree.Btree, *block.Manager, error) {
		file, err := os.CreateTemp(dir, "chunk-*")
		if err != nil {
			return nil, nil, err
		}
		blk := block.Open("test://"+id, file, 0, 0, block.Config{AllocationSize: 4096})
		leaf := page.NewLeafPage(codec.TypeLeafRow)
		root := page.NewRef(nil, 0, leaf)
		leaf.ParentRef.Store(root)
		return btree.New(root, blk, codec.NoCompression{}, btree.DefaultConfig(), hz), blk, nil
	}

	tree, err := lsm.New("lsm:orders", lsm.DefaultConfig(), open, global, hz)
	require.NoError(t, err)

	m := lsm.NewManager(lsm.DefaultConfig())
	m.RegisterTree(tree)

	c := &Collector{LSM: m}
	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(LSMChunkCount))
}
