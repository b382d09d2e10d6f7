package recovery

import (
	"testing"

	"github.com/cuemby/kvaerner/internal/checkpoint"
	"github.com/cuemby/kvaerner/internal/wal"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *wal.Log {
	t.Helper()
	cfg := wal.DefaultConfig(t.TempDir())
	l, err := wal.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// fakeTarget records every Put/Remove handed to it by replay, in order.
type fakeTarget struct {
	puts    map[string][]byte
	removed map[string]bool
	order   []string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{puts: make(map[string][]byte), removed: make(map[string]bool)}
}

func (f *fakeTarget) Put(uri string, key, value []byte) error {
	f.puts[uri+"/"+string(key)] = value
	f.order = append(f.order, "put:"+uri+"/"+string(key))
	return nil
}

func (f *fakeTarget) Remove(uri string, key []byte) error {
	f.removed[uri+"/"+string(key)] = true
	f.order = append(f.order, "remove:"+uri+"/"+string(key))
	return nil
}

func TestRecoverAppliesCommittedTransaction(t *testing.T) {
	log := newTestLog(t)

	_, err := log.Append(EncodePut(1, "file:1", []byte("a"), []byte("1")), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodePut(1, "file:1", []byte("b"), []byte("2")), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodeCommit(1), wal.SyncFlags{FSync: true})
	require.NoError(t, err)

	target := newFakeTarget()
	result, err := Recover(log, target, Config{})
	require.NoError(t, err)

	require.Equal(t, []byte("1"), target.puts["file:1/a"])
	require.Equal(t, []byte("2"), target.puts["file:1/b"])
	require.Equal(t, 1, result.TransactionsApplied)
	require.Equal(t, 0, result.TransactionsDropped)
	require.Equal(t, 2, result.OpsApplied)
}

func TestRecoverDiscardsAbortedTransaction(t *testing.T) {
	log := newTestLog(t)

	_, err := log.Append(EncodePut(1, "file:1", []byte("a"), []byte("1")), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodeRemove(1, "file:1", []byte("a")), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodeAbort(1), wal.SyncFlags{FSync: true})
	require.NoError(t, err)

	target := newFakeTarget()
	result, err := Recover(log, target, Config{})
	require.NoError(t, err)

	require.Empty(t, target.order)
	require.Equal(t, 0, result.TransactionsApplied)
	require.Equal(t, 1, result.TransactionsDropped)
	require.Equal(t, 0, result.OpsApplied)
}

func TestRecoverDropsNeverCommittedTransaction(t *testing.T) {
	log := newTestLog(t)

	_, err := log.Append(EncodePut(1, "file:1", []byte("a"), []byte("1")), wal.SyncFlags{FSync: true})
	require.NoError(t, err)
	// Process crashes here: no commit, no abort, ever written for txn 1.

	target := newFakeTarget()
	result, err := Recover(log, target, Config{})
	require.NoError(t, err)

	require.Empty(t, target.order)
	require.Equal(t, 0, result.TransactionsApplied)
	require.Equal(t, 1, result.TransactionsDropped)
}

func TestRecoverAppliesCommitsInCommitOrderNotWriteOrder(t *testing.T) {
	log := newTestLog(t)

	// txn 2's put is interleaved before txn 1's, but txn 1 commits first.
	_, err := log.Append(EncodePut(2, "file:1", []byte("k"), []byte("from-2")), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodePut(1, "file:1", []byte("k"), []byte("from-1")), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodeCommit(1), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodeCommit(2), wal.SyncFlags{FSync: true})
	require.NoError(t, err)

	target := newFakeTarget()
	_, err = Recover(log, target, Config{})
	require.NoError(t, err)

	require.Equal(t, []string{"put:file:1/k", "put:file:1/k"}, target.order)
	require.Equal(t, []byte("from-2"), target.puts["file:1/k"]) // txn 2 commits last, wins
}

func TestFindReplayStartSkipsBeforeLastCheckpointStop(t *testing.T) {
	log := newTestLog(t)

	_, err := log.Append(EncodePut(1, "file:1", []byte("stale"), []byte("pre-checkpoint")), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodeCommit(1), wal.SyncFlags{})
	require.NoError(t, err)

	ckptMarker := func(op byte) []byte {
		buf := make([]byte, 1+8+8)
		buf[0] = op
		return buf
	}
	_, err = log.Append(ckptMarker(checkpoint.OpPrepare), wal.SyncFlags{})
	require.NoError(t, err)
	stopLSN, err := log.Append(ckptMarker(checkpoint.OpStop), wal.SyncFlags{FSync: true})
	require.NoError(t, err)

	_, err = log.Append(EncodePut(2, "file:1", []byte("fresh"), []byte("post-checkpoint")), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodeCommit(2), wal.SyncFlags{FSync: true})
	require.NoError(t, err)

	start, err := findReplayStart(log)
	require.NoError(t, err)
	require.True(t, stopLSN.LessEqual(start))
	require.NotEqual(t, wal.LSN{File: 1, Offset: 0}, start)

	target := newFakeTarget()
	result, err := Recover(log, target, Config{})
	require.NoError(t, err)

	// The pre-checkpoint record is never replayed: its key never
	// appears, even though it belonged to a committed transaction.
	_, sawStale := target.puts["file:1/stale"]
	require.False(t, sawStale)
	require.Equal(t, []byte("post-checkpoint"), target.puts["file:1/fresh"])
	require.Equal(t, 1, result.TransactionsApplied)
}

func TestFindReplayStartDefaultsToBeginningWithNoCheckpoint(t *testing.T) {
	log := newTestLog(t)
	start, err := findReplayStart(log)
	require.NoError(t, err)
	require.Equal(t, wal.LSN{File: 1, Offset: 0}, start)
}

func TestRecoverCallsForceCheckpointAfterReplay(t *testing.T) {
	log := newTestLog(t)
	_, err := log.Append(EncodePut(1, "file:1", []byte("a"), []byte("1")), wal.SyncFlags{})
	require.NoError(t, err)
	_, err = log.Append(EncodeCommit(1), wal.SyncFlags{FSync: true})
	require.NoError(t, err)

	called := false
	cfg := Config{ForceCheckpoint: func() error {
		called = true
		return nil
	}}

	target := newFakeTarget()
	_, err = Recover(log, target, cfg)
	require.NoError(t, err)
	require.True(t, called)
}
