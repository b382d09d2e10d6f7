package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func snapshotOffs(t *testing.T, l *ExtList) []int64 {
	t.Helper()
	snap := l.Snapshot()
	offs := make([]int64, len(snap))
	for i, e := range snap {
		offs[i] = e.Off
	}
	return offs
}

func TestExtListNonOverlapOrdered(t *testing.T) {
	l := NewExtList("available", true)
	l.Insert(4096, 4096)
	l.Insert(16384, 4096)
	l.Insert(8192, 4096)

	snap := l.Snapshot()
	require.Len(t, snap, 2) // [4096,12288) after the 8192 insert merges with it; [16384,20480) stays separate
	require.Equal(t, []int64{4096, 16384}, snapshotOffs(t, l))
}

func TestExtListAdjacentMerge(t *testing.T) {
	l := NewExtList("available", true)
	l.Insert(4096, 4096)  // [4096, 8192)
	l.Insert(8192, 4096)  // adjacent -> merges to [4096, 12288)
	l.Insert(12288, 4096) // adjacent -> merges to [4096, 16384)

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, int64(4096), snap[0].Off)
	require.Equal(t, int64(12288), snap[0].Size)
}

func TestExtListNonAdjacentStaysSeparate(t *testing.T) {
	l := NewExtList("available", true)
	l.Insert(4096, 4096)
	l.Insert(16384, 4096)

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, []int64{4096, 16384}, snapshotOffs(t, l))
}

func TestExtListBestFit(t *testing.T) {
	l := NewExtList("available", true)
	l.Insert(0, 4096)
	l.Insert(100000, 16384)
	l.Insert(200000, 8192)

	off, size, ok := l.BestFit(8192)
	require.True(t, ok)
	require.Equal(t, int64(8192), size)
	require.Equal(t, int64(200000), off)
}

func TestExtListFirstFit(t *testing.T) {
	l := NewExtList("available", true)
	l.Insert(0, 4096)
	l.Insert(100000, 16384)

	off, ok := l.FirstFit(8192)
	require.True(t, ok)
	require.Equal(t, int64(100000), off)
}

func TestExtListRemoveRangeSplitsMiddle(t *testing.T) {
	l := NewExtList("alloc", false)
	l.Insert(0, 40960)

	ok := l.RemoveRange(4096, 4096)
	require.True(t, ok)

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, int64(0), snap[0].Off)
	require.Equal(t, int64(4096), snap[0].Size)
	require.Equal(t, int64(8192), snap[1].Off)
	require.Equal(t, int64(32768), snap[1].Size)
}

func TestAllocFreeRoundTrip(t *testing.T) {
	const allocUnit = 4096
	l := NewExtList("available", true)
	l.Insert(allocUnit, 1<<30) // pretend the whole rest of the file is free

	off1, _, _ := l.BestFit(4096)
	l.RemoveExact(off1, 1<<30)
	l.Insert(off1+4096, (1<<30)-4096)

	off2, _, _ := l.BestFit(8192)
	require.Equal(t, off1+4096, off2)
	l.RemoveExact(off2, (1<<30)-4096)
	l.Insert(off2+8192, (1<<30)-4096-8192)

	// free both back: they should merge into a single extent again.
	l.Insert(off1, 4096)
	l.Insert(off2, 8192)

	snap := l.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, int64(allocUnit), snap[0].Off)
	require.Equal(t, int64(1<<30), snap[0].Size)
}

func TestOverlapResolveExactMatch(t *testing.T) {
	alloc := NewExtList("alloc", false)
	discard := NewExtList("discard", false)
	ckpt := NewExtList("ckpt-available", false)

	alloc.Insert(4096, 4096)
	discard.Insert(4096, 4096)

	resolveOverlap(alloc, discard, ckpt)

	require.True(t, alloc.IsEmpty())
	require.True(t, discard.IsEmpty())
	require.Equal(t, int64(4096), ckpt.Bytes())
}

func TestOverlapResolveMiddle(t *testing.T) {
	alloc := NewExtList("alloc", false)
	discard := NewExtList("discard", false)
	ckpt := NewExtList("ckpt-available", false)

	alloc.Insert(0, 40960) // large alloc extent
	discard.Insert(8192, 4096)

	resolveOverlap(alloc, discard, ckpt)

	require.True(t, discard.IsEmpty())
	require.Equal(t, int64(4096), ckpt.Bytes())
	snap := alloc.Snapshot()
	require.Len(t, snap, 2)
}

func TestExtListSerializeRoundTrip(t *testing.T) {
	l := NewExtList("available", true)
	l.Insert(4096, 4096)
	l.Insert(100000, 16384)

	buf := extlistWrite(l)
	out, err := extlistRead("available", true, buf)
	require.NoError(t, err)
	require.Equal(t, l.Snapshot(), out.Snapshot())
}

func TestExtListSerializeBadMagic(t *testing.T) {
	_, err := extlistRead("available", true, []byte{0, 0, 0})
	require.ErrorIs(t, err, ErrBadMagic)
}
