package txn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotExcludesConcurrentWriters(t *testing.T) {
	g := NewGlobal()

	s1 := g.NewSession()
	s2 := g.NewSession()
	s3 := g.NewSession()

	t1 := Begin(g, s1, Snapshot)
	t1.AssignID()

	t2 := Begin(g, s2, Snapshot)
	t2.AssignID()

	// t3 begins after t1 and t2 are both running: its snapshot must
	// exclude both of them even though neither has committed yet.
	t3 := Begin(g, s3, Snapshot)

	require.False(t, t3.Visible(t1.ID))
	require.False(t, t3.Visible(t2.ID))

	require.NoError(t, t1.Commit())

	// t3's snapshot was fixed at begin time: t1 becoming committed
	// afterward doesn't change visibility under snapshot isolation.
	require.False(t, t3.Visible(t1.ID))

	t2.Rollback()
}

func TestReadUncommittedSeesEverything(t *testing.T) {
	g := NewGlobal()
	s1 := g.NewSession()
	s2 := g.NewSession()

	writer := Begin(g, s1, Snapshot)
	writer.AssignID()

	reader := Begin(g, s2, ReadUncommitted)
	require.True(t, reader.Visible(writer.ID))
}

func TestOwnWritesAlwaysVisible(t *testing.T) {
	g := NewGlobal()
	s1 := g.NewSession()

	txn := Begin(g, s1, Snapshot)
	txn.AssignID()
	require.True(t, txn.Visible(txn.ID))
}

func TestReadCommittedRefreshMovesSnapMin(t *testing.T) {
	g := NewGlobal()
	s1 := g.NewSession()
	s2 := g.NewSession()

	writer := Begin(g, s1, Snapshot)
	writer.AssignID()

	reader := Begin(g, s2, ReadCommitted)
	require.False(t, reader.Visible(writer.ID))

	require.NoError(t, writer.Commit())

	reader.RefreshIfReadCommitted()
	require.True(t, reader.Visible(writer.ID))
}

func TestUpdateOldestAdvancesPastClosedTransactions(t *testing.T) {
	g := NewGlobal()
	s1 := g.NewSession()
	s2 := g.NewSession()

	t1 := Begin(g, s1, Snapshot)
	id1 := t1.AssignID()

	t2 := Begin(g, s2, Snapshot)
	t2.AssignID()

	require.Equal(t, FirstID, g.UpdateOldest())

	require.NoError(t, t1.Commit())
	t2.Rollback()

	oldest := g.UpdateOldest()
	require.Greater(t, oldest, id1)
	require.True(t, VisibleAll(g, id1))
}

func TestRollbackRunsUndoInReverseOrder(t *testing.T) {
	g := NewGlobal()
	s1 := g.NewSession()
	txn := Begin(g, s1, Snapshot)
	txn.AssignID()

	var order []int
	txn.RecordUndo(func() { order = append(order, 1) })
	txn.RecordUndo(func() { order = append(order, 2) })
	txn.Rollback()

	require.Equal(t, []int{2, 1}, order)
	require.Equal(t, None, s1.RunningID())
}
