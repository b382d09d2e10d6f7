package kv

import (
	"testing"

	"github.com/cuemby/kvaerner/internal/txn"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.NoBackground = true
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCloseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.NoBackground = true

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db2.Close())
}

func TestCreateInsertCommitReopenReadBack(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.NoBackground = true

	db, err := Open(cfg)
	require.NoError(t, err)

	s := db.OpenSession()
	require.NoError(t, s.Create("file:widgets", ""))

	c, err := s.OpenCursor("file:widgets")
	require.NoError(t, err)
	require.NoError(t, c.Insert([]byte("alpha"), []byte("1")))
	require.NoError(t, c.Insert([]byte("beta"), []byte("2")))
	c.Close()
	s.Close()

	require.NoError(t, db.Checkpoint())
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db2.Close() })

	s2 := db2.OpenSession()
	defer s2.Close()

	c2, err := s2.OpenCursor("file:widgets")
	require.NoError(t, err)
	defer c2.Close()

	exact, err := c2.Seek([]byte("alpha"))
	require.NoError(t, err)
	require.True(t, exact)
	_, value, ok := c2.Value()
	require.True(t, ok)
	require.Equal(t, "1", string(value))

	exact, err = c2.Seek([]byte("beta"))
	require.NoError(t, err)
	require.True(t, exact)
	_, value, ok = c2.Value()
	require.True(t, ok)
	require.Equal(t, "2", string(value))
}

func TestCreateInsertCloseReopenWithoutExplicitCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.NoBackground = true

	db, err := Open(cfg)
	require.NoError(t, err)

	s := db.OpenSession()
	require.NoError(t, s.Create("file:widgets", ""))

	c, err := s.OpenCursor("file:widgets")
	require.NoError(t, err)
	require.NoError(t, c.Insert([]byte("gamma"), []byte("3")))
	c.Close()
	s.Close()

	// Close without an explicit Checkpoint: Close itself runs one final
	// checkpoint, so the reopened table is read back from that
	// checkpoint rather than replayed from the log.
	require.NoError(t, db.Close())

	db2, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db2.Close() })

	s2 := db2.OpenSession()
	defer s2.Close()
	c2, err := s2.OpenCursor("file:widgets")
	require.NoError(t, err)
	defer c2.Close()

	exact, err := c2.Seek([]byte("gamma"))
	require.NoError(t, err)
	require.True(t, exact)
	_, value, ok := c2.Value()
	require.True(t, ok)
	require.Equal(t, "3", string(value))
}

func TestExplicitTransactionRollbackDiscardsWrites(t *testing.T) {
	db := newTestDB(t)
	s := db.OpenSession()
	defer s.Close()

	require.NoError(t, s.Create("file:rollback", ""))

	require.NoError(t, s.Begin(txn.Snapshot))
	c, err := s.OpenCursor("file:rollback")
	require.NoError(t, err)
	require.NoError(t, c.Insert([]byte("k"), []byte("v")))
	c.Close()
	require.NoError(t, s.Rollback())

	c2, err := s.OpenCursor("file:rollback")
	require.NoError(t, err)
	defer c2.Close()
	exact, err := c2.Seek([]byte("k"))
	require.NoError(t, err)
	require.False(t, exact)
}

func TestExplicitTransactionCommitIsVisibleAfter(t *testing.T) {
	db := newTestDB(t)
	s := db.OpenSession()
	defer s.Close()

	require.NoError(t, s.Create("file:commit", ""))

	require.NoError(t, s.Begin(txn.Snapshot))
	c, err := s.OpenCursor("file:commit")
	require.NoError(t, err)
	require.NoError(t, c.Insert([]byte("k"), []byte("v")))
	c.Close()
	require.NoError(t, s.Commit())

	c2, err := s.OpenCursor("file:commit")
	require.NoError(t, err)
	defer c2.Close()
	exact, err := c2.Seek([]byte("k"))
	require.NoError(t, err)
	require.True(t, exact)
}

func TestAutocommitInsertIsImmediatelyVisibleToNewCursor(t *testing.T) {
	db := newTestDB(t)
	s := db.OpenSession()
	defer s.Close()

	require.NoError(t, s.Create("file:autocommit", ""))

	c, err := s.OpenCursor("file:autocommit")
	require.NoError(t, err)
	require.NoError(t, c.Insert([]byte("only"), []byte("value")))
	c.Close()

	c2, err := s.OpenCursor("file:autocommit")
	require.NoError(t, err)
	defer c2.Close()
	exact, err := c2.Seek([]byte("only"))
	require.NoError(t, err)
	require.True(t, exact)
	_, value, ok := c2.Value()
	require.True(t, ok)
	require.Equal(t, "value", string(value))
}

func TestLSMTableCreateInsertScan(t *testing.T) {
	db := newTestDB(t)
	s := db.OpenSession()
	defer s.Close()

	require.NoError(t, s.Create("lsm:events", ""))

	c, err := s.OpenCursor("lsm:events")
	require.NoError(t, err)
	require.NoError(t, c.Insert([]byte("e1"), []byte("first")))
	require.NoError(t, c.Insert([]byte("e2"), []byte("second")))
	require.NoError(t, c.Insert([]byte("e3"), []byte("third")))
	c.Close()

	c2, err := s.OpenCursor("lsm:events")
	require.NoError(t, err)
	defer c2.Close()

	var keys []string
	ok, err := c2.First()
	require.NoError(t, err)
	for ok {
		key, _, visible := c2.Value()
		if visible {
			keys = append(keys, string(key))
		}
		ok, err = c2.Next()
		require.NoError(t, err)
	}
	require.Equal(t, []string{"e1", "e2", "e3"}, keys)
}

func TestVerifyAndSalvageAgainstFreshTable(t *testing.T) {
	db := newTestDB(t)
	s := db.OpenSession()

	require.NoError(t, s.Create("file:checked", ""))
	c, err := s.OpenCursor("file:checked")
	require.NoError(t, err)
	require.NoError(t, c.Insert([]byte("a"), []byte("1")))
	require.NoError(t, c.Insert([]byte("b"), []byte("2")))
	c.Close()
	s.Close()

	report, err := db.Verify("file:checked")
	require.NoError(t, err)
	require.GreaterOrEqual(t, report.LeavesVisited, 1)

	salvage, err := db.Salvage("file:checked")
	require.NoError(t, err)
	require.GreaterOrEqual(t, salvage.PagesRecovered, 0)
}

func TestListTablesAndTableConfig(t *testing.T) {
	db := newTestDB(t)
	s := db.OpenSession()
	defer s.Close()

	require.NoError(t, s.Create("file:one", "block_compressor=zstd"))
	require.NoError(t, s.Create("file:two", ""))

	tables, err := db.ListTables()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"file:one", "file:two"}, tables)

	cfgStr, ok, err := db.TableConfig("file:one")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "block_compressor=zstd", cfgStr)

	_, ok, err = db.TableConfig("file:missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDropRemovesTableFromMetadata(t *testing.T) {
	db := newTestDB(t)
	s := db.OpenSession()
	defer s.Close()

	require.NoError(t, s.Create("file:temp", ""))
	require.NoError(t, s.Drop("file:temp"))

	_, err := s.OpenCursor("file:temp")
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestCreateDuplicateTableFails(t *testing.T) {
	db := newTestDB(t)
	s := db.OpenSession()
	defer s.Close()

	require.NoError(t, s.Create("file:dup", ""))
	err := s.Create("file:dup", "")
	require.ErrorIs(t, err, ErrTableExists)
}
