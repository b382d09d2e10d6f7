package meta

// CachePool lets a future multi-database deployment share one cache
// across several open connections. A single-database connection
// never calls it — NoPool below is the default, and it simply
// ignores both methods.
type CachePool interface {
	// Register admits db (identified by its connection's home
	// directory or similar opaque label) into the pool and returns its
	// initial byte quota.
	Register(db string) (quota int64)

	// Rebalance redistributes quota across every registered database,
	// called periodically by whatever owns the pool.
	Rebalance()
}

// NoPool is the default CachePool: every database gets an unbounded
// quota and rebalancing is a no-op, equivalent to each connection
// owning its own cache outright.
type NoPool struct{}

func (NoPool) Register(string) int64 { return -1 }
func (NoPool) Rebalance()            {}
