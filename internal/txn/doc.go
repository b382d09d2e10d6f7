/*
Package txn implements the MVCC transaction manager: global id
allocation, per-transaction snapshots, visibility, and the oldest-id
computation that bounds garbage collection of update chains.

Three isolation levels share one mechanism:

	read-uncommitted: every update is visible except aborted ones.
	read-committed:   snapshot is re-taken at every cursor operation.
	snapshot:         snapshot is taken once, at transaction begin.

An update with id t is visible to a reader with snapshot S iff
t == S.Self, or (t < S.SnapMax AND t is not in S.Snapshot).
*/
package txn
