// Package kv is the public façade over the embedded storage engine:
// open a database directory, start sessions, and run transactions and
// cursors against named tables. Everything under internal/ is wired
// together here the way a connection object wires together a block
// manager, a cache, a transaction table, a write-ahead log, a
// checkpointer, and (optionally) LSM trees.
//
// A database is a directory on disk. Open creates it if absent,
// replays the write-ahead log if it holds records past the last
// checkpoint, and starts the cache's eviction server, the
// checkpointer's timer loop, the LSM manager (if any LSM tables are
// opened), and the metrics collector. Close stops every server thread
// and runs one final checkpoint.
//
// A Session owns one hazard-pointer slot and, optionally, one
// explicit transaction; every Cursor it opens shares that slot. Two
// table kinds are supported, distinguished by URI prefix: "file:name"
// opens a single copy-on-write B-tree, one main file per tree, and
// "lsm:name" opens an LSM tree of such B-trees. A cursor not bound to
// an explicit transaction reads under one implicit snapshot for its
// whole lifetime but writes autocommit: each Insert or Remove call is
// its own committed transaction, matching the session API's behavior
// when no explicit begin_transaction is in effect.
package kv
