/*
Package wal implements the engine's write-ahead log: a sequence of
bounded-size, monotonically numbered log files, a slot
protocol writers use to reserve space and append records without
holding a single global lock across the copy, and a sync policy that
batches concurrent fsync requests behind one lock.

File layout: each file opens with a description record (magic,
version, configured max size) followed by a stream of length-prefixed,
checksummed, optionally compressed records padded to the allocation
unit.

Reservation: a writer reserves its record's padded byte range under a
mutex and writes the record straight into the file at that range.
Records are not gathered into a shared slot buffer; every Append is its
own write. The writer then blocks until the log's write_lsn reaches its
record's start, preserving record order, advances write_lsn and, for
synchronous commits, takes sync_lock; a writer whose record an earlier
fsync already covered skips its own fsync.

Rotation: when a record would not fit in the current file, a new file
is opened; pre-allocated files under a reserved prefix are renamed into
place to keep file creation off the append critical path.

Scan replays records forward from a starting LSN, verifying checksums
and invoking a caller callback per record; the callback may abort the
scan early.
*/
package wal
