// Package recovery replays a write-ahead log against a fresh handle
// table after a crash or ordinary restart. It runs two passes over
// internal/wal:
//
//   - a metadata-only pass that finds the last CKPT_STOP record
//     (internal/checkpoint's marker), establishing the LSN recovery
//     can safely start replay from — everything before it is already
//     durable in the trees' on-disk pages;
//   - a replay pass from that LSN forward, tracking each transaction's
//     accumulated operations and applying only those that reach a
//     commit record, in commit order (redo-only: an operation whose
//     transaction never commits, because the process crashed first, is
//     discarded).
//
// internal/wal's Scan tolerates a truncated or corrupt tail by simply
// stopping, which is exactly the in-progress-write-at-crash-time case
// this package needs to treat as "nothing more to recover" rather than
// a hard error.
package recovery
