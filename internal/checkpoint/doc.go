// Package checkpoint implements the periodic, consistent-on-disk
// snapshot of every open tree. A checkpoint pass:
//
//  1. takes the schema lock, excluding concurrent schema changes
//  2. logs a CKPT_PREPARE record carrying the checkpoint's snapshot
//  3. snapshots the oldest running transaction id
//  4. walks each registered tree and flushes dirty leaves, reconciling
//     them under that snapshot (internal/reconcile)
//  5. (bottom-up) leaves flushed first means their parents' child
//     addresses are already correct by the time a parent itself is
//     considered — see the comment on internal pages in flushTree
//     (flush.go) for how far "bottom-up" goes in this implementation
//  6. resolves each tree's block manager's alloc/discard overlap
//     (internal/block.Manager.Checkpoint); the extent lists stay in
//     memory and are not written to disk
//  7. lets the caller-supplied UpdateMetadata hook record the tree's
//     new root address against this checkpoint
//  8. logs a CKPT_STOP record
//  9. publishes the new checkpoint generation
//  10. archives log files made obsolete by the new checkpoint
//
// A Checkpointer runs this pass on a timer, mirroring
// internal/cache's eviction server loop, and also exposes Run for an
// explicit, synchronous checkpoint (called by DB.Checkpoint and DB.Close
// in package kv).
package checkpoint
