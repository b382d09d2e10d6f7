// Package lsm implements the LSM layer: a tree is an ordered roster
// of chunks, each chunk a full internal/btree.Btree
// over its own file. The newest chunk is the writable primary; every
// other chunk is read-only, reachable only through a merged cursor.
// A manager goroutine inspects each registered tree and schedules
// switch, flush, bloom-build, merge, and drop work onto typed queues
// drained by a bounded worker pool per queue.
package lsm
