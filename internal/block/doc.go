/*
Package block implements the engine's block manager: allocation and
release of fixed-multiple byte extents inside a single file, tracked by
twin skip lists (by offset and by size), plus checkpoint-time extent
bookkeeping and salvage.

	┌──────────────────────── BLOCK MANAGER ────────────────────────┐
	│                                                                 │
	│   alloc(size) ──┐                              ┌── free(off,sz)│
	│                 ▼                              ▼               │
	│          ┌─────────────┐                ┌──────────────┐       │
	│          │  available  │◄───merge───────┤   discard    │       │
	│          │   ExtList   │                │   ExtList    │       │
	│          │ (off+size   │                └──────┬───────┘       │
	│          │  skiplists) │                       │ overlap       │
	│          └──────┬──────┘                       ▼ resolve       │
	│                 │ merge                 ┌──────────────┐       │
	│                 └────────────────────►  │ ckpt-avail   │       │
	│                                          │   ExtList    │       │
	│          ┌─────────────┐                └──────────────┘       │
	│          │    alloc    │ (current checkpoint's new extents)     │
	│          │   ExtList   │                                       │
	│          └─────────────┘                                       │
	└─────────────────────────────────────────────────────────────────┘

Every extent belongs to exactly one list at a time. The offset-indexed
skip list is always present; the size-indexed one exists only on the
available list, since it is the only list `alloc` searches by size.
Both indices share node storage: a node of depth d reserves 2d forward
pointers, the low half walking the offset list and the high half
walking the size list (see skiplist.go).
*/
package block
