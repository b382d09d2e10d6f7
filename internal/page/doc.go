/*
Package page implements the engine's in-memory B-tree page: the node
structures themselves (internal refs, leaf entries), per-slot update
chains, the insert skip list for keys written between or past existing
on-page entries, and hazard-pointer publication for lock-free reads.

	┌────────────────────── leaf page ──────────────────────────┐
	│  on-page entries (row-order or recno-order, immutable)      │
	│   slot 0 ──► update chain (newest..oldest, CAS-appended)     │
	│   slot 1 ──► update chain                                   │
	│   ...                                                        │
	│  insert skip list (keys between entries, or appended past    │
	│  the last entry) — each node owns its own update chain head  │
	└───────────────────────────────────────────────────────────┘

A page never locks readers out: every update is an append to a chain
via compare-and-swap on the head pointer, and every insert is a
compare-and-swap into the skip list at a position captured by a prior
search. Readers walk a chain under their transaction's snapshot and
never block a writer; the only coordination is the hazard-pointer
protocol that keeps a page alive for as long as some reader still
holds a pointer to it.
*/
package page
