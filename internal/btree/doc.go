/*
Package btree implements B-tree search, cursor traversal, and the two
split protocols that keep a tree balanced under concurrent, lock-free
readers:

	in-memory split: a leaf page that has grown past its memory-page
	                 threshold is split in two; the parent gains one
	                 extra Ref. Readers already inside the old page
	                 are unaffected — they hold a hazard pointer to a
	                 page object that is never mutated in place.

	deep split:      a parent whose Refs array overflowed its
	                 threshold is itself split, pushing a new level
	                 into the tree when the root splits. Concurrent
	                 readers positioned at a Ref mid-transition observe
	                 RefSplit and restart their descent from the root
	                 (ErrRestart), which never escapes internal/btree.

Readers never block on a writer: every mutation either installs new
pointers via atomic CAS, or marks a Ref RefSplit and relies on
restart-from-root to find the moved subtree.
*/
package btree
