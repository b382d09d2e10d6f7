/*
Package reconcile turns a dirty in-memory leaf page into one or more
on-disk block images.

	walk the page's logical entries (on-page base values layered with
	their update chains, merged with the insert list) under the
	reconciliation's own snapshot — the global oldest id, so a cleaned
	page never discards a value some reader might still need.

	emit a packed cell per entry into a growing buffer; prefix-compress
	row-store keys against the previous key on the page. When the
	buffer crosses the split-size threshold, record a boundary and
	start a new output block.

	values at or past the overflow threshold are written as separate
	blocks and tracked in the page's Modify record (reuse / txn-cache /
	discard) rather than inlined into the cell stream.

	if any update in a chain postdates the oldest id, the page is
	left dirty — reconciliation could not safely write it clean.
*/
package reconcile
