/*
Package cache implements the engine's one shared page cache: a
monotonic global read-generation clock, a server thread that
runs periodic eviction passes, a bounded worker pool that reconciles
and frees the coldest pages, and the back-pressure path application
threads take when the cache is over its hard target.

An eviction pass:

	walk each registered tree's resident pages from the root, sampling
	up to a fixed count of leaves per tree and scoring each by read
	generation (internal pages are walked through but never themselves
	evicted — this implementation reconciles leaf content only).

	sort the sample; the bottom quartile becomes this pass's
	candidates.

	workers pull candidates, CAS the owning Ref from MEM to LOCKED,
	reconcile the page under the current oldest-id snapshot, and on
	success free it — installing RefDisk (or RefDeleted if the page
	reconciled to nothing).

A page carrying FlagNoEviction (the metadata tree) is never sampled. A
page under a live hazard pointer, or already mid-split/scan, is
skipped for this pass rather than retried inline.
*/
package cache
