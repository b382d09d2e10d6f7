package page

import "sync/atomic"

// Update is one entry in a per-row (or per-recno-slot) modification
// chain: newest first, singly linked. A tombstone is a distinguished
// zero-length-value update representing a logical remove.
type Update struct {
	TxnID     uint64
	Value     []byte
	Tombstone bool
	Aborted   atomic.Bool // set by Rollback so readers skip it
	next      atomic.Pointer[Update]
}

func NewUpdate(txnID uint64, value []byte, tombstone bool) *Update {
	return &Update{TxnID: txnID, Value: value, Tombstone: tombstone}
}

func (u *Update) Next() *Update { return u.next.Load() }

// Size estimates the update's contribution to the page's memory
// footprint, for the cache's dirty-byte accounting.
func (u *Update) Size() int64 { return int64(len(u.Value)) + 40 }

// Chain is a CAS-guarded pointer to the head of an update chain,
// embedded once per on-page slot or insert-list node.
type Chain struct {
	head atomic.Pointer[Update]
}

func (c *Chain) Head() *Update { return c.head.Load() }

// Push prepends u to the chain via CAS, retrying against whatever the
// head currently is until it succeeds; the previous head becomes
// u.Next(). It returns nothing and makes no conflict check; writers
// that need one use PushIfHeadUnchanged.
func (c *Chain) Push(u *Update) {
	for {
		head := c.head.Load()
		u.next.Store(head)
		if c.head.CompareAndSwap(head, u) {
			return
		}
	}
}

// PushIfHeadUnchanged attempts a single CAS against an expected
// current head, used by writers that must detect a conflicting
// concurrent write between reading the head (for visibility/conflict
// checking) and installing their own update. Returns false if the
// head moved in between, in which case the caller re-validates
// visibility and retries.
func (c *Chain) PushIfHeadUnchanged(u *Update, expectedHead *Update) bool {
	u.next.Store(expectedHead)
	return c.head.CompareAndSwap(expectedHead, u)
}

// VisibleTo walks the chain starting at head, returning the first
// update visible under isVisible (txn id -> bool), skipping aborted
// updates. Returns nil if no update in the chain is visible (the
// logical value is then whatever the on-page/on-disk base image
// holds, or not-found if there is none).
func VisibleTo(head *Update, isVisible func(txnID uint64) bool) *Update {
	for u := head; u != nil; u = u.Next() {
		if u.Aborted.Load() {
			continue
		}
		if isVisible(u.TxnID) {
			return u
		}
	}
	return nil
}
