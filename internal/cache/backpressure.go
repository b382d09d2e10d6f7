package cache

import (
	"context"
	"time"
)

// spinBound caps how long WaitForSpace spins before yielding to the
// server loop's own pass; application threads help evict rather than
// block indefinitely on the server thread's schedule.
const spinBound = 16

// WaitForSpace is the back-pressure an application thread takes before
// allocating more page memory: if usage is over the hard target it
// signals the server loop and either helps evict directly or spins
// briefly waiting for room. ctx cancellation aborts the wait.
func (c *Cache) WaitForSpace(ctx context.Context) error {
	if !c.overHardTarget() {
		return nil
	}
	c.Signal()

	for i := 0; i < spinBound && c.overHardTarget(); i++ {
		if _, err := c.runPass(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// ForceWouldBlock runs a would-block eviction: instead of the normal
// bottom-quartile pass, it evicts pages whose read_gen is the current
// global oldest generation first, on the theory that a thread calling
// this is out of alternatives and cannot wait for a normal pass to
// reach them.
func (c *Cache) ForceWouldBlock() (int, error) {
	oldestGen := c.oldestResidentGen()
	if oldestGen == 0 {
		return 0, nil
	}

	var candidates []candidate
	for _, t := range c.snapshotTrees() {
		if t.NoEviction {
			continue
		}
		for _, cand := range c.sampleTree(t) {
			if cand.score == oldestGen {
				candidates = append(candidates, cand)
			}
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	return c.dispatch(candidates)
}

// oldestResidentGen scans every registered tree's sample for the
// smallest read_gen currently in memory.
func (c *Cache) oldestResidentGen() uint64 {
	var oldest uint64
	for _, t := range c.snapshotTrees() {
		if t.NoEviction {
			continue
		}
		for _, cand := range c.sampleTree(t) {
			if oldest == 0 || cand.score < oldest {
				oldest = cand.score
			}
		}
	}
	return oldest
}
