package txn

// VisibleAll reports whether id is visible to every possible reader —
// i.e. id predates the global oldest-id. Used by reconciliation and
// eviction to decide whether an obsolete update can be discarded
// outright instead of written to disk.
func VisibleAll(global *Global, id uint64) bool {
	return id != None && id < global.OldestID()
}
