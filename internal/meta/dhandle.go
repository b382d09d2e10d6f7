package meta

import (
	"fmt"
	"sync"

	"github.com/cuemby/kvaerner/internal/btree"
)

// Handle is one process-wide open tree, shared by every session that
// references its URI, reduced to the minimum needed to make
// recovery's per-file id table and the LSM layer's per-chunk files
// coherent: open/close/drop on the same URI from different sessions
// share one underlying Btree instead of racing to build their own.
type Handle struct {
	URI  string
	Tree *btree.Btree

	refs int32
}

// Registry is the process-wide handle hash.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Open returns uri's handle, constructing one via opener on first
// reference. Every successful Open must be matched by a Close.
func (r *Registry) Open(uri string, opener func() (*btree.Btree, error)) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[uri]; ok {
		h.refs++
		return h, nil
	}

	tree, err := opener()
	if err != nil {
		return nil, fmt.Errorf("meta: open %s: %w", uri, err)
	}
	h := &Handle{URI: uri, Tree: tree, refs: 1}
	r.handles[uri] = h
	return h, nil
}

// Close releases one reference to h. The handle stays resident in the
// registry once its reference count reaches zero — only Drop actually
// removes it, matching the distinction between "no session has it
// open right now" and "schema-dropped".
func (r *Registry) Close(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.handles[h.URI]; ok && cur == h && h.refs > 0 {
		h.refs--
	}
}

// Drop removes uri's handle, refusing if it still has live references
// (every session must Close its handle before the object can be
// dropped).
func (r *Registry) Drop(uri string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[uri]
	if !ok {
		return nil
	}
	if h.refs > 0 {
		return fmt.Errorf("meta: drop %s: %d active handle(s)", uri, h.refs)
	}
	delete(r.handles, uri)
	return nil
}

// Lookup returns uri's handle without affecting its reference count,
// or ok=false if it isn't currently open.
func (r *Registry) Lookup(uri string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[uri]
	return h, ok
}

// Len reports how many URIs currently have an open handle.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
