package lsm

import (
	"os"
	"sync/atomic"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/google/uuid"
)

// State is a chunk's position in its life cycle.
type State int32

const (
	// StateWritable is the primary: the only chunk application
	// sessions insert or remove keys against.
	StateWritable State = iota
	// StateSwitched has been demoted by a switch but not yet flushed;
	// its content is still only reachable through its in-memory tree.
	StateSwitched
	// StateFlushed has a checkpointed on-disk image and, once Bloom
	// build completes, a filter negative lookups can consult.
	StateFlushed
	// StateOld has been superseded by a merge and is retired to the
	// drop queue once no cursor still references it.
	StateOld
)

// Chunk is one generation of an LSM tree's on-disk stack: a full
// Btree over its own block-addressed file.
type Chunk struct {
	ID        string // uuid drawn by NewChunk; the backing file's name is chosen by the Opener
	Tree      *btree.Btree
	Block     *block.Manager
	SwitchTxn uint64 // global txn id running at the moment this chunk was demoted

	state atomic.Int32
	bloom atomic.Pointer[Bloom]
	refs  atomic.Int32
}

// NewChunk wraps a freshly opened tree/file pair as a writable
// primary chunk.
func NewChunk(tree *btree.Btree, blk *block.Manager) *Chunk {
	c := &Chunk{ID: uuid.NewString(), Tree: tree, Block: blk}
	c.state.Store(int32(StateWritable))
	return c
}

func (c *Chunk) State() State      { return State(c.state.Load()) }
func (c *Chunk) setState(s State)  { c.state.Store(int32(s)) }
func (c *Chunk) Bloom() *Bloom     { return c.bloom.Load() }
func (c *Chunk) setBloom(b *Bloom) { c.bloom.Store(b) }

// Acquire publishes a reader's interest in c, preventing the drop
// worker from removing its backing file out from under a cursor still
// walking it. Release must be called once the cursor moves on.
func (c *Chunk) Acquire() { c.refs.Add(1) }
func (c *Chunk) Release() { c.refs.Add(-1) }

// Referenced reports whether any cursor currently holds c open.
func (c *Chunk) Referenced() bool { return c.refs.Load() > 0 }

// dropChunkFile closes and removes a retired chunk's backing file.
// Called by the drop worker only once reapOldChunks has confirmed no
// cursor still references the chunk.
func dropChunkFile(c *Chunk) error {
	name := c.Block.File().Name()
	c.Block.File().Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
