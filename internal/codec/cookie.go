package codec

import "fmt"

// Cookie is a serialized (off, size, checksum) tuple — an opaque
// handle to a block, as produced by a reconciliation and consumed by
// a later read.
type Cookie struct {
	Off      int64
	Size     int64
	Checksum uint64
}

func (c Cookie) String() string {
	return fmt.Sprintf("(%d,%d,%x)", c.Off, c.Size, c.Checksum)
}

func (c Cookie) IsZero() bool { return c.Size == 0 }
