package block

import "fmt"

// errExtentNotFound builds the panic value for a corrupted extent
// list or a free() of an offset the block manager never allocated.
// This class of error is always fatal.
func errExtentNotFound(list string, off, size int64) error {
	return fmt.Errorf("block: extent (%d,%d) not present in %s list", off, size, list)
}

// ErrBadMagic is returned by extlistRead when the serialized list's
// magic value does not match, indicating a corrupted or foreign page.
var ErrBadMagic = fmt.Errorf("block: extent list magic mismatch")
