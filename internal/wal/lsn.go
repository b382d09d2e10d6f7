package wal

import "fmt"

// LSN addresses one record: which log file it starts in, and its byte
// offset within that file.
type LSN struct {
	File   uint32
	Offset int64
}

// Zero is the reserved "no LSN" value, used as a sentinel by a log
// that has never been written to.
var Zero = LSN{}

func (l LSN) IsZero() bool { return l == Zero }

func (l LSN) String() string { return fmt.Sprintf("%d/%d", l.File, l.Offset) }

// Less reports whether l sorts before o (earlier file, or same file
// and earlier offset).
func (l LSN) Less(o LSN) bool {
	if l.File != o.File {
		return l.File < o.File
	}
	return l.Offset < o.Offset
}

func (l LSN) LessEqual(o LSN) bool { return l == o || l.Less(o) }
