package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

// ScanFunc is invoked once per record found by Scan. Returning
// more=false stops the scan early; recovery's two passes always
// return true and read to the end of the log.
type ScanFunc func(record []byte, lsn LSN, next LSN) (more bool, err error)

// Scan replays every record at or after from, across however many log
// files that spans, calling fn for each. It tolerates a final,
// partially written record (the tail of an in-progress append at
// crash time) by stopping silently once a record's header or body
// doesn't fully decode.
func (l *Log) Scan(from LSN, fn ScanFunc) error {
	nums, err := l.fileNumsFrom(from.File)
	if err != nil {
		return err
	}

	first := roundUp(descriptorSize, l.cfg.AllocationSize)
	for _, num := range nums {
		start := first
		if num == from.File {
			start = from.Offset
			if start < first {
				start = first
			}
		}
		more, err := l.scanFile(num, start, fn)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (l *Log) fileNumsFrom(minNum uint32) ([]uint32, error) {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("wal: readdir %s: %w", l.cfg.Dir, err)
	}
	var nums []uint32
	for _, e := range entries {
		var num uint32
		if _, err := fmt.Sscanf(e.Name(), l.cfg.FilePrefix+".%010d", &num); err == nil && num >= minNum {
			nums = append(nums, num)
		}
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

func (l *Log) scanFile(num uint32, start int64, fn ScanFunc) (more bool, err error) {
	fh, err := os.Open(l.cfg.fileName(num))
	if err != nil {
		return false, fmt.Errorf("wal: open %s for scan: %w", l.cfg.fileName(num), err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return false, fmt.Errorf("wal: stat during scan: %w", err)
	}
	fileSize := info.Size()

	off := start
	header := make([]byte, recordHeaderSize)
	for off+recordHeaderSize <= fileSize {
		if _, err := fh.ReadAt(header, off); err != nil {
			return true, nil // truncated tail, stop cleanly
		}
		bodyLen := int(binary.LittleEndian.Uint32(header[0:4]))
		if bodyLen == 0 {
			return true, nil // unwritten tail of a preallocated file
		}
		recSize := roundUp(int64(recordHeaderSize+bodyLen), l.cfg.AllocationSize)
		if off+recSize > fileSize {
			return true, nil
		}

		buf := make([]byte, recordHeaderSize+bodyLen)
		if _, err := fh.ReadAt(buf, off); err != nil {
			return true, nil
		}
		payload, _, err := decodeRecord(buf, l.cfg.Compressor)
		if err != nil {
			return true, nil // checksum failure at the tail: stop, don't fail the whole scan
		}

		lsn := LSN{File: num, Offset: off}
		next := LSN{File: num, Offset: off + recSize}
		more, err := fn(payload, lsn, next)
		if err != nil {
			return false, err
		}
		if !more {
			return false, nil
		}
		off += recSize
	}
	return true, nil
}

