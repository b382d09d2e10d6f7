package reconcile

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cuemby/kvaerner/internal/block"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/page"
)

// Config sizes one reconciliation pass.
type Config struct {
	SplitSize      int64 // boundary is recorded once the buffer crosses this size
	MaxSize        int64 // buffer is force-flushed at this size
	OverflowMin    int64 // values at or past this size are written as overflow blocks
	AllocationSize int64
	RawCompress    RawCompressor // non-nil enables raw mode
}

func DefaultConfig() Config {
	return Config{
		SplitSize:      16 * 1024,
		MaxSize:        32 * 1024,
		OverflowMin:    4 * 1024,
		AllocationSize: 4096,
	}
}

// RawCompressor is a "raw mode" callback: given the accumulated cell
// bytes it returns how many leading bytes it accepted into one
// compressed block, the rest carrying over to the next.
type RawCompressor func(accumulated []byte) (acceptedLen int, err error)

// Result is what a Reconcile call produced.
type Result struct {
	Boundaries []page.Boundary
	LeaveDirty bool // true: the page still has content invisible to the reconciliation snapshot
}

// Reconcile builds on-disk images for leaf's current logical content
// (on-page entries merged with the insert list) as of oldestID — the
// global oldest running transaction id, so nothing still needed by a
// live snapshot reader is discarded. It allocates and writes blocks
// via blk, and records overflow bookkeeping on leaf's Modify record.
func Reconcile(leaf *page.Page, blk *block.Manager, compressor codec.Compressor, oldestID uint64, cfg Config) (Result, error) {
	mod := leaf.MarkDirty()
	mod.Lock()
	defer mod.Unlock()

	rows, leaveDirty := collectVisible(leaf, oldestID)

	var result Result
	result.LeaveDirty = leaveDirty

	buf := new(bytes.Buffer)
	var prevKey []byte
	boundaryStart := 0
	entryCount := 0
	var firstKeyInBlock []byte
	var firstRecnoInBlock uint64

	flush := func(upto int) error {
		if buf.Len() == boundaryStart {
			return nil
		}
		chunk := buf.Bytes()[boundaryStart:upto]
		size := roundUp(int64(codec.HeaderSize+len(chunk)), cfg.AllocationSize)
		off, err := blk.Alloc(size)
		if err != nil {
			return fmt.Errorf("reconcile: alloc: %w", err)
		}
		hdr := codec.Header{Type: leaf.Type, RecnoOrEntries: uint64(entryCount)}
		cookie, err := codec.WritePage(blk.File(), off, hdr, append([]byte(nil), chunk...), compressor)
		if err != nil {
			return fmt.Errorf("reconcile: write page: %w", err)
		}
		result.Boundaries = append(result.Boundaries, page.Boundary{
			Addr:       cookie,
			FirstKey:   firstKeyInBlock,
			FirstRecno: firstRecnoInBlock,
			Entries:    entryCount,
		})
		boundaryStart = upto
		entryCount = 0
		return nil
	}

	for i, r := range rows {
		if r.deleted {
			continue
		}
		if i == 0 || firstKeyInBlock == nil {
			firstKeyInBlock = r.key
			firstRecnoInBlock = r.recno
		}

		value := r.value
		isOverflow := false
		if int64(len(value)) >= cfg.OverflowMin && cfg.OverflowMin > 0 {
			cookie, err := writeOverflow(mod, blk, compressor, value, cfg)
			if err != nil {
				return result, err
			}
			value = encodeOverflowRef(cookie)
			isOverflow = true
		}

		cell := encodeCell(prevKey, r.key, value, r.tombstone, isOverflow)
		buf.Write(cell)
		prevKey = r.key
		entryCount++

		if int64(buf.Len()-boundaryStart) >= cfg.MaxSize {
			if cfg.RawCompress != nil {
				accepted, err := cfg.RawCompress(buf.Bytes()[boundaryStart:])
				if err != nil {
					return result, fmt.Errorf("reconcile: raw compress: %w", err)
				}
				if err := flush(boundaryStart + accepted); err != nil {
					return result, err
				}
			} else if err := flush(buf.Len()); err != nil {
				return result, err
			}
			firstKeyInBlock = nil
			prevKey = nil
		} else if int64(buf.Len()-boundaryStart) >= cfg.SplitSize {
			if err := flush(buf.Len()); err != nil {
				return result, err
			}
			firstKeyInBlock = nil
			prevKey = nil
		}
	}
	if err := flush(buf.Len()); err != nil {
		return result, err
	}

	mod.PageImages = result.Boundaries
	return result, nil
}

func roundUp(n, unit int64) int64 {
	if unit <= 0 {
		return n
	}
	if n%unit == 0 {
		return n
	}
	return (n/unit + 1) * unit
}

type visibleRow struct {
	key       []byte
	recno     uint64
	value     []byte
	tombstone bool
	deleted   bool
}

// collectVisible merges on-page entries with the insert list, keeping
// for each logical row the most recent update visible to a reader
// whose snapshot excludes nothing older than oldestID (i.e. the
// update chain is walked for the newest update with TxnID < oldestID,
// which by definition every live reader can also see). Any chain with
// an update at or past oldestID still attached leaves the page dirty.
func collectVisible(leaf *page.Page, oldestID uint64) ([]visibleRow, bool) {
	leaveDirty := false
	var rows []visibleRow

	var inserts []*page.InsertNode
	leaf.Inserts.Range(func(n *page.InsertNode) bool { inserts = append(inserts, n); return true })

	ei, ii := 0, 0
	for ei < len(leaf.Entries) || ii < len(inserts) {
		var useEntry bool
		switch {
		case ei >= len(leaf.Entries):
			useEntry = false
		case ii >= len(inserts):
			useEntry = true
		default:
			useEntry = bytes.Compare(entryKey(leaf, ei), inserts[ii].Key) <= 0
		}

		if useEntry {
			key := entryKey(leaf, ei)
			u, dirty := newestBelow(leaf.Entries[ei].Chain.Head(), oldestID)
			leaveDirty = leaveDirty || dirty
			row := visibleRow{key: key, recno: leaf.StartRecno + uint64(ei)}
			if u != nil {
				row.value, row.tombstone = u.Value, u.Tombstone
			} else {
				row.value = leaf.Entries[ei].Base
				row.deleted = row.value == nil
			}
			rows = append(rows, row)
			ei++
		} else {
			n := inserts[ii]
			u, dirty := newestBelow(n.Chain.Head(), oldestID)
			leaveDirty = leaveDirty || dirty
			if u == nil {
				// Nothing in this chain predates the reconciliation
				// snapshot: the row does not exist yet as far as this
				// reconciliation is concerned.
				ii++
				continue
			}
			rows = append(rows, visibleRow{key: n.Key, value: u.Value, tombstone: u.Tombstone, deleted: u.Tombstone})
			ii++
		}
	}
	return rows, leaveDirty
}

func entryKey(leaf *page.Page, idx int) []byte {
	if leaf.Entries[idx].Key != nil {
		return leaf.Entries[idx].Key
	}
	return page.RecnoKey(leaf.StartRecno + uint64(idx))
}

// newestBelow returns the newest non-aborted update with TxnID <
// oldestID (the reconciliation's own read), and whether any update in
// the chain has TxnID >= oldestID (meaning a live reader might still
// need a value this reconciliation cannot see, so the page must be
// left dirty).
func newestBelow(head *page.Update, oldestID uint64) (u *page.Update, dirty bool) {
	for cur := head; cur != nil; cur = cur.Next() {
		if cur.Aborted.Load() {
			continue
		}
		if cur.TxnID >= oldestID {
			dirty = true
			continue
		}
		if u == nil {
			u = cur
		}
	}
	return u, dirty
}

// Flag bits packed into a cell's flags byte.
const (
	cellFlagTombstone byte = 1 << iota
	cellFlagOverflow
)

// encodeCell packs one logical row as [prefixLen][suffixLen][suffix]
// [flags][valueLen][value], prefix-compressing key against prevKey
// (row-store leaf prefix compression). overflow marks value as an
// encodeOverflowRef cookie rather than an inline value, so DecodeLeaf
// can tell the two apart regardless of their encoded length.
func encodeCell(prevKey, key, value []byte, tombstone, overflow bool) []byte {
	prefix := commonPrefixLen(prevKey, key)
	suffix := key[prefix:]

	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte
	writeUvarint(&buf, scratch[:], uint64(prefix))
	writeUvarint(&buf, scratch[:], uint64(len(suffix)))
	buf.Write(suffix)
	var flags byte
	if tombstone {
		flags |= cellFlagTombstone
	}
	if overflow {
		flags |= cellFlagOverflow
	}
	buf.WriteByte(flags)
	writeUvarint(&buf, scratch[:], uint64(len(value)))
	buf.Write(value)
	return buf.Bytes()
}

func writeUvarint(buf *bytes.Buffer, scratch []byte, v uint64) {
	n := binary.PutUvarint(scratch, v)
	buf.Write(scratch[:n])
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// writeOverflow allocates and writes value as a standalone block,
// deduplicating identical values within this reconciliation via the
// page's OverflowReuse map and caching it in OverflowTxnCache for
// snapshot readers that still need it after this reconciliation
// logically removes it from the page body.
func writeOverflow(mod *page.Modify, blk *block.Manager, compressor codec.Compressor, value []byte, cfg Config) (codec.Cookie, error) {
	if cookie, ok := mod.OverflowReuse[string(value)]; ok {
		return cookie, nil
	}
	size := roundUp(int64(codec.HeaderSize+len(value)), cfg.AllocationSize)
	off, err := blk.Alloc(size)
	if err != nil {
		return codec.Cookie{}, fmt.Errorf("reconcile: alloc overflow: %w", err)
	}
	hdr := codec.Header{Type: codec.TypeOverflow}
	cookie, err := codec.WritePage(blk.File(), off, hdr, value, compressor)
	if err != nil {
		return codec.Cookie{}, fmt.Errorf("reconcile: write overflow: %w", err)
	}
	mod.OverflowReuse[string(value)] = cookie
	mod.OverflowTxnCache[cookie] = value
	return cookie, nil
}

func encodeOverflowRef(c codec.Cookie) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(c.Off))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.Size))
	binary.LittleEndian.PutUint64(buf[16:24], c.Checksum)
	return buf
}

// DecodeOverflowRef reverses encodeOverflowRef, used by a reader that
// finds an overflow-address cell in place of an inline value.
func DecodeOverflowRef(buf []byte) codec.Cookie {
	return codec.Cookie{
		Off:      int64(binary.LittleEndian.Uint64(buf[0:8])),
		Size:     int64(binary.LittleEndian.Uint64(buf[8:16])),
		Checksum: binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// DecodeLeaf reverses encodeCell's packing of header.RecnoOrEntries
// cells out of payload, reconstructing a resident leaf page's on-page
// entries. readOverflow resolves an overflow-flagged cell's value
// cookie into its backing bytes. Only row-store leaves are supported;
// internal/btree never calls this for any other page type.
func DecodeLeaf(header codec.Header, payload []byte, readOverflow func(codec.Cookie) ([]byte, error)) (*page.Page, error) {
	if header.Type != codec.TypeLeafRow {
		return nil, fmt.Errorf("reconcile: decode leaf: unsupported page type %s", header.Type)
	}

	p := page.NewLeafPage(codec.TypeLeafRow)
	p.SetWriteGen(header.WriteGen)

	entries := make([]page.Entry, 0, header.RecnoOrEntries)
	var prevKey []byte
	off := 0

	readUvarint := func() (uint64, error) {
		v, n := binary.Uvarint(payload[off:])
		if n <= 0 {
			return 0, fmt.Errorf("reconcile: decode leaf: malformed varint at offset %d", off)
		}
		off += n
		return v, nil
	}

	for i := uint64(0); i < header.RecnoOrEntries; i++ {
		prefixLen, err := readUvarint()
		if err != nil {
			return nil, err
		}
		suffixLen, err := readUvarint()
		if err != nil {
			return nil, err
		}
		if off+int(suffixLen) > len(payload) || int(prefixLen) > len(prevKey) {
			return nil, fmt.Errorf("reconcile: decode leaf: truncated cell at entry %d", i)
		}
		suffix := payload[off : off+int(suffixLen)]
		off += int(suffixLen)

		key := make([]byte, int(prefixLen)+int(suffixLen))
		copy(key, prevKey[:prefixLen])
		copy(key[prefixLen:], suffix)

		if off >= len(payload) {
			return nil, fmt.Errorf("reconcile: decode leaf: truncated flags at entry %d", i)
		}
		flags := payload[off]
		off++
		tombstone := flags&cellFlagTombstone != 0
		overflow := flags&cellFlagOverflow != 0

		valueLen, err := readUvarint()
		if err != nil {
			return nil, err
		}
		if off+int(valueLen) > len(payload) {
			return nil, fmt.Errorf("reconcile: decode leaf: truncated value at entry %d", i)
		}
		raw := payload[off : off+int(valueLen)]
		off += int(valueLen)

		var value []byte
		switch {
		case tombstone:
			value = nil
		case overflow:
			v, err := readOverflow(DecodeOverflowRef(raw))
			if err != nil {
				return nil, fmt.Errorf("reconcile: decode leaf: overflow at entry %d: %w", i, err)
			}
			value = v
		default:
			value = append([]byte(nil), raw...)
		}

		entries = append(entries, page.Entry{Key: key, Base: value})
		prevKey = key
	}

	p.Entries = entries
	return p, nil
}
