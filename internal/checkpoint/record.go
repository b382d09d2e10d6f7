package checkpoint

import "encoding/binary"

// Log record op bytes for the two markers a checkpoint pass writes.
// These are interpreted only by this package and by internal/recovery's
// metadata-only scan pass; internal/wal itself is payload-agnostic.
const (
	opPrepare byte = 1
	opStop    byte = 2
)

// OpPrepare and OpStop are exported so internal/recovery's
// metadata-only pass can tell the two markers apart after DecodeMarker.
const (
	OpPrepare = opPrepare
	OpStop    = opStop
)

// marker encodes one checkpoint boundary record: an op byte, the
// checkpoint generation it belongs to, and the oldest transaction id
// the checkpoint's reconciliation pass read under.
func marker(op byte, generation, oldestID uint64) []byte {
	buf := make([]byte, 1+8+8)
	buf[0] = op
	binary.LittleEndian.PutUint64(buf[1:9], generation)
	binary.LittleEndian.PutUint64(buf[9:17], oldestID)
	return buf
}

// DecodeMarker reverses marker, used by internal/recovery to recognize
// checkpoint boundaries during its metadata-only log scan.
func DecodeMarker(buf []byte) (op byte, generation, oldestID uint64, ok bool) {
	if len(buf) < 1+8+8 {
		return 0, 0, 0, false
	}
	op = buf[0]
	if op != opPrepare && op != opStop {
		return 0, 0, 0, false
	}
	generation = binary.LittleEndian.Uint64(buf[1:9])
	oldestID = binary.LittleEndian.Uint64(buf[9:17])
	return op, generation, oldestID, true
}
