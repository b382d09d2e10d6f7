package recovery

import (
	"encoding/binary"
	"fmt"
)

// Operation record op bytes. Every record this package writes or
// reads carries one of these as its first byte; internal/wal's own
// records are payload-agnostic, so the vocabulary lives here instead.
const (
	opPut    byte = 1
	opRemove byte = 2
	opCommit byte = 3
	opAbort  byte = 4
)

// Op is one decoded log record relevant to replay.
type Op struct {
	Kind  byte
	TxnID uint64
	URI   string
	Key   []byte
	Value []byte
}

// EncodePut builds a put operation record: this transaction wrote key
// -> value against the tree named uri.
func EncodePut(txnID uint64, uri string, key, value []byte) []byte {
	return encode(opPut, txnID, uri, key, value)
}

// EncodeRemove builds a remove operation record.
func EncodeRemove(txnID uint64, uri string, key []byte) []byte {
	return encode(opRemove, txnID, uri, key, nil)
}

// EncodeCommit builds a transaction-commit marker: every Put/Remove
// record logged under txnID before this point becomes durable.
func EncodeCommit(txnID uint64) []byte {
	return encode(opCommit, txnID, "", nil, nil)
}

// EncodeAbort builds a transaction-abort marker: every Put/Remove
// record logged under txnID before this point is discarded by replay.
func EncodeAbort(txnID uint64) []byte {
	return encode(opAbort, txnID, "", nil, nil)
}

func encode(kind byte, txnID uint64, uri string, key, value []byte) []byte {
	buf := make([]byte, 0, 1+8+2+len(uri)+4+len(key)+4+len(value))
	buf = append(buf, kind)
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], txnID)
	buf = append(buf, scratch[:]...)

	buf = appendUint16Prefixed(buf, []byte(uri))
	buf = appendUint32Prefixed(buf, key)
	buf = appendUint32Prefixed(buf, value)
	return buf
}

func appendUint16Prefixed(buf, data []byte) []byte {
	var scratch [2]byte
	binary.LittleEndian.PutUint16(scratch[:], uint16(len(data)))
	buf = append(buf, scratch[:]...)
	return append(buf, data...)
}

func appendUint32Prefixed(buf, data []byte) []byte {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(data)))
	buf = append(buf, scratch[:]...)
	return append(buf, data...)
}

// DecodeOp reverses one of the Encode* functions. It returns ok=false
// (never an error) for a buffer too short or malformed to be one of
// this package's records — used to recognize that a scanned record
// belongs to a different subsystem (e.g. internal/checkpoint's own
// marker records) rather than failing the whole replay.
func DecodeOp(buf []byte) (Op, bool) {
	if len(buf) < 1+8+2+4+4 {
		return Op{}, false
	}
	kind := buf[0]
	switch kind {
	case opPut, opRemove, opCommit, opAbort:
	default:
		return Op{}, false
	}

	pos := 1
	txnID := binary.LittleEndian.Uint64(buf[pos : pos+8])
	pos += 8

	uri, pos, ok := readUint16Prefixed(buf, pos)
	if !ok {
		return Op{}, false
	}
	key, pos, ok := readUint32Prefixed(buf, pos)
	if !ok {
		return Op{}, false
	}
	value, pos, ok := readUint32Prefixed(buf, pos)
	if !ok || pos != len(buf) {
		return Op{}, false
	}

	return Op{Kind: kind, TxnID: txnID, URI: string(uri), Key: key, Value: value}, true
}

func readUint16Prefixed(buf []byte, pos int) ([]byte, int, bool) {
	if pos+2 > len(buf) {
		return nil, pos, false
	}
	n := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if pos+n > len(buf) {
		return nil, pos, false
	}
	return buf[pos : pos+n], pos + n, true
}

func readUint32Prefixed(buf []byte, pos int) ([]byte, int, bool) {
	if pos+4 > len(buf) {
		return nil, pos, false
	}
	n := int(binary.LittleEndian.Uint32(buf[pos : pos+4]))
	pos += 4
	if pos+n > len(buf) {
		return nil, pos, false
	}
	return buf[pos : pos+n], pos + n, true
}

func (o Op) String() string {
	return fmt.Sprintf("op(kind=%d txn=%d uri=%q key=%x)", o.Kind, o.TxnID, o.URI, o.Key)
}
