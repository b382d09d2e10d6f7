package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/kvaerner/internal/codec"
)

// Magic identifies a log file's description record; Version is bumped
// on an incompatible on-disk format change.
const (
	Magic   uint32 = 0x575447 // "WTG" — WAL descriptor marker
	Version uint32 = 1
)

// recordHeaderSize is the fixed prefix of every log record: length,
// checksum, and a compression flag byte (with padding for alignment).
const recordHeaderSize = 4 + 8 + 1 + 3

const flagCompressed = 1

// descriptor is the first thing written to every new log file.
type descriptor struct {
	Magic   uint32
	Version uint32
	MaxSize int64
}

const descriptorSize = 4 + 4 + 8

func encodeDescriptor(d descriptor) []byte {
	buf := make([]byte, descriptorSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], d.Version)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(d.MaxSize))
	return buf
}

func decodeDescriptor(buf []byte) (descriptor, error) {
	if len(buf) < descriptorSize {
		return descriptor{}, fmt.Errorf("wal: truncated file descriptor")
	}
	d := descriptor{
		Magic:   binary.LittleEndian.Uint32(buf[0:4]),
		Version: binary.LittleEndian.Uint32(buf[4:8]),
		MaxSize: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
	if d.Magic != Magic {
		return descriptor{}, fmt.Errorf("wal: bad magic %x", d.Magic)
	}
	return d, nil
}

// encodeRecord packs payload as [len][checksum][flags][pad][body],
// compressing body with c if it shrinks the record.
func encodeRecord(payload []byte, c codec.Compressor) []byte {
	body := payload
	flags := byte(0)
	if c != nil && c.Name() != "none" {
		if compressed, err := c.Compress(nil, payload); err == nil && len(compressed) < len(payload) {
			body = compressed
			flags = flagCompressed
		}
	}

	buf := make([]byte, recordHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(body)))
	buf[12] = flags
	copy(buf[recordHeaderSize:], body)
	binary.LittleEndian.PutUint64(buf[4:12], xxhash.Sum64(buf[recordHeaderSize:]))
	return buf
}

// decodeRecord reverses encodeRecord, verifying the checksum and
// decompressing if needed. decompressedLen is only needed by
// compressors that require it up front (zstd does not).
func decodeRecord(buf []byte, c codec.Compressor) (payload []byte, bodyLen int, err error) {
	if len(buf) < recordHeaderSize {
		return nil, 0, fmt.Errorf("wal: truncated record header")
	}
	length := int(binary.LittleEndian.Uint32(buf[0:4]))
	checksum := binary.LittleEndian.Uint64(buf[4:12])
	flags := buf[12]

	if len(buf) < recordHeaderSize+length {
		return nil, 0, fmt.Errorf("wal: truncated record body")
	}
	body := buf[recordHeaderSize : recordHeaderSize+length]
	if xxhash.Sum64(body) != checksum {
		return nil, 0, fmt.Errorf("wal: checksum mismatch")
	}

	if flags&flagCompressed != 0 {
		if c == nil {
			return nil, 0, fmt.Errorf("wal: compressed record but no compressor configured")
		}
		out, err := c.Decompress(nil, body, 0)
		if err != nil {
			return nil, 0, fmt.Errorf("wal: decompress record: %w", err)
		}
		return out, length, nil
	}
	return append([]byte(nil), body...), length, nil
}
