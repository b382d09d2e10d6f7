package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Checksum computes the page checksum used to verify a read against
// the value stored in its cookie.
func Checksum(buf []byte) uint64 {
	return xxhash.Sum64(buf)
}

// WritePage encodes header followed by payload (compressed with c if
// non-nil and not NoCompression), writes it at off, and returns the
// resulting cookie. off is expected to come from the block manager's
// Alloc, already aligned to its allocation unit and large enough for
// the encoded image (the reconciliation layer rounds up before calling
// Alloc).
func WritePage(w io.WriterAt, off int64, header Header, payload []byte, c Compressor) (Cookie, error) {
	if c == nil {
		c = NoCompression{}
	}

	body := payload
	if c.Name() != "none" {
		compressed, err := c.Compress(nil, payload)
		if err != nil {
			return Cookie{}, fmt.Errorf("codec: compress: %w", err)
		}
		if len(compressed) < len(payload) {
			body = compressed
			header.Flags |= FlagCompressed
		}
	}

	header.MemSize = uint32(len(payload))
	header.OnDiskSize = uint32(HeaderSize + len(body))

	buf := make([]byte, HeaderSize+len(body))
	encodeHeader(buf, header)
	copy(buf[HeaderSize:], body)

	if _, err := w.WriteAt(buf, off); err != nil {
		return Cookie{}, fmt.Errorf("codec: write page at %d: %w", off, err)
	}

	return Cookie{Off: off, Size: int64(len(buf)), Checksum: Checksum(buf)}, nil
}

// ReadPage reads the image addressed by cookie into a new buffer,
// verifies its checksum, and decompresses the payload if needed,
// returning the decoded header and logical payload bytes.
func ReadPage(r io.ReaderAt, cookie Cookie, c Compressor) (Header, []byte, error) {
	if c == nil {
		c = NoCompression{}
	}

	buf := make([]byte, cookie.Size)
	if _, err := r.ReadAt(buf, cookie.Off); err != nil {
		return Header{}, nil, fmt.Errorf("codec: read page at %d: %w", cookie.Off, err)
	}

	if Checksum(buf) != cookie.Checksum {
		return Header{}, nil, fmt.Errorf("codec: checksum mismatch at %d", cookie.Off)
	}
	if len(buf) < HeaderSize {
		return Header{}, nil, fmt.Errorf("codec: truncated page header at %d", cookie.Off)
	}

	header := decodeHeader(buf)
	body := buf[HeaderSize:]

	if header.Compressed() {
		payload, err := c.Decompress(nil, body, int(header.MemSize))
		if err != nil {
			return Header{}, nil, fmt.Errorf("codec: decompress page at %d: %w", cookie.Off, err)
		}
		return header, payload, nil
	}
	return header, body, nil
}

// VerifyPage reports whether buf looks like a plausible page image:
// long enough for a header, with a known type byte. It does not need
// the original cookie's checksum, so it is also what block.Salvage
// uses to probe candidate ranges whose cookie was lost.
func VerifyPage(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	h := decodeHeader(buf)
	if h.Type < TypeInternalRow || h.Type > TypeBlockManager {
		return false
	}
	return int(h.OnDiskSize) <= len(buf)
}

func encodeHeader(buf []byte, h Header) {
	binary.LittleEndian.PutUint64(buf[0:8], h.RecnoOrEntries)
	binary.LittleEndian.PutUint64(buf[8:16], h.WriteGen)
	binary.LittleEndian.PutUint32(buf[16:20], h.MemSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.OnDiskSize)
	buf[24] = byte(h.Type)
	buf[25] = h.Flags
	// buf[26:28] reserved/padding
}

func decodeHeader(buf []byte) Header {
	return Header{
		RecnoOrEntries: binary.LittleEndian.Uint64(buf[0:8]),
		WriteGen:       binary.LittleEndian.Uint64(buf[8:16]),
		MemSize:        binary.LittleEndian.Uint32(buf[16:20]),
		OnDiskSize:     binary.LittleEndian.Uint32(buf[20:24]),
		Type:           Type(buf[24]),
		Flags:          buf[25],
	}
}
