package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor is the pluggable block-compressor interface. It
// operates on every byte after the fixed page Header. PreSize gives
// the caller a worst-case output buffer size.
type Compressor interface {
	Name() string
	Compress(dst, src []byte) ([]byte, error)
	Decompress(dst, src []byte, decompressedLen int) ([]byte, error)
	PreSize(src []byte) int
}

// NoCompression is the identity Compressor, used when no
// block_compressor is configured.
type NoCompression struct{}

func (NoCompression) Name() string { return "none" }

func (NoCompression) Compress(dst, src []byte) ([]byte, error) {
	return append(dst[:0], src...), nil
}

func (NoCompression) Decompress(dst, src []byte, decompressedLen int) ([]byte, error) {
	return append(dst[:0], src...), nil
}

func (NoCompression) PreSize(src []byte) int { return len(src) }

// ZstdCompressor is the default block_compressor, backed by
// klauspost/compress's pure-Go zstd implementation.
type ZstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor constructs a reusable encoder/decoder pair at the
// given compression level.
func NewZstdCompressor(level zstd.EncoderLevel) (*ZstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("codec: init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("codec: init zstd decoder: %w", err)
	}
	return &ZstdCompressor{enc: enc, dec: dec}, nil
}

func (z *ZstdCompressor) Name() string { return "zstd" }

func (z *ZstdCompressor) Compress(dst, src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, dst[:0]), nil
}

func (z *ZstdCompressor) Decompress(dst, src []byte, decompressedLen int) ([]byte, error) {
	if cap(dst) < decompressedLen {
		dst = make([]byte, 0, decompressedLen)
	}
	out, err := z.dec.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decompress: %w", err)
	}
	return out, nil
}

func (z *ZstdCompressor) PreSize(src []byte) int {
	// zstd frames are rarely larger than the input plus a small frame
	// overhead; compress_raw-style pre-sizing doesn't need to be exact.
	return len(src) + 64
}

func (z *ZstdCompressor) Close() {
	z.enc.Close()
	z.dec.Close()
}
