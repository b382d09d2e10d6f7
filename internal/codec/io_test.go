package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type memFile struct{ buf []byte }

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.buf[off:])
	return n, nil
}

func TestWriteReadPageRoundTrip(t *testing.T) {
	f := &memFile{}
	payload := bytes.Repeat([]byte("row-store-leaf-cell"), 200)

	cookie, err := WritePage(f, 0, Header{Type: TypeLeafRow, RecnoOrEntries: 42}, payload, NoCompression{})
	require.NoError(t, err)

	header, out, err := ReadPage(f, cookie, NoCompression{})
	require.NoError(t, err)
	require.Equal(t, TypeLeafRow, header.Type)
	require.Equal(t, uint64(42), header.RecnoOrEntries)
	require.Equal(t, payload, out)
}

func TestReadPageChecksumMismatch(t *testing.T) {
	f := &memFile{}
	cookie, err := WritePage(f, 0, Header{Type: TypeOverflow}, []byte("value"), NoCompression{})
	require.NoError(t, err)

	cookie.Checksum++ // corrupt
	_, _, err = ReadPage(f, cookie, NoCompression{})
	require.Error(t, err)
}

func TestVerifyPageRejectsGarbage(t *testing.T) {
	require.False(t, VerifyPage([]byte{1, 2, 3}))
	require.False(t, VerifyPage(make([]byte, HeaderSize-1)))
}
