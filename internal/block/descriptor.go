package block

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/kvaerner/internal/codec"
	"github.com/cuemby/kvaerner/internal/logging"
)

// DescriptorMagic identifies a block file's fixed description page:
// the first descriptorEnd bytes of every file, reserved from Alloc
// and never handed out as a regular page. Most Managers leave this
// page all zero; internal/meta's metadata table is the one owner that
// writes to it, since its own root has nowhere else to live (an
// ordinary file: table's root travels through the metadata table's
// checkpoint_root_* config keys instead).
const DescriptorMagic uint32 = 120897

const (
	descriptorMajor uint16 = 1
	descriptorMinor uint16 = 0
)

type descriptor struct {
	magic      uint32
	major      uint16
	minor      uint16
	allocUnit  int64
	root       codec.Cookie
	generation uint64
}

const descriptorSize = 4 + 2 + 2 + 8 + (8 + 8 + 8) + 8 + 8 // magic..generation, checksum

func encodeDescriptor(d descriptor) []byte {
	buf := make([]byte, descriptorSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.magic)
	binary.LittleEndian.PutUint16(buf[4:6], d.major)
	binary.LittleEndian.PutUint16(buf[6:8], d.minor)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(d.allocUnit))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(d.root.Off))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(d.root.Size))
	binary.LittleEndian.PutUint64(buf[32:40], d.root.Checksum)
	binary.LittleEndian.PutUint64(buf[40:48], d.generation)
	binary.LittleEndian.PutUint64(buf[48:56], xxhash.Sum64(buf[:48]))
	return buf
}

func decodeDescriptor(buf []byte) (descriptor, bool) {
	if len(buf) < descriptorSize {
		return descriptor{}, false
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != DescriptorMagic {
		return descriptor{}, false
	}
	if xxhash.Sum64(buf[:48]) != binary.LittleEndian.Uint64(buf[48:56]) {
		return descriptor{}, false
	}
	return descriptor{
		magic:     magic,
		major:     binary.LittleEndian.Uint16(buf[4:6]),
		minor:     binary.LittleEndian.Uint16(buf[6:8]),
		allocUnit: int64(binary.LittleEndian.Uint64(buf[8:16])),
		root: codec.Cookie{
			Off:      int64(binary.LittleEndian.Uint64(buf[16:24])),
			Size:     int64(binary.LittleEndian.Uint64(buf[24:32])),
			Checksum: binary.LittleEndian.Uint64(buf[32:40]),
		},
		generation: binary.LittleEndian.Uint64(buf[40:48]),
	}, true
}

// WriteDescriptor persists root as this file's current checkpoint root
// cookie in the fixed description page at offset 0. Returns an error
// if Open was never given a reserved descriptorEnd region to write
// into.
func (m *Manager) WriteDescriptor(root codec.Cookie, generation uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.descriptorEnd < descriptorSize {
		return fmt.Errorf("block: %s: no reserved description page to write", m.uri)
	}
	buf := encodeDescriptor(descriptor{
		magic:      DescriptorMagic,
		major:      descriptorMajor,
		minor:      descriptorMinor,
		allocUnit:  m.allocUnit,
		root:       root,
		generation: generation,
	})
	if _, err := m.fh.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("block: %s: write descriptor: %w", m.uri, err)
	}
	logging.WithAddr(root).Debug().
		Str("file", m.uri).
		Uint64("generation", generation).
		Msg("wrote description page root")
	return nil
}

// ReadDescriptor reads back a prior WriteDescriptor call. ok is false,
// with no error, for a brand-new file whose description page has
// never been written, or one laid out before this format existed.
func (m *Manager) ReadDescriptor() (root codec.Cookie, generation uint64, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.descriptorEnd < descriptorSize {
		return codec.Cookie{}, 0, false, nil
	}
	buf := make([]byte, descriptorSize)
	n, err := m.fh.ReadAt(buf, 0)
	if n < descriptorSize {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return codec.Cookie{}, 0, false, nil
		}
		if err != nil {
			return codec.Cookie{}, 0, false, fmt.Errorf("block: %s: read descriptor: %w", m.uri, err)
		}
		return codec.Cookie{}, 0, false, nil
	}
	d, ok := decodeDescriptor(buf)
	if !ok || d.root.IsZero() {
		return codec.Cookie{}, 0, false, nil
	}
	logging.WithAddr(d.root).Debug().
		Str("file", m.uri).
		Uint64("generation", d.generation).
		Msg("read description page root")
	return d.root, d.generation, true, nil
}
