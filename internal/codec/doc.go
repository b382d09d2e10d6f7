// Package codec implements page I/O: reading and verifying a page
// image from a (off, size, checksum) cookie, optional compression,
// and the reverse on write. Compression runs over every byte after
// the fixed page header, which separately records the on-disk and
// in-memory-after-decompression lengths.
package codec
