package typedstream

import "bytes"

// Cursor is a bounds-checked read view over an immutable byte buffer.
// Every read either succeeds fully or reports failure; it never panics
// and never reads out of bounds. All archive parsing goes through a
// Cursor instead of indexing the raw slice.
type Cursor struct {
	buf []byte
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Len returns the total buffer length.
func (c *Cursor) Len() int {
	return len(c.buf)
}

// PeekAt returns the byte at offset, or false if offset is out of range.
func (c *Cursor) PeekAt(offset int) (byte, bool) {
	if offset < 0 || offset >= len(c.buf) {
		return 0, false
	}
	return c.buf[offset], true
}

// SliceFrom returns length bytes starting at offset. It fails (rather
// than panicking) when the requested range extends past the buffer.
// The returned slice aliases the underlying buffer and must not be mutated.
func (c *Cursor) SliceFrom(offset, length int) ([]byte, bool) {
	if offset < 0 || length < 0 || offset+length > len(c.buf) {
		return nil, false
	}
	return c.buf[offset : offset+length], true
}

// FindSubsequence returns the offset of the first occurrence of pattern
// at or after fromOffset, or false if the pattern does not occur.
func (c *Cursor) FindSubsequence(pattern []byte, fromOffset int) (int, bool) {
	if fromOffset < 0 {
		fromOffset = 0
	}
	if fromOffset > len(c.buf) || len(pattern) == 0 {
		return 0, false
	}
	idx := bytes.Index(c.buf[fromOffset:], pattern)
	if idx < 0 {
		return 0, false
	}
	return fromOffset + idx, true
}
