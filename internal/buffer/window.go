// Package buffer provides the zero-copy byte plumbing used by the importer:
// immutable windows over chunk buffers, a streaming reader that keeps a
// bounded set of recent windows addressable by global index, a line
// iterator on top of it and a Horspool substring finder.
package buffer

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
)

// Window is an immutable half-open view [start, end) over a byte slice.
// Equality and hashing are defined by content, not by identity.
type Window struct {
	buf   []byte
	start int
	end   int
}

// NewWindow returns a window covering all of b.
func NewWindow(b []byte) Window {
	return Window{buf: b, start: 0, end: len(b)}
}

// WindowString returns a window over a copy of s.
func WindowString(s string) Window {
	return NewWindow([]byte(s))
}

// Len returns the number of bytes in view.
func (w Window) Len() int { return w.end - w.start }

// At returns the i-th byte of the view.
func (w Window) At(i int) byte {
	if i < 0 || i >= w.Len() {
		panic("buffer: window index out of range")
	}
	return w.buf[w.start+i]
}

// Bytes returns the viewed bytes. The result has its capacity clamped so
// appending to it never writes into the backing buffer.
func (w Window) Bytes() []byte {
	return w.buf[w.start:w.end:w.end]
}

// Slice returns the sub-window [from, to) relative to w.
func (w Window) Slice(from, to int) Window {
	if from < 0 || to < from || to > w.Len() {
		panic("buffer: window slice out of range")
	}
	return Window{buf: w.buf, start: w.start + from, end: w.start + to}
}

// String copies the viewed bytes into a string.
func (w Window) String() string { return string(w.Bytes()) }

// IndexByte returns the offset of the first c in w, or -1.
func (w Window) IndexByte(c byte) int { return bytes.IndexByte(w.Bytes(), c) }

// HasPrefix reports whether the view starts with prefix.
func (w Window) HasPrefix(prefix string) bool {
	return w.Len() >= len(prefix) && string(w.buf[w.start:w.start+len(prefix)]) == prefix
}

// Equal reports whether both windows view the same content.
func (w Window) Equal(o Window) bool { return bytes.Equal(w.Bytes(), o.Bytes()) }

// Hash returns a content hash; equal windows hash equally.
func (w Window) Hash() uint64 { return xxhash.Sum64(w.Bytes()) }

// Compact returns a window that owns exactly its bytes. Windows that already
// span their whole backing buffer are returned unchanged.
func (w Window) Compact() Window {
	if w.start == 0 && w.end == len(w.buf) {
		return w
	}
	return NewWindow(bytes.Clone(w.Bytes()))
}
