package buffer

import "errors"

// MaxNeedleLen is the longest needle a Finder accepts. Skip distances are
// stored as int8.
const MaxNeedleLen = 127

var (
	// ErrEmptyNeedle is returned by NewFinder for a zero-length needle.
	ErrEmptyNeedle = errors.New("buffer: empty needle")
	// ErrNeedleTooLong is returned by NewFinder for needles over MaxNeedleLen.
	ErrNeedleTooLong = errors.New("buffer: needle longer than 127 bytes")
)

// Finder searches for a fixed needle using the Boyer-Moore-Horspool
// bad-character rule.
type Finder struct {
	needle []byte
	skip   [256]int8
}

// NewFinder precomputes the skip table for needle.
func NewFinder(needle string) (*Finder, error) {
	m := len(needle)
	if m == 0 {
		return nil, ErrEmptyNeedle
	}
	if m > MaxNeedleLen {
		return nil, ErrNeedleTooLong
	}
	f := &Finder{needle: []byte(needle)}
	for i := range f.skip {
		f.skip[i] = int8(m)
	}
	for i := 0; i < m-1; i++ {
		f.skip[needle[i]] = int8(m - 1 - i)
	}
	return f, nil
}

// MustFinder is NewFinder for package-level needles known to be valid.
func MustFinder(needle string) *Finder {
	f, err := NewFinder(needle)
	if err != nil {
		panic(err)
	}
	return f
}

// Index returns the offset of the first occurrence of the needle that ends
// within buf[:limit], or -1. A negative limit searches all of buf.
func (f *Finder) Index(buf []byte, limit int) int {
	if limit < 0 || limit > len(buf) {
		limit = len(buf)
	}
	m := len(f.needle)
	for pos := 0; pos+m <= limit; {
		j := m - 1
		for j >= 0 && buf[pos+j] == f.needle[j] {
			j--
		}
		if j < 0 {
			return pos
		}
		pos += int(f.skip[buf[pos+m-1]])
	}
	return -1
}

// IndexReader searches r between global indices from and limit, pulling
// chunks as needed. It stops early at end of stream.
func (f *Finder) IndexReader(r *Reader, from, limit int64) (int64, bool) {
	m := int64(len(f.needle))
	for pos := from; pos+m <= limit; {
		last := pos + m - 1
		if !r.LoadIndex(last) {
			return -1, false
		}
		j := m - 1
		for j >= 0 && r.At(pos+j) == f.needle[j] {
			j--
		}
		if j < 0 {
			return pos, true
		}
		pos += int64(f.skip[r.At(last)])
	}
	return -1, false
}
