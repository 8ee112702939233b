package buffer

import "iter"

// LineIterator yields the lines of a Reader's stream in order. Line
// terminators ("\n" or "\r\n") are stripped and empty lines are skipped.
// A line that lies inside one window shares that window's memory; a line
// spanning several windows is copied.
//
// The iterator is single pass. Reprocessing a stream needs a new Reader.
type LineIterator struct {
	r    *Reader
	pos  int64
	done bool
}

// NewLineIterator returns an iterator starting at the reader's oldest
// retained byte.
func NewLineIterator(r *Reader) *LineIterator {
	return &LineIterator{r: r, pos: r.StartIndex()}
}

// Next returns the next non-empty line.
func (it *LineIterator) Next() (Window, bool) {
	for !it.done {
		line, ok := it.scan()
		if ok && line.Len() > 0 {
			return line, true
		}
	}
	return Window{}, false
}

// All adapts the iterator to a range-over-func sequence.
func (it *LineIterator) All() iter.Seq[Window] {
	return func(yield func(Window) bool) {
		for {
			line, ok := it.Next()
			if !ok || !yield(line) {
				return
			}
		}
	}
}

// scan reads one raw line starting at it.pos. It may return an empty line.
func (it *LineIterator) scan() (Window, bool) {
	start := it.pos
	it.r.Retain(start)
	i := start
	for {
		w, ok := it.r.WindowFor(i)
		if !ok {
			it.done = true
			it.pos = i
			if i == start {
				return Window{}, false
			}
			return it.line(start, i), true
		}
		off := int(i - w.GlobalStart)
		n := w.Slice(off, w.Len()).IndexByte('\n')
		if n < 0 {
			i = w.GlobalEnd
			continue
		}
		nl := i + int64(n)
		it.pos = nl + 1
		return it.line(start, nl), true
	}
}

func (it *LineIterator) line(start, end int64) Window {
	if end > start && it.r.At(end-1) == '\r' {
		end--
	}
	return it.r.Slice(start, end)
}
