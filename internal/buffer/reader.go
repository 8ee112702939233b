package buffer

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"sort"
)

// DefaultRetention is the lookback, in bytes, a Reader keeps addressable
// behind the newest data it has pulled.
const DefaultRetention = 8 * 1024

// StreamWindow places a Window in the stream's global index space.
type StreamWindow struct {
	Window
	GlobalStart int64
	GlobalEnd   int64
}

// Contains reports whether global index i falls inside the window.
func (w StreamWindow) Contains(i int64) bool {
	return i >= w.GlobalStart && i < w.GlobalEnd
}

// Reader turns a Producer into a randomly addressable byte stream. It keeps
// a bounded list of recently pulled windows; indices inside that list, or
// beyond it but before EOF, are valid. Reader is not safe for concurrent use.
type Reader struct {
	src       Producer
	windows   []StreamWindow
	retention int64
	retainAt  int64
	eof       bool
	err       error
	onEvict   []func(StreamWindow)

	// last window hit by At, dropped on eviction.
	cursor int
}

// NewReader returns a Reader over src. retention <= 0 selects
// DefaultRetention.
func NewReader(src Producer, retention int) *Reader {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Reader{
		src:       src,
		retention: int64(retention),
		retainAt:  math.MaxInt64,
	}
}

// OnEvict registers fn to be called for every window the reader drops.
func (r *Reader) OnEvict(fn func(StreamWindow)) {
	r.onEvict = append(r.onEvict, fn)
}

// Retain forbids evicting any window that ends after global index i.
// Callers holding an index they will come back to pin it here.
func (r *Reader) Retain(i int64) {
	r.retainAt = i
}

// StartIndex is the global index of the oldest retained byte.
func (r *Reader) StartIndex() int64 {
	if len(r.windows) == 0 {
		return r.EndIndex()
	}
	return r.windows[0].GlobalStart
}

// EndIndex is one past the global index of the newest pulled byte.
func (r *Reader) EndIndex() int64 {
	if len(r.windows) == 0 {
		return 0
	}
	return r.windows[len(r.windows)-1].GlobalEnd
}

// EOF reports whether the producer is exhausted.
func (r *Reader) EOF() bool { return r.eof }

// Err returns the producer error that ended the stream, if it was not
// io.EOF.
func (r *Reader) Err() error { return r.err }

// Close closes the underlying producer.
func (r *Reader) Close() error { return r.src.Close() }

// LoadIndex pulls windows until i is covered or the producer is exhausted
// and reports whether i is now addressable.
func (r *Reader) LoadIndex(i int64) bool {
	for i >= r.EndIndex() {
		if !r.pull() {
			return false
		}
	}
	return i >= r.StartIndex()
}

// At returns the byte at global index i, pulling data as needed. Reading an
// index that was already evicted, or one past EOF, panics.
func (r *Reader) At(i int64) byte {
	if c := r.cursor; c < len(r.windows) && r.windows[c].Contains(i) {
		w := r.windows[c]
		return w.buf[w.start+int(i-w.GlobalStart)]
	}
	if i < r.StartIndex() {
		panic(fmt.Sprintf("buffer: index %d already evicted (retained from %d)", i, r.StartIndex()))
	}
	if !r.LoadIndex(i) {
		panic(fmt.Sprintf("buffer: index %d beyond end of stream %d", i, r.EndIndex()))
	}
	c := r.find(i)
	r.cursor = c
	w := r.windows[c]
	return w.buf[w.start+int(i-w.GlobalStart)]
}

// WindowFor returns the retained window containing i, loading it if needed.
func (r *Reader) WindowFor(i int64) (StreamWindow, bool) {
	if !r.LoadIndex(i) {
		return StreamWindow{}, false
	}
	return r.windows[r.find(i)], true
}

// Windows iterates over the stream's windows starting with the one that
// contains from. Retained windows are replayed before fresh ones are pulled.
func (r *Reader) Windows(from int64) iter.Seq[StreamWindow] {
	return func(yield func(StreamWindow) bool) {
		pos := from
		for {
			w, ok := r.WindowFor(pos)
			if !ok {
				return
			}
			if !yield(w) {
				return
			}
			pos = w.GlobalEnd
		}
	}
}

// Slice returns the bytes in [from, to). The result shares memory with the
// owning window when the range lies inside one window and is copied into a
// fresh buffer otherwise.
func (r *Reader) Slice(from, to int64) Window {
	if to <= from {
		return Window{}
	}
	if !r.LoadIndex(to - 1) {
		panic(fmt.Sprintf("buffer: slice [%d,%d) beyond end of stream", from, to))
	}
	if from < r.StartIndex() {
		panic(fmt.Sprintf("buffer: slice start %d already evicted", from))
	}
	first := r.find(from)
	w := r.windows[first]
	if to <= w.GlobalEnd {
		off := int(from - w.GlobalStart)
		return w.Slice(off, off+int(to-from))
	}
	out := make([]byte, 0, to-from)
	for c := first; c < len(r.windows) && r.windows[c].GlobalStart < to; c++ {
		w := r.windows[c]
		lo := int(max(from, w.GlobalStart) - w.GlobalStart)
		hi := int(min(to, w.GlobalEnd) - w.GlobalStart)
		out = append(out, w.Bytes()[lo:hi]...)
	}
	return NewWindow(out)
}

func (r *Reader) find(i int64) int {
	return sort.Search(len(r.windows), func(c int) bool {
		return r.windows[c].GlobalEnd > i
	})
}

func (r *Reader) pull() bool {
	if r.eof {
		return false
	}
	for {
		w, err := r.src.Next()
		if err != nil {
			r.eof = true
			if !errors.Is(err, io.EOF) {
				r.err = err
			}
			return false
		}
		if w.Len() == 0 {
			continue
		}
		end := r.EndIndex()
		r.windows = append(r.windows, StreamWindow{
			Window:      w,
			GlobalStart: end,
			GlobalEnd:   end + int64(w.Len()),
		})
		r.evict()
		return true
	}
}

func (r *Reader) evict() {
	for len(r.windows) >= 2 {
		oldest := r.windows[0]
		if r.EndIndex()-r.windows[1].GlobalStart < r.retention || oldest.GlobalEnd > r.retainAt {
			return
		}
		r.windows[0] = StreamWindow{}
		r.windows = r.windows[1:]
		r.cursor = 0
		for _, fn := range r.onEvict {
			fn(oldest)
		}
	}
}
