package buffer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

// DefaultChunkSize is the number of bytes a producer hands out per window.
const DefaultChunkSize = 4096

// Producer is a pull-based source of byte windows. Next returns io.EOF once
// the stream is exhausted; any other error also ends the stream.
type Producer interface {
	Next() (Window, error)
	Close() error
}

// BytesProducer splits an in-memory buffer into fixed-size windows without
// copying.
type BytesProducer struct {
	data      []byte
	off       int
	chunkSize int
}

// NewBytesProducer returns a producer over data.
func NewBytesProducer(data []byte, chunkSize int) *BytesProducer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &BytesProducer{data: data, chunkSize: chunkSize}
}

func (p *BytesProducer) Next() (Window, error) {
	if p.off >= len(p.data) {
		return Window{}, io.EOF
	}
	end := min(p.off+p.chunkSize, len(p.data))
	w := Window{buf: p.data, start: p.off, end: end}
	p.off = end
	return w, nil
}

func (p *BytesProducer) Close() error { return nil }

// ReaderProducer pulls chunks from an io.Reader. Each chunk is read into a
// fresh buffer, so windows handed out stay valid after the reader drops them.
type ReaderProducer struct {
	r         io.Reader
	closer    io.Closer
	chunkSize int
	err       error
}

// NewReaderProducer wraps r. If r implements io.Closer, Close closes it.
func NewReaderProducer(r io.Reader, chunkSize int) *ReaderProducer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	p := &ReaderProducer{r: r, chunkSize: chunkSize}
	if c, ok := r.(io.Closer); ok {
		p.closer = c
	}
	return p
}

func (p *ReaderProducer) Next() (Window, error) {
	if p.err != nil {
		return Window{}, p.err
	}
	buf := make([]byte, p.chunkSize)
	n, err := io.ReadFull(p.r, buf)
	switch err {
	case nil:
	case io.ErrUnexpectedEOF:
		// Short final chunk; the next call reports EOF.
		p.err = io.EOF
	case io.EOF:
		p.err = io.EOF
		return Window{}, io.EOF
	default:
		p.err = fmt.Errorf("read chunk: %w", err)
		return Window{}, p.err
	}
	return NewWindow(buf[:n]), nil
}

func (p *ReaderProducer) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// NewSnappyProducer returns a producer over a snappy-framed stream.
func NewSnappyProducer(r io.Reader, chunkSize int) *ReaderProducer {
	p := NewReaderProducer(snappy.NewReader(r), chunkSize)
	if c, ok := r.(io.Closer); ok {
		p.closer = c
	}
	return p
}

// Open opens a capture file. Files ending in .sz or .snappy are decoded as
// snappy-framed streams; anything else is read as plain text.
func Open(path string, chunkSize int) (Producer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sz", ".snappy":
		return NewSnappyProducer(f, chunkSize), nil
	default:
		return NewReaderProducer(f, chunkSize), nil
	}
}
