// Package pipeline runs a per-line function over a line sequence on a
// bounded worker pool while delivering results in input order.
package pipeline

import (
	"context"
	"iter"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/buffer"
)

const (
	// DefaultChunkSize is the number of lines handed to a worker at once.
	DefaultChunkSize = 50
	// MaxWorkers caps the default pool size.
	MaxWorkers = 10
)

// DefaultWorkers returns min(MaxWorkers, GOMAXPROCS).
func DefaultWorkers() int {
	return min(MaxWorkers, runtime.GOMAXPROCS(0))
}

// Mapper maps lines to values of type T. Each worker owns one state of
// type S, created with NewState, and passes it to every Map call it makes;
// states are never shared between goroutines.
type Mapper[S, T any] struct {
	// ChunkSize is the number of lines per unit of work.
	ChunkSize int
	// Workers is the number of worker goroutines.
	Workers int
	// QueueDepth bounds the number of chunks in flight. The coordinator
	// blocks when it is reached.
	QueueDepth int

	NewState func() S
	Map      func(state S, line buffer.Window) (T, bool)
}

type result[T any] struct {
	v  T
	ok bool
}

type chunk[T any] struct {
	lines   []buffer.Window
	results []result[T]
	done    chan struct{}
}

func (m *Mapper[S, T]) config() (chunkSize, workers, depth int) {
	chunkSize, workers, depth = m.ChunkSize, m.Workers, m.QueueDepth
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	if depth <= 0 {
		depth = 2 * workers
	}
	return chunkSize, workers, depth
}

// Run maps lines and yields (value, ok) pairs in input order; ok is false
// for lines Map rejected. The lines sequence is consumed on a single
// coordinator goroutine. Stopping the range loop early, or cancelling ctx,
// stops the coordinator; every goroutine has exited by the time the
// sequence returns.
func (m *Mapper[S, T]) Run(ctx context.Context, lines iter.Seq[buffer.Window]) iter.Seq2[T, bool] {
	return func(yield func(T, bool) bool) {
		chunkSize, workers, depth := m.config()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		ordered := make(chan *chunk[T], depth)
		work := make(chan *chunk[T])

		g.Go(func() error {
			defer close(ordered)
			defer close(work)

			submit := func(c *chunk[T]) bool {
				select {
				case ordered <- c:
				case <-gctx.Done():
					return false
				}
				select {
				case work <- c:
					return true
				case <-gctx.Done():
					return false
				}
			}

			cur := &chunk[T]{lines: make([]buffer.Window, 0, chunkSize), done: make(chan struct{})}
			for line := range lines {
				if gctx.Err() != nil {
					return nil
				}
				cur.lines = append(cur.lines, line)
				if len(cur.lines) < chunkSize {
					continue
				}
				if !submit(cur) {
					return nil
				}
				cur = &chunk[T]{lines: make([]buffer.Window, 0, chunkSize), done: make(chan struct{})}
			}
			if len(cur.lines) > 0 {
				submit(cur)
			}
			return nil
		})

		for range workers {
			g.Go(func() error {
				state := m.NewState()
				for c := range work {
					c.results = make([]result[T], len(c.lines))
					for i, line := range c.lines {
						v, ok := m.Map(state, line)
						c.results[i] = result[T]{v: v, ok: ok}
					}
					c.lines = nil
					close(c.done)
				}
				return nil
			})
		}

		defer g.Wait()
		defer cancel()

		for c := range ordered {
			select {
			case <-c.done:
			case <-gctx.Done():
				return
			}
			for _, r := range c.results {
				if !yield(r.v, r.ok) {
					return
				}
			}
		}
	}
}
