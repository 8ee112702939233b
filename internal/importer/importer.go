// Package importer drives an ftrace text capture through the parsing
// pipeline into a model.Fragment.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/buffer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/ftrace"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/pipeline"
)

// ErrNotFtrace is returned by ImportFile when the capture carries no ftrace
// signature.
var ErrNotFtrace = errors.New("not an ftrace text capture")

var signatures = []*buffer.Finder{
	buffer.MustFinder("# tracer: nop\n"),
	buffer.MustFinder("       trace-cmd"),
}

// Stats describes one import.
type Stats struct {
	ImportID     string             `json:"import_id"`
	Lines        int                `json:"lines"`
	Parsed       int                `json:"parsed"`
	Failed       int                `json:"failed"`
	Skipped      int                `json:"skipped"`
	Score        int64              `json:"score"`
	Aborted      bool               `json:"aborted"`
	Restarts     int                `json:"restarts"`
	EvictedBytes int64              `json:"evicted_bytes"`
	OpenSlices   int                `json:"open_slices"`
	Builder      model.BuilderStats `json:"builder"`
	Duration     time.Duration      `json:"duration_ns"`
}

// Importer converts ftrace text into model fragments. It holds no
// per-import state and may be shared.
type Importer struct {
	cfg Config
}

// New returns an Importer. Zero fields of cfg take their defaults except
// AbortScore, which is used as given: a zero threshold aborts on the first
// unparsable line. Start from DefaultConfig to get the usual -20.
func New(cfg Config) *Importer {
	return &Importer{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (im *Importer) Config() Config { return im.cfg }

// CanImport reports whether the first SniffBytes of the stream carry an
// ftrace signature. It pins the reader at its current start so a following
// Import sees every probed byte.
func (im *Importer) CanImport(r *buffer.Reader) bool {
	from := r.StartIndex()
	r.Retain(from)
	limit := from + int64(im.cfg.SniffBytes)
	for _, f := range signatures {
		if _, ok := f.IndexReader(r, from, limit); ok {
			return true
		}
	}
	return false
}

type lineResult struct {
	ev      ftrace.Event
	comment bool
}

func parseLine(s *ftrace.State, line buffer.Window) (lineResult, bool) {
	if ftrace.IsComment(line) {
		return lineResult{comment: true}, true
	}
	ev, ok := s.ParseEvent(line)
	return lineResult{ev: ev}, ok
}

// Import consumes r and returns the fragment built from it. Data-quality
// problems never produce an error: unparsable lines lower the score, and
// once it drops below AbortScore the rest of the input is skipped and the
// partial fragment is returned with Stats.Aborted set. An error is returned
// only when ctx is cancelled or the producer fails; the partial fragment is
// returned alongside it.
func (im *Importer) Import(ctx context.Context, r *buffer.Reader) (*model.Fragment, Stats, error) {
	begin := time.Now()
	stats := Stats{ImportID: uuid.NewString()}
	log := im.cfg.Logger.With("import_id", stats.ImportID)
	log.Info("import started")

	r.OnEvict(func(w buffer.StreamWindow) {
		stats.EvictedBytes += w.GlobalEnd - w.GlobalStart
	})

	b := model.NewBuilder(log)
	m := pipeline.Mapper[*ftrace.State, lineResult]{
		ChunkSize:  im.cfg.ChunkSize,
		Workers:    im.cfg.Workers,
		QueueDepth: im.cfg.QueueDepth,
		NewState:   im.cfg.Registry.NewState,
		Map:        parseLine,
	}

	lines := buffer.NewLineIterator(r).All()
	for res, ok := range m.Run(ctx, lines) {
		stats.Lines++
		switch {
		case !ok:
			stats.Failed++
			stats.Score--
		case res.comment:
			stats.Skipped++
		default:
			stats.Parsed++
			stats.Score++
			if res.ev.IsBufferRestart() {
				stats.Restarts++
			}
			b.Apply(res.ev)
		}
		if stats.Score < im.cfg.AbortScore {
			stats.Aborted = true
			im.cfg.Feedback.ReportImportWarning(fmt.Sprintf(
				"too many unparsable lines, aborting import after line %d (score %d)",
				stats.Lines, stats.Score))
			break
		}
	}

	f := b.Fragment()
	stats.Builder = b.Stats()
	stats.OpenSlices = f.OpenSlices()
	stats.Duration = time.Since(begin)

	var err error
	outcome := OutcomeOK
	switch {
	case ctx.Err() != nil && !stats.Aborted:
		err = ctx.Err()
		outcome = OutcomeCanceled
	case r.Err() != nil:
		err = fmt.Errorf("read trace: %w", r.Err())
		outcome = OutcomeError
	case stats.Aborted:
		outcome = OutcomeAborted
	case stats.OpenSlices > 0:
		im.cfg.Feedback.ReportImportWarning(fmt.Sprintf(
			"%d slices were still open at the end of the trace", stats.OpenSlices))
	}
	im.cfg.Metrics.record(stats, outcome, stats.Duration)

	log.Info("import finished",
		"outcome", outcome,
		"lines", stats.Lines,
		"parsed", stats.Parsed,
		"failed", stats.Failed,
		"score", stats.Score,
		"processes", len(f.Processes),
		"cpus", len(f.CPUs),
		"duration", stats.Duration)
	return f, stats, err
}

// CanImportFile reports whether the file at path carries an ftrace
// signature. Snappy-framed files are probed after decompression.
func (im *Importer) CanImportFile(path string) (bool, error) {
	p, err := buffer.Open(path, im.cfg.ReadChunk)
	if err != nil {
		return false, err
	}
	r := buffer.NewReader(p, im.cfg.Retention)
	defer r.Close()

	ok := im.CanImport(r)
	if r.Err() != nil {
		return false, fmt.Errorf("read trace: %w", r.Err())
	}
	return ok, nil
}

// ImportFile opens path, checks its signature and imports it.
func (im *Importer) ImportFile(ctx context.Context, path string) (*model.Fragment, Stats, error) {
	p, err := buffer.Open(path, im.cfg.ReadChunk)
	if err != nil {
		return nil, Stats{}, err
	}
	r := buffer.NewReader(p, im.cfg.Retention)
	defer r.Close()

	if !im.CanImport(r) {
		im.cfg.Metrics.rejected()
		if r.Err() != nil {
			return nil, Stats{}, fmt.Errorf("read trace: %w", r.Err())
		}
		return nil, Stats{}, fmt.Errorf("%s: %w", path, ErrNotFtrace)
	}
	return im.Import(ctx, r)
}
