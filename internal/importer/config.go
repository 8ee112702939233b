package importer

import (
	"log/slog"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/buffer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/ftrace"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/pipeline"
)

// Config is passed to New.
type Config struct {
	// ChunkSize is the number of lines parsed per unit of work (default 50).
	ChunkSize int `yaml:"chunk_size"`

	// Workers is the parser pool size (default min(10, GOMAXPROCS)).
	Workers int `yaml:"workers"`

	// QueueDepth bounds the parsed chunks waiting for the builder
	// (default 2*Workers).
	QueueDepth int `yaml:"queue_depth"`

	// ReadChunk is the number of bytes pulled from a file per window.
	ReadChunk int `yaml:"read_chunk"`

	// Retention is the lookback in bytes the stream reader keeps.
	Retention int `yaml:"retention"`

	// SniffBytes bounds the prefix CanImport searches for a signature.
	SniffBytes int `yaml:"sniff_bytes"`

	// AbortScore stops the import once the plausibility score drops below
	// it. Every parsed line adds one and every unparsable line subtracts one.
	AbortScore int64 `yaml:"abort_score"`

	// Registry decodes event details. Nil selects ftrace.DefaultRegistry.
	Registry *ftrace.Registry `yaml:"-"`

	// Logger receives structured logs. Nil discards.
	Logger *slog.Logger `yaml:"-"`

	// Feedback receives import warnings. Nil logs them through Logger.
	Feedback Feedback `yaml:"-"`

	// Metrics records import counters. May be nil.
	Metrics *Metrics `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	workers := pipeline.DefaultWorkers()
	return Config{
		ChunkSize:  pipeline.DefaultChunkSize,
		Workers:    workers,
		QueueDepth: 2 * workers,
		ReadChunk:  buffer.DefaultChunkSize,
		Retention:  buffer.DefaultRetention,
		SniffBytes: 1000,
		AbortScore: -20,
	}
}

// withDefaults fills zero fields from DefaultConfig. AbortScore is taken as
// given; zero is a legitimate threshold.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 2 * c.Workers
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = d.ReadChunk
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.SniffBytes <= 0 {
		c.SniffBytes = d.SniffBytes
	}
	if c.Registry == nil {
		c.Registry = ftrace.DefaultRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Feedback == nil {
		c.Feedback = LogFeedback{Logger: c.Logger}
	}
	return c
}
