// Package config loads the optional YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/importer"
)

// File is the on-disk configuration. Fields absent from the file keep
// their defaults.
type File struct {
	Importer importer.Config `yaml:"importer"`
	Log      Log             `yaml:"log"`
	Output   Output          `yaml:"output"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Output struct {
	// Top bounds the top-thread and top-slice lists of the summary.
	Top int `yaml:"top"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Importer: importer.DefaultConfig(),
		Log:      Log{Level: "warn", Format: "json"},
		Output:   Output{Top: 10},
	}
}

// Load reads path over Default. An empty path returns Default.
func Load(path string) (File, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(bytes.NewReader(data), &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays the YAML document in r onto cfg. Unknown keys are
// rejected.
func Decode(r io.Reader, cfg *File) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return cfg.Validate()
}

// Validate rejects values the importer cannot run with.
func (f File) Validate() error {
	c := f.Importer
	switch {
	case c.ChunkSize < 0:
		return fmt.Errorf("importer.chunk_size must not be negative, got %d", c.ChunkSize)
	case c.Workers < 0:
		return fmt.Errorf("importer.workers must not be negative, got %d", c.Workers)
	case c.Retention < 0:
		return fmt.Errorf("importer.retention must not be negative, got %d", c.Retention)
	case c.AbortScore > 0:
		return fmt.Errorf("importer.abort_score must be zero or negative, got %d", c.AbortScore)
	}
	return nil
}
