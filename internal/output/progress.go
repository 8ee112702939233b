// Package output handles fragment serialization and progress reporting.
package output

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Progress reports import status to stderr.
type Progress struct {
	w       io.Writer
	enabled bool
	verbose bool
	start   time.Time
}

// NewProgress creates a Progress reporter. Set enabled=false for --quiet mode.
func NewProgress(enabled bool) *Progress {
	return NewVerboseProgress(enabled, false)
}

// NewVerboseProgress creates a Progress reporter with debug logging enabled.
func NewVerboseProgress(enabled, verbose bool) *Progress {
	return &Progress{
		w:       os.Stderr,
		enabled: enabled || verbose, // verbose implies enabled
		verbose: verbose,
		start:   time.Now(),
	}
}

// SetOutput redirects progress lines to w.
func (p *Progress) SetOutput(w io.Writer) { p.w = w }

// Log prints a progress message to stderr if enabled.
func (p *Progress) Log(format string, args ...any) {
	if !p.enabled {
		return
	}
	p.print("", format, args...)
}

// Debug prints a debug message to stderr if verbose is enabled.
func (p *Progress) Debug(format string, args ...any) {
	if !p.verbose {
		return
	}
	p.print("DEBUG: ", format, args...)
}

// ReportImportWarning prints import warnings. Warnings are shown even in
// quiet mode.
func (p *Progress) ReportImportWarning(msg string) {
	p.print("WARNING: ", "%s", msg)
}

func (p *Progress) print(prefix, format string, args ...any) {
	elapsed := time.Since(p.start).Round(time.Millisecond)
	fmt.Fprintf(p.w, "[%s] %s%s\n", elapsed, prefix, fmt.Sprintf(format, args...))
}
