package importer

import (
	"log/slog"
	"slices"
	"sync"
)

// Feedback receives soft-failure reports. The host decides whether a
// warning is fatal.
type Feedback interface {
	ReportImportWarning(msg string)
}

// FeedbackFunc adapts a function to Feedback.
type FeedbackFunc func(msg string)

func (f FeedbackFunc) ReportImportWarning(msg string) { f(msg) }

// LogFeedback logs warnings at warn level.
type LogFeedback struct {
	Logger *slog.Logger
}

func (f LogFeedback) ReportImportWarning(msg string) {
	f.Logger.Warn(msg)
}

// CollectFeedback keeps warnings in memory. The zero value is ready to use.
type CollectFeedback struct {
	mu       sync.Mutex
	warnings []string
}

func (f *CollectFeedback) ReportImportWarning(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, msg)
}

// Warnings returns a copy of the warnings reported so far.
func (f *CollectFeedback) Warnings() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.warnings)
}
