package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/importer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
)

// SchemaVersion is bumped whenever Document changes incompatibly.
const SchemaVersion = "1.0.0"

// Document is the JSON output of one import.
type Document struct {
	Tool          string          `json:"tool"`
	Version       string          `json:"version"`
	SchemaVersion string          `json:"schema_version"`
	Source        string          `json:"source"`
	Stats         importer.Stats  `json:"stats"`
	Warnings      []string        `json:"warnings,omitempty"`
	Summary       *model.Summary  `json:"summary,omitempty"`
	Fragment      *model.Fragment `json:"fragment,omitempty"`

	AnalysisPrompt string `json:"analysis_prompt,omitempty"`
}

// WriteJSON serializes the document as indented JSON.
// If path is "-" or empty, writes to stdout.
func WriteJSON(doc *Document, path string) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return EncodeJSON(w, doc)
}

// EncodeJSON writes v to w as indented JSON.
func EncodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
