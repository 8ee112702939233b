package diff

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/importer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/output"
)

func document(source string, failed int, s model.Summary) *output.Document {
	return &output.Document{
		Tool:    "ftimport",
		Source:  source,
		Stats:   importer.Stats{ImportID: source + "-id", Failed: failed},
		Summary: &s,
	}
}

func findChange(d *DiffReport, category, metric string) (MetricChange, bool) {
	for _, c := range d.Changes {
		if c.Category == category && c.Metric == metric {
			return c, true
		}
	}
	return MetricChange{}, false
}

func TestCompareDocuments(t *testing.T) {
	baseline := document("before.trace", 0, model.Summary{
		MaxDepth:       3,
		CPUUtilization: []model.CPUUtilization{{CPU: 0, Utilization: 40}, {CPU: 1, Utilization: 50}},
		TopThreads:     []model.ThreadTime{{TID: 10, Comm: "RenderThread", Running: 0.2}},
		TopSlices: []model.SliceStat{
			{Name: "doFrame", Count: 10, Total: 0.1, Max: 0.016},
			{Name: "inflate", Count: 1, Total: 0.05, Max: 0.05},
		},
	})
	current := document("after.trace", 4, model.Summary{
		MaxDepth:       3,
		CPUUtilization: []model.CPUUtilization{{CPU: 0, Utilization: 90}, {CPU: 1, Utilization: 50}},
		TopThreads: []model.ThreadTime{
			{TID: 20, Comm: "RenderThread", Running: 0.1},
			{TID: 21, Comm: "RenderThread", Running: 0.05},
		},
		TopSlices: []model.SliceStat{
			{Name: "doFrame", Count: 10, Total: 0.2, Max: 0.032},
			{Name: "measure", Count: 3, Total: 0.01, Max: 0.004},
		},
	})

	diff := Compare(baseline, current)

	if diff.Baseline != "before.trace (before.trace-id)" {
		t.Errorf("baseline label = %q", diff.Baseline)
	}

	tests := []struct {
		category, metric string
		direction        string
		significance     string
	}{
		{"cpu0", "utilization_pct", Regression, "high"},
		{"slice", "doFrame_avg", Regression, "high"},
		{"slice", "doFrame_max", Regression, "high"},
		{"thread", "RenderThread_running", Improvement, "medium"},
		{"import", "failed_lines", Regression, "high"},
	}
	for _, tt := range tests {
		c, ok := findChange(diff, tt.category, tt.metric)
		if !ok {
			t.Errorf("missing change %s/%s", tt.category, tt.metric)
			continue
		}
		if c.Direction != tt.direction || c.Significance != tt.significance {
			t.Errorf("%s/%s = %s/%s, want %s/%s", tt.category, tt.metric,
				c.Direction, c.Significance, tt.direction, tt.significance)
		}
	}

	// Unchanged metrics are skipped.
	if _, ok := findChange(diff, "cpu1", "utilization_pct"); ok {
		t.Error("cpu1 utilization did not change but was reported")
	}
	if _, ok := findChange(diff, "trace", "max_depth"); ok {
		t.Error("max depth did not change but was reported")
	}

	if len(diff.NewSlices) != 1 || diff.NewSlices[0] != "measure" {
		t.Errorf("new slices = %v", diff.NewSlices)
	}
	if len(diff.GoneSlices) != 1 || diff.GoneSlices[0] != "inflate" {
		t.Errorf("gone slices = %v", diff.GoneSlices)
	}
	if diff.Regressions != 4 || diff.Improvements != 1 {
		t.Errorf("regressions/improvements = %d/%d, want 4/1", diff.Regressions, diff.Improvements)
	}

	for i := 1; i < len(diff.Changes); i++ {
		a, b := diff.Changes[i-1], diff.Changes[i]
		if a.Category > b.Category || (a.Category == b.Category && a.Metric > b.Metric) {
			t.Errorf("changes not sorted: %s/%s before %s/%s", a.Category, a.Metric, b.Category, b.Metric)
		}
	}
}

func TestCompareIdentical(t *testing.T) {
	s := model.Summary{
		CPUUtilization: []model.CPUUtilization{{CPU: 0, Utilization: 40}},
		TopSlices:      []model.SliceStat{{Name: "doFrame", Count: 1, Total: 0.01, Max: 0.01}},
	}
	diff := Compare(document("a", 0, s), document("b", 0, s))
	if len(diff.Changes) != 0 || diff.Regressions != 0 || diff.Improvements != 0 {
		t.Errorf("identical documents produced changes: %+v", diff.Changes)
	}
}

func TestFormatDiff(t *testing.T) {
	d := &DiffReport{
		Baseline:     "a",
		Current:      "b",
		Regressions:  1,
		Improvements: 1,
		NewSlices:    []string{"measure"},
		Changes: []MetricChange{
			{Category: "cpu0", Metric: "utilization_pct", OldValue: 40, NewValue: 90, DeltaPct: 125, Direction: Regression, Significance: "high"},
			{Category: "thread", Metric: "x_running", OldValue: 2, NewValue: 1, DeltaPct: -50, Direction: Improvement, Significance: "high"},
			{Category: "trace", Metric: "open_slices", OldValue: 1, NewValue: 1.02, DeltaPct: 2, Direction: Unchanged, Significance: "low"},
		},
	}
	out := FormatDiff(d)
	for _, want := range []string{
		"Regressions: 1, Improvements: 1",
		"[HIGH] cpu0/utilization_pct: 40 → 90 (+125.0%)",
		"[HIGH] thread/x_running: 2 → 1 (-50.0%)",
		"New slices: measure",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "open_slices") {
		t.Errorf("unchanged metric printed:\n%s", out)
	}
}

func TestLoadDocument(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	doc := document("x.trace", 0, model.Summary{Slices: 3})
	doc.Fragment = &model.Fragment{}
	if err := output.WriteJSON(doc, good); err != nil {
		t.Fatal(err)
	}
	got, err := LoadDocument(good)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary.Slices != 3 || got.Source != "x.trace" {
		t.Errorf("loaded %+v", got)
	}

	noSummary := filepath.Join(dir, "nosummary.json")
	if err := os.WriteFile(noSummary, []byte(`{"tool":"ftimport"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDocument(noSummary); err == nil || !strings.Contains(err.Error(), "no summary") {
		t.Errorf("err = %v, want missing summary", err)
	}

	if _, err := LoadDocument(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file loaded")
	}
}
