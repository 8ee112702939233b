// Package diff compares two import documents and highlights regressions
// and improvements.
package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/output"
)

const (
	Regression  = "regression"
	Improvement = "improvement"
	Unchanged   = "unchanged"
)

// DiffReport contains the comparison between two documents.
type DiffReport struct {
	Baseline     string         `json:"baseline"`
	Current      string         `json:"current"`
	Changes      []MetricChange `json:"changes"`
	Regressions  int            `json:"regressions"`
	Improvements int            `json:"improvements"`
	NewSlices    []string       `json:"new_slices,omitempty"`
	GoneSlices   []string       `json:"gone_slices,omitempty"`
}

// MetricChange represents a single metric difference between documents.
type MetricChange struct {
	Category     string  `json:"category"`
	Metric       string  `json:"metric"`
	OldValue     float64 `json:"old_value"`
	NewValue     float64 `json:"new_value"`
	Delta        float64 `json:"delta"`
	DeltaPct     float64 `json:"delta_pct"`
	Direction    string  `json:"direction"`
	Significance string  `json:"significance"` // "high", "medium", "low"
}

// LoadDocument reads an import document written by the import command.
// The document must carry a summary.
func LoadDocument(path string) (*output.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc output.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Summary == nil {
		return nil, fmt.Errorf("%s: document has no summary", path)
	}
	return &doc, nil
}

// Compare computes differences between two documents.
func Compare(baseline, current *output.Document) *DiffReport {
	diff := &DiffReport{
		Baseline: label(baseline),
		Current:  label(current),
	}
	old, cur := baseline.Summary, current.Summary

	addChange(diff, "import", "failed_lines", float64(baseline.Stats.Failed), float64(current.Stats.Failed), true)
	addChange(diff, "trace", "open_slices", float64(old.OpenSlices), float64(cur.OpenSlices), true)
	addChange(diff, "trace", "max_depth", float64(old.MaxDepth), float64(cur.MaxDepth), true)

	oldCPUs := make(map[int32]float64)
	for _, c := range old.CPUUtilization {
		oldCPUs[c.CPU] = c.Utilization
	}
	for _, c := range cur.CPUUtilization {
		if u, ok := oldCPUs[c.CPU]; ok {
			addChange(diff, "cpu"+strconv.Itoa(int(c.CPU)), "utilization_pct", u, c.Utilization, true)
		}
	}

	oldRunning := runningByComm(old)
	for comm, running := range runningByComm(cur) {
		if r, ok := oldRunning[comm]; ok {
			addChange(diff, "thread", comm+"_running", r, running, true)
		}
	}

	oldSlices := make(map[string]model.SliceStat)
	for _, s := range old.TopSlices {
		oldSlices[s.Name] = s
	}
	for _, s := range cur.TopSlices {
		o, ok := oldSlices[s.Name]
		if !ok {
			diff.NewSlices = append(diff.NewSlices, s.Name)
			continue
		}
		delete(oldSlices, s.Name)
		addChange(diff, "slice", s.Name+"_avg", o.Total/float64(max(1, o.Count)), s.Total/float64(max(1, s.Count)), true)
		addChange(diff, "slice", s.Name+"_max", o.Max, s.Max, true)
	}
	for name := range oldSlices {
		diff.GoneSlices = append(diff.GoneSlices, name)
	}
	slices.Sort(diff.NewSlices)
	slices.Sort(diff.GoneSlices)

	// Map iteration above is unordered.
	slices.SortStableFunc(diff.Changes, func(a, b MetricChange) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Metric, b.Metric)
	})

	for _, c := range diff.Changes {
		switch c.Direction {
		case Regression:
			diff.Regressions++
		case Improvement:
			diff.Improvements++
		}
	}

	return diff
}

func label(doc *output.Document) string {
	if doc.Stats.ImportID == "" {
		return doc.Source
	}
	return fmt.Sprintf("%s (%s)", doc.Source, doc.Stats.ImportID)
}

func runningByComm(s *model.Summary) map[string]float64 {
	m := make(map[string]float64)
	for _, t := range s.TopThreads {
		m[t.Comm] += t.Running
	}
	return m
}

func addChange(diff *DiffReport, category, metric string, oldVal, newVal float64, higherIsWorse bool) {
	delta := newVal - oldVal
	deltaPct := 0.0
	if oldVal != 0 {
		deltaPct = (delta / math.Abs(oldVal)) * 100
	} else if delta != 0 {
		deltaPct = math.Copysign(100, delta)
	}

	// Skip negligible changes
	if math.Abs(deltaPct) < 1.0 && math.Abs(delta) < 1e-4 {
		return
	}

	direction := Unchanged
	if higherIsWorse {
		if deltaPct > 5 {
			direction = Regression
		} else if deltaPct < -5 {
			direction = Improvement
		}
	} else {
		if deltaPct < -5 {
			direction = Regression
		} else if deltaPct > 5 {
			direction = Improvement
		}
	}

	significance := "low"
	absPct := math.Abs(deltaPct)
	if absPct >= 50 {
		significance = "high"
	} else if absPct >= 20 {
		significance = "medium"
	}

	diff.Changes = append(diff.Changes, MetricChange{
		Category:     category,
		Metric:       metric,
		OldValue:     oldVal,
		NewValue:     newVal,
		Delta:        delta,
		DeltaPct:     deltaPct,
		Direction:    direction,
		Significance: significance,
	})
}

// FormatDiff returns a human-readable diff summary.
func FormatDiff(d *DiffReport) string {
	var sb strings.Builder

	sb.WriteString("=== Capture Diff ===\n")
	sb.WriteString(fmt.Sprintf("Baseline: %s\n", d.Baseline))
	sb.WriteString(fmt.Sprintf("Current:  %s\n\n", d.Current))
	sb.WriteString(fmt.Sprintf("Regressions: %d, Improvements: %d\n\n", d.Regressions, d.Improvements))

	// Show regressions first
	writeChanges(&sb, "⚠ Regressions:", d, Regression)
	writeChanges(&sb, "✓ Improvements:", d, Improvement)

	if len(d.NewSlices) > 0 {
		sb.WriteString(fmt.Sprintf("New slices: %s\n", strings.Join(d.NewSlices, ", ")))
	}
	if len(d.GoneSlices) > 0 {
		sb.WriteString(fmt.Sprintf("Gone slices: %s\n", strings.Join(d.GoneSlices, ", ")))
	}

	return sb.String()
}

func writeChanges(sb *strings.Builder, title string, d *DiffReport, direction string) {
	n := d.Regressions
	if direction == Improvement {
		n = d.Improvements
	}
	if n == 0 {
		return
	}
	sb.WriteString(title + "\n")
	for _, c := range d.Changes {
		if c.Direction == direction {
			sb.WriteString(fmt.Sprintf("  [%s] %s/%s: %.4g → %.4g (%+.1f%%)\n",
				strings.ToUpper(c.Significance), c.Category, c.Metric,
				c.OldValue, c.NewValue, c.DeltaPct))
		}
	}
	sb.WriteString("\n")
}
