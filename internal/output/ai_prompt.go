package output

import (
	"fmt"
	"strings"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/importer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
)

// AnalysisPrompt builds the instructions an MCP client hands to its model
// together with an import summary.
func AnalysisPrompt(s model.Summary, stats importer.Stats) string {
	var sb strings.Builder
	sb.WriteString("You are a Linux and Android performance expert. ")
	sb.WriteString("Analyze the following ftrace import summary and provide:\n")
	sb.WriteString("1. Where the time goes: busiest CPUs, threads and slices\n")
	sb.WriteString("2. Likely causes of jank or latency visible in the slice names\n")
	sb.WriteString("3. What to trace next to confirm the hypothesis\n\n")

	fmt.Fprintf(&sb, "Trace span: %s, %d processes, %d threads, %d CPUs\n",
		seconds(s.Duration), s.Processes, s.Threads, s.CPUs)

	if stats.Aborted || stats.Failed > 0 {
		fmt.Fprintf(&sb, "\nIMPORT QUALITY: %d of %d lines failed to parse", stats.Failed, stats.Lines)
		if stats.Aborted {
			sb.WriteString("; the import was aborted and the model is partial")
		}
		sb.WriteString(".\n")
	}
	if stats.Restarts > 0 {
		fmt.Fprintf(&sb, "The CPU buffer restarted %d times; only data after the last restart is present.\n", stats.Restarts)
	}
	if s.OpenSlices > 0 {
		fmt.Fprintf(&sb, "%d slices never ended; they may have been cut off by the end of the capture.\n", s.OpenSlices)
	}

	if len(s.CPUUtilization) > 0 {
		sb.WriteString("\nCPU utilization:\n")
		for _, c := range s.CPUUtilization {
			fmt.Fprintf(&sb, "  cpu%d: %.1f%%\n", c.CPU, c.Utilization)
		}
	}
	if len(s.TopThreads) > 0 {
		sb.WriteString("\nTop threads by running time:\n")
		for _, t := range s.TopThreads {
			fmt.Fprintf(&sb, "  %s [%d]: %s\n", t.Comm, t.TID, seconds(t.Running))
		}
	}
	if len(s.TopSlices) > 0 {
		sb.WriteString("\nTop slices by total time:\n")
		for _, sl := range s.TopSlices {
			fmt.Fprintf(&sb, "  %s: %d calls, total %s, max %s\n", sl.Name, sl.Count, seconds(sl.Total), seconds(sl.Max))
		}
	}

	sb.WriteString("\nBe specific and cite the slice or thread names above.\n")
	return sb.String()
}
