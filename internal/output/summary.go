package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/importer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
)

// WriteSummary prints a human-readable digest of an import.
func WriteSummary(w io.Writer, s model.Summary, stats importer.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Import\t%s\n", stats.ImportID)
	fmt.Fprintf(tw, "Lines\t%s (%s parsed, %s failed, %s comments)\n",
		humanize.Comma(int64(stats.Lines)), humanize.Comma(int64(stats.Parsed)),
		humanize.Comma(int64(stats.Failed)), humanize.Comma(int64(stats.Skipped)))
	if stats.Aborted {
		fmt.Fprintf(tw, "Status\taborted at score %d\n", stats.Score)
	}
	if stats.Restarts > 0 {
		fmt.Fprintf(tw, "Buffer restarts\t%d\n", stats.Restarts)
	}
	fmt.Fprintf(tw, "Evicted\t%s\n", humanize.IBytes(uint64(max(0, stats.EvictedBytes))))
	fmt.Fprintf(tw, "Trace span\t%s\n", seconds(s.Duration))
	fmt.Fprintf(tw, "Processes\t%s (%s threads)\n", humanize.Comma(int64(s.Processes)), humanize.Comma(int64(s.Threads)))
	fmt.Fprintf(tw, "CPUs\t%d\n", s.CPUs)
	fmt.Fprintf(tw, "Slices\t%s (%d open, max depth %d)\n", humanize.Comma(int64(s.Slices)), s.OpenSlices, s.MaxDepth)
	fmt.Fprintf(tw, "Async slices\t%s (%d open)\n", humanize.Comma(int64(s.AsyncSlices)), s.OpenAsyncSlices)
	fmt.Fprintf(tw, "Counters\t%d (%s samples)\n", s.Counters, humanize.Comma(int64(s.CounterSamples)))

	if len(s.CPUUtilization) > 0 {
		fmt.Fprintln(tw, "\nCPU\tBusy\tUtilization")
		for _, c := range s.CPUUtilization {
			fmt.Fprintf(tw, "%d\t%s\t%.1f%%\n", c.CPU, seconds(c.Busy), c.Utilization)
		}
	}
	if len(s.TopThreads) > 0 {
		fmt.Fprintln(tw, "\nThread\tComm\tRunning")
		for _, t := range s.TopThreads {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", t.TID, t.Comm, seconds(t.Running))
		}
	}
	if len(s.TopSlices) > 0 {
		fmt.Fprintln(tw, "\nSlice\tCount\tTotal\tMax")
		for _, sl := range s.TopSlices {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", sl.Name, humanize.Comma(int64(sl.Count)), seconds(sl.Total), seconds(sl.Max))
		}
	}
	return tw.Flush()
}

func seconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(time.Microsecond).String()
}
