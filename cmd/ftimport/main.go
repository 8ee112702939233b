// ftimport converts ftrace text captures into a process, thread and slice
// model.
//
// It reads the text output of trace-cmd report or /sys/kernel/tracing/trace,
// optionally snappy-compressed, and produces structured JSON suited to
// timeline viewers and AI-driven analysis.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/config"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/diff"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/importer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/logging"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/output"
)

var (
	version = "0.1.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ftimport",
		Short: "Import ftrace text captures",
		Long: `ftimport: single Go binary for turning ftrace text into a trace model.

Reads trace-cmd report output or the kernel's tracing/trace file and
rebuilds processes, threads, nested slices, counters, async slices and
per-CPU scheduling from it. Unknown events are tolerated; captures that
are mostly noise are abandoned early.`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newImportCmd(), newSniffCmd(), newDiffCmd(), newMCPCmd())
	return rootCmd
}

// importOptions holds the import command's flags.
type importOptions struct {
	configPath string
	output     string
	workers    int
	chunkSize  int
	abortScore int64
	top        int
	fragment   bool
	summary    bool
	aiPrompt   bool
	folded     string
	svg        string
	strict     bool
	quiet      bool
	verbose    bool
	logLevel   string
	logFormat  string
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	importCmd := &cobra.Command{
		Use:   "import <trace>",
		Short: "Import a capture and write the model as JSON",
		Long:  "Parse an ftrace text capture and write stats, a summary and optionally the full model as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			return runImport(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, opts, args[0])
		},
	}

	addImportFlags(importCmd.Flags(), &opts)

	return importCmd
}

// addImportFlags binds the import command's flags to opts.
func addImportFlags(f *pflag.FlagSet, opts *importOptions) {
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	f.StringVarP(&opts.output, "output", "o", "-", "Output file path (- for stdout)")
	f.IntVar(&opts.workers, "workers", 0, "Parser goroutines (default: number of CPUs)")
	f.IntVar(&opts.chunkSize, "chunk-size", 0, "Lines per parse batch")
	f.Int64Var(&opts.abortScore, "abort-score", 0, "Give up when the line score drops below this")
	f.IntVar(&opts.top, "top", 0, "Length of the top thread and top slice lists")
	f.BoolVar(&opts.fragment, "fragment", false, "Include the full model in the output")
	f.BoolVar(&opts.summary, "summary", false, "Print a human-readable summary to stderr")
	f.BoolVar(&opts.aiPrompt, "ai-prompt", false, "Include AI analysis prompt in output")
	f.StringVar(&opts.folded, "folded", "", "Write slice stacks in folded format to this file")
	f.StringVar(&opts.svg, "svg", "", "Write a flame graph of slice stacks to this SVG file")
	f.BoolVar(&opts.strict, "strict", false, "Exit non-zero when the import reported warnings")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "", "Log format: json or text")
}

func newSniffCmd() *cobra.Command {
	var configPath string

	sniffCmd := &cobra.Command{
		Use:   "sniff <file>...",
		Short: "Report which files look like ftrace captures",
		Long:  "Probe the head of each file for an ftrace signature. Exits non-zero if any file is not importable.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runSniff(cmd.OutOrStdout(), importer.New(cfg.Importer), args)
		},
	}
	sniffCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	return sniffCmd
}

func newDiffCmd() *cobra.Command {
	var diffOutput string

	diffCmd := &cobra.Command{
		Use:   "diff <baseline.json> <current.json>",
		Short: "Compare two import documents",
		Long:  "Produce a diff showing slice duration, CPU utilization and thread running-time changes between two captures.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.OutOrStdout(), args[0], args[1], diffOutput)
		},
	}
	diffCmd.Flags().StringVarP(&diffOutput, "output", "o", "-", "Output diff file path (- for a human-readable diff on stdout)")

	return diffCmd
}

// loadConfig reads the configuration file and applies the flags the user
// set explicitly on top of it.
func loadConfig(flags *pflag.FlagSet, opts importOptions) (config.File, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if flags.Changed("workers") {
		cfg.Importer.Workers = opts.workers
	}
	if flags.Changed("chunk-size") {
		cfg.Importer.ChunkSize = opts.chunkSize
	}
	if flags.Changed("abort-score") {
		cfg.Importer.AbortScore = opts.abortScore
	}
	if flags.Changed("top") {
		cfg.Output.Top = opts.top
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section of cfg.
func newLogger(w io.Writer, cfg config.File) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(w, "ftimport", level, cfg.Log.Format)
}

// runImport handles the `import` command.
func runImport(ctx context.Context, stdout, stderr io.Writer, cfg config.File, opts importOptions, path string) error {
	log, err := newLogger(stderr, cfg)
	if err != nil {
		return err
	}

	progress := output.NewVerboseProgress(!opts.quiet, opts.verbose)
	progress.SetOutput(stderr)

	var warnings importer.CollectFeedback
	ic := cfg.Importer
	ic.Logger = log
	ic.Feedback = importer.FeedbackFunc(func(msg string) {
		warnings.ReportImportWarning(msg)
		progress.ReportImportWarning(msg)
	})

	progress.Log("Importing %s", path)
	f, stats, importErr := importer.New(ic).ImportFile(ctx, path)
	if f == nil {
		return importErr
	}
	progress.Log("Parsed %d of %d lines in %s", stats.Parsed, stats.Lines, stats.Duration)
	progress.Debug("import %s: %d failed, %d comments, score %d", stats.ImportID, stats.Failed, stats.Skipped, stats.Score)
	if f.Empty() {
		progress.Log("No processes or CPUs in %s", path)
	}

	summary := model.Summarize(f, cfg.Output.Top)
	doc := &output.Document{
		Tool:          "ftimport",
		Version:       version,
		SchemaVersion: output.SchemaVersion,
		Source:        path,
		Stats:         stats,
		Warnings:      warnings.Warnings(),
		Summary:       &summary,
	}
	// A canceled or failed read still yields the model built so far.
	if importErr != nil {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("import incomplete, model is partial: %v", importErr))
	}
	if opts.fragment {
		doc.Fragment = f
	}
	if opts.aiPrompt {
		doc.AnalysisPrompt = output.AnalysisPrompt(summary, stats)
	}

	if opts.output == "" || opts.output == "-" {
		err = output.EncodeJSON(stdout, doc)
	} else {
		err = output.WriteJSON(doc, opts.output)
	}
	if err != nil {
		return err
	}

	if opts.summary {
		if err := output.WriteSummary(stderr, summary, stats); err != nil {
			return err
		}
	}
	if opts.folded != "" || opts.svg != "" {
		if err := writeFlameGraph(f, opts.folded, opts.svg, path); err != nil {
			return err
		}
	}

	if importErr != nil {
		return importErr
	}
	if opts.strict && len(doc.Warnings) > 0 {
		return fmt.Errorf("import reported %d warning(s)", len(doc.Warnings))
	}
	return nil
}

// writeFlameGraph writes slice stacks in folded and/or SVG form.
func writeFlameGraph(f *model.Fragment, foldedPath, svgPath, title string) error {
	stacks := output.FoldSlices(f)
	if foldedPath != "" {
		out, err := os.Create(foldedPath)
		if err != nil {
			return fmt.Errorf("create folded file: %w", err)
		}
		if err := output.WriteFolded(out, stacks); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
	if svgPath != "" {
		if err := os.WriteFile(svgPath, []byte(output.FlameGraphSVG(stacks, title)), 0644); err != nil {
			return fmt.Errorf("write svg: %w", err)
		}
	}
	return nil
}

// runSniff handles the `sniff` command.
func runSniff(w io.Writer, im *importer.Importer, paths []string) error {
	var rejected []string
	for _, path := range paths {
		ok, err := im.CanImportFile(path)
		switch {
		case err != nil:
			fmt.Fprintf(w, "%s\terror: %v\n", path, err)
			rejected = append(rejected, path)
		case ok:
			fmt.Fprintf(w, "%s\tftrace\n", path)
		default:
			fmt.Fprintf(w, "%s\tunknown\n", path)
			rejected = append(rejected, path)
		}
	}
	if len(rejected) > 0 {
		return fmt.Errorf("%d of %d file(s): %w", len(rejected), len(paths), importer.ErrNotFtrace)
	}
	return nil
}

// runDiff handles the `diff` command.
func runDiff(w io.Writer, baselinePath, currentPath, outputPath string) error {
	baseline, err := diff.LoadDocument(baselinePath)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	current, err := diff.LoadDocument(currentPath)
	if err != nil {
		return fmt.Errorf("load current: %w", err)
	}

	result := diff.Compare(baseline, current)

	if outputPath == "" || outputPath == "-" {
		_, err := io.WriteString(w, diff.FormatDiff(result))
		return err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create diff file: %w", err)
	}
	if err := output.EncodeJSON(out, result); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
