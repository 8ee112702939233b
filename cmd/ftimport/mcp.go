package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/config"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/importer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/mcp"
)

const metricsShutdownTimeout = 5 * time.Second

func newMCPCmd() *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)

	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start Model Context Protocol (MCP) server",
		Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP).
This allows AI agents (e.g., Claude Desktop, Cursor) to import ftrace
captures and query the resulting model.

Communication happens over standard input/output (stdio); logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}

			ic := cfg.Importer
			ic.Logger = log
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				ic.Metrics = importer.NewMetrics(reg)
				shutdown := serveMetrics(metricsAddr, reg, log)
				defer shutdown()
			}

			srv := mcp.NewServer(version, ic, cfg.Output.Top)
			return srv.Start(ctx)
		},
	}
	mcpCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	mcpCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")

	return mcpCmd
}

// serveMetrics exposes reg on addr/metrics in the background. The returned
// func stops the listener.
func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) func() {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics shutdown", "error", err)
		}
	}
}
