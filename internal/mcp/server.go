package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/importer"
)

// Server wraps the MCP server instance.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server with registered tools. Every tool call
// imports with a copy of cfg.
func NewServer(version string, cfg importer.Config, top int) *Server {
	s := server.NewMCPServer("ftimport", version, server.WithLogging())

	h := &handlers{version: version, cfg: cfg, top: top}
	registerTools(s, h)

	return &Server{
		mcpServer: s,
	}
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools adds all supported tools to the server.
func registerTools(s *server.MCPServer, h *handlers) {
	importTool := mcp.NewTool("import_trace",
		mcp.WithDescription("Import an ftrace text capture (trace-cmd report or /sys/kernel/tracing/trace, optionally snappy-compressed). Returns import stats, warnings, a summary of processes, slices, counters and CPU usage, and an analysis prompt."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the capture on the server's filesystem"),
		),
		mcp.WithNumber("top",
			mcp.Description("Length of the top thread and top slice lists (default from config)"),
		),
		mcp.WithBoolean("include_fragment",
			mcp.Description("Include the full process/thread/slice model in the result. Can be large."),
		),
	)
	s.AddTool(importTool, h.importTrace)

	sniffTool := mcp.NewTool("can_import",
		mcp.WithDescription("Check whether a file looks like an ftrace text capture without importing it. Fast; reads only the first few kilobytes."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path to the capture on the server's filesystem"),
		),
	)
	s.AddTool(sniffTool, h.canImport)

	explainTool := mcp.NewTool("explain_event",
		mcp.WithDescription("Explain how a trace function (e.g. sched_switch, tracing_mark_write) is turned into processes, slices, counters and scheduling state. Use list_events to discover decoded functions."),
		mcp.WithString("event",
			mcp.Required(),
			mcp.Description("Trace function name as it appears before the colon in a trace line"),
		),
	)
	s.AddTool(explainTool, h.explainEvent)

	listTool := mcp.NewTool("list_events",
		mcp.WithDescription("List every trace function the importer decodes, with a brief description."),
	)
	s.AddTool(listTool, h.listEvents)
}
