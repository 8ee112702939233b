package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/ftrace"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/importer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/output"
)

// importTimeout is the maximum time for a single import_trace call.
const importTimeout = 5 * time.Minute

// handlers carries the configuration shared by every tool call.
type handlers struct {
	version string
	cfg     importer.Config
	top     int
}

// importTrace imports a capture and returns stats, warnings and a summary.
func (h *handlers) importTrace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	path := stringArg(args, "path", "")
	if path == "" {
		return errResult("path is required"), nil
	}
	top := intArg(args, "top", h.top)
	if top < 0 {
		return errResult(fmt.Sprintf("top must not be negative, got %d", top)), nil
	}

	ctx, cancel := context.WithTimeout(ctx, importTimeout)
	defer cancel()

	// Warnings belong to one call, so each call gets its own importer.
	cfg := h.cfg
	fb := &importer.CollectFeedback{}
	cfg.Feedback = fb
	f, stats, err := importer.New(cfg).ImportFile(ctx, path)
	if f == nil {
		if errors.Is(err, importer.ErrNotFtrace) {
			return errResult(fmt.Sprintf("%s does not look like an ftrace text capture", path)), nil
		}
		return errResult(fmt.Sprintf("import failed: %v", err)), nil
	}

	summary := model.Summarize(f, top)
	doc := &output.Document{
		Tool:          "ftimport",
		Version:       h.version,
		SchemaVersion: output.SchemaVersion,
		Source:        path,
		Stats:         stats,
		Warnings:      fb.Warnings(),
		Summary:       &summary,

		AnalysisPrompt: output.AnalysisPrompt(summary, stats),
	}
	if err != nil {
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("import incomplete, model is partial: %v", err))
	}
	if boolArg(args, "include_fragment", false) {
		doc.Fragment = f
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// canImport probes the head of a file for an ftrace signature.
func (h *handlers) canImport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	path := stringArg(args, "path", "")
	if path == "" {
		return errResult("path is required"), nil
	}

	ok, err := importer.New(h.cfg).CanImportFile(path)
	if err != nil {
		return errResult(fmt.Sprintf("sniff failed: %v", err)), nil
	}

	jsonData, err := json.Marshal(struct {
		Path      string `json:"path"`
		CanImport bool   `json:"can_import"`
	}{path, ok})
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

// explainEvent describes what the importer does with one trace function.
func (h *handlers) explainEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	name := stringArg(args, "event", "")
	if name == "" {
		return errResult("event is required"), nil
	}

	if desc, ok := eventExplanations[name]; ok {
		return newTextResult(desc), nil
	}
	if h.registry().Has(name) {
		return newTextResult(fmt.Sprintf("'%s' is decoded by the importer but has no extended description.", name)), nil
	}
	return newTextResult(fmt.Sprintf(
		"'%s' is not decoded. Lines with this function still count as parsed, "+
			"update the task's name and process binding, and extend the trace's time range, "+
			"but produce no slices, counters or scheduling state. Use list_events to see decoded functions.",
		name,
	)), nil
}

// listEvents returns every decoded trace function with a one-line brief.
func (h *handlers) listEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type entry struct {
		Event string `json:"event"`
		Brief string `json:"brief"`
	}

	var entries []entry
	for _, fn := range h.registry().Functions() {
		brief := fn
		if desc, ok := eventExplanations[fn]; ok {
			for _, line := range strings.Split(desc, "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					brief = strings.ReplaceAll(line, "**", "")
					break
				}
			}
		}
		entries = append(entries, entry{Event: fn, Brief: brief})
	}

	jsonData, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(jsonData)), nil
}

func (h *handlers) registry() *ftrace.Registry {
	if h.cfg.Registry != nil {
		return h.cfg.Registry
	}
	return ftrace.DefaultRegistry()
}

// getArgs safely extracts the arguments map from a CallToolRequest.
// Returns an empty map if arguments are nil or not a map.
func getArgs(request mcp.CallToolRequest) map[string]any {
	if request.Params.Arguments == nil {
		return map[string]any{}
	}
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]any, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// intArg extracts an integral argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string, defaultVal int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultVal
	}
}

func boolArg(args map[string]any, key string, defaultVal bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return defaultVal
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates an MCP tool error result (IsError=true).
// This is returned as a tool-level error, not a transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}

var eventExplanations = map[string]string{
	"sched_switch": `**Context switch**
Closes the running slice on the event's CPU and opens one for the next task.
**Model effects:**
- The previous task's end state (R, S, D, ...) becomes its thread state and the closed CPU slice's end state.
- The next task's thread state becomes running and its name is taken from next_comm.
- Switching to pid 0 leaves the CPU idle.`,

	"sched_wakeup": `**Task wakeup**
Marks the woken task as waking on its target CPU.
**Model effects:**
- Appends a waking state transition to the woken thread, tagged with the target CPU.
- The woken thread is created if it was not seen before and takes comm as its name.`,

	"sched_wakeup_new": `**New task wakeup**
Same as sched_wakeup, emitted for a freshly forked task.
**Model effects:**
- Appends a waking state transition to the new thread.`,

	"sched_waking": `**Task waking**
Emitted on the waker's CPU before the wakeup completes.
**Model effects:**
- Appends a waking state transition to the target thread, tagged with the target CPU.`,

	"workqueue_execute_start": `**Workqueue item start**
A kworker begins running a work function.
**Model effects:**
- Opens a slice on the kworker thread named after the work function.`,

	"workqueue_execute_end": `**Workqueue item end**
A kworker finished a work function.
**Model effects:**
- Closes the innermost open slice on the kworker thread. An end with nothing open is counted and dropped.`,

	"tracing_mark_write": `**User-space trace marker**
Carries atrace records written by applications to trace_marker.
**Recognized payloads:**
- B|pid|name opens a slice, E closes the innermost one.
- C|pid|name|value appends a counter sample to process pid.
- S|pid|name|cookie and F|pid|name|cookie start and finish an async slice.
- trace_event_clock_sync: parent_ts= or realtime_ts= records the clock offset.
**Model effects:**
- The pid in the payload binds the writing thread to that process when the line has no tgid column.`,
}
