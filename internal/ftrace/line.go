// Package ftrace tokenizes Linux ftrace text lines and decodes the payload
// of the scheduling, workqueue and trace-marker events.
//
// A line has the shape
//
//	<task>-<pid> (<tgid>) [<cpu>] <irq flags> <timestamp>: <function>: <details>
//
// where the tgid column may be missing (kernels before the
// record-tgid option) or rendered as dashes (tgid unknown), and the irq
// flags block may be absent.
package ftrace

import (
	"regexp"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/buffer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/container"
)

// CPUBufferRestart is the function name of the synthetic event produced for
// a "##### CPU n buffer started ####" marker. It never collides with a real
// function because ftrace function names cannot contain '#'.
const CPUBufferRestart = "#cpu_buffer_restart"

// placeholderTask is what ftrace prints when it no longer knows a comm.
const placeholderTask = "<...>"

var (
	linePattern = regexp.MustCompile(
		`^\s*(.{1,16}?)-(\d+)\s+` + // task-pid
			`(?:\(\s*(\d+|-+)\s*\)\s+)?` + // (tgid) or (-----), optional
			`\[(\d+)\]` + // [cpu]
			`(?:\s+[dXz.][NnpbBlL.][Hhs.][0-9a-fA-F.]+)?` + // irq flags
			`\s+(\d+(?:\.\d+)?):\s+` + // timestamp
			`([^:\s]+):\s?(.*)$`) // function: details

	restartPattern = regexp.MustCompile(`^##### CPU (\d+) buffer started ####`)
)

const (
	groupTask = 1 + iota
	groupPid
	groupTgid
	groupCPU
	groupTimestamp
	groupFunction
	groupDetails
)

// ParsedLine is one tokenized line. Its windows share memory with the
// source line.
type ParsedLine struct {
	Task container.Option[buffer.Window]
	Pid  int32
	// Tgid is set only when the line carried a numeric tgid.
	Tgid container.Option[int32]
	// TgidColumn reports whether the line had a tgid column at all. A line
	// with the column but dashes in it has an unknown tgid; a line without
	// the column comes from a trace that never recorded tgids.
	TgidColumn bool
	CPU        int32
	Timestamp  float64
	Function   buffer.Window
	Details    buffer.Window
}

// Event is a fully materialized event that no longer references the input
// buffers.
type Event struct {
	Task       container.Option[string]
	Pid        int32
	Tgid       container.Option[int32]
	TgidColumn bool
	CPU        int32
	Timestamp  float64
	Function   string
	Details    EventDetails
}

// IsBufferRestart reports whether e is the CPU buffer restart sentinel.
func (e Event) IsBufferRestart() bool { return e.Function == CPUBufferRestart }

// IsComment reports whether line is a header or comment line such as
// "# tracer: nop". Buffer restart markers are not comments.
func IsComment(line buffer.Window) bool {
	return line.Len() > 0 && line.At(0) == '#' && !line.HasPrefix("#####")
}

// ParseLine tokenizes line. It reports false when the line does not have
// the ftrace shape.
func (s *State) ParseLine(line buffer.Window) (ParsedLine, bool) {
	if line.HasPrefix("#####") {
		return parseRestart(line)
	}
	idx := linePattern.FindSubmatchIndex(line.Bytes())
	if idx == nil {
		return ParsedLine{}, false
	}
	g := Groups{w: line, idx: idx, s: s}

	var p ParsedLine
	if task := g.At(groupTask); string(task.Bytes()) != placeholderTask {
		p.Task = container.Some(task)
	}
	var ok bool
	if p.Pid, ok = parseInt32(g.At(groupPid).Bytes()); !ok {
		return ParsedLine{}, false
	}
	if g.Has(groupTgid) {
		p.TgidColumn = true
		if tgid := g.At(groupTgid); tgid.At(0) != '-' {
			v, ok := parseInt32(tgid.Bytes())
			if !ok {
				return ParsedLine{}, false
			}
			p.Tgid = container.Some(v)
		}
	}
	if p.CPU, ok = parseInt32(g.At(groupCPU).Bytes()); !ok {
		return ParsedLine{}, false
	}
	if p.Timestamp, ok = g.Float(groupTimestamp); !ok {
		return ParsedLine{}, false
	}
	p.Function = g.At(groupFunction)
	p.Details = g.At(groupDetails)
	return p, true
}

func parseRestart(line buffer.Window) (ParsedLine, bool) {
	idx := restartPattern.FindSubmatchIndex(line.Bytes())
	if idx == nil {
		return ParsedLine{}, false
	}
	cpu, ok := parseInt32(line.Bytes()[idx[2]:idx[3]])
	if !ok {
		return ParsedLine{}, false
	}
	return ParsedLine{
		CPU:      cpu,
		Function: buffer.WindowString(CPUBufferRestart),
	}, true
}

// ParseEvent tokenizes line and decodes its details with the state's
// registry. The returned event owns all of its data.
func (s *State) ParseEvent(line buffer.Window) (Event, bool) {
	p, ok := s.ParseLine(line)
	if !ok {
		return Event{}, false
	}
	ev := Event{
		Pid:        p.Pid,
		Tgid:       p.Tgid,
		TgidColumn: p.TgidColumn,
		CPU:        p.CPU,
		Timestamp:  p.Timestamp,
		Function:   s.intern(p.Function.Bytes()),
		Details:    None,
	}
	if task, ok := p.Task.Get(); ok {
		ev.Task = container.Some(s.intern(task.Bytes()))
	}
	if !ev.IsBufferRestart() {
		ev.Details = s.reg.Decode(s, ev.Function, p.Details)
	}
	return ev, true
}
