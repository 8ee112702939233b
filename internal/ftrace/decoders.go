package ftrace

import (
	"bytes"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/buffer"
)

// RegisterSched installs sched_switch and the wakeup family.
func RegisterSched(b *RegistryBuilder) {
	switchSlot := b.Pattern(`^prev_comm=(.*) prev_pid=(-?\d+) prev_prio=(-?\d+) prev_state=(\S+) ==> ` +
		`next_comm=(.*) next_pid=(-?\d+) next_prio=(-?\d+)`)
	wakeupSlot := b.Pattern(`^comm=(.*) pid=(-?\d+) prio=(-?\d+)(?: success=\d+)? target_cpu=(\d+)`)

	b.Handle(func(s *State, d buffer.Window) (EventDetails, bool) {
		g, ok := s.Match(switchSlot, d)
		if !ok {
			return nil, false
		}
		var ev SchedSwitch
		var okP, okPP, okN, okNP bool
		ev.PrevComm = g.Text(1)
		ev.PrevPid, okP = parseInt32(g.At(2).Bytes())
		ev.PrevPrio, okPP = parseInt32(g.At(3).Bytes())
		ev.PrevState = ParseSchedulingState(string(g.At(4).Bytes()))
		ev.NextComm = g.Text(5)
		ev.NextPid, okN = parseInt32(g.At(6).Bytes())
		ev.NextPrio, okNP = parseInt32(g.At(7).Bytes())
		return ev, okP && okPP && okN && okNP
	}, "sched_switch")

	wakeup := func(waking bool) Decoder {
		return func(s *State, d buffer.Window) (EventDetails, bool) {
			g, ok := s.Match(wakeupSlot, d)
			if !ok {
				return nil, false
			}
			ev := SchedWakeup{Comm: g.Text(1), Waking: waking}
			var okP, okPr, okC bool
			ev.Pid, okP = parseInt32(g.At(2).Bytes())
			ev.Prio, okPr = parseInt32(g.At(3).Bytes())
			ev.TargetCPU, okC = parseInt32(g.At(4).Bytes())
			return ev, okP && okPr && okC
		}
	}
	b.Handle(wakeup(false), "sched_wakeup", "sched_wakeup_new")
	b.Handle(wakeup(true), "sched_waking")
}

// RegisterWorkqueue installs workqueue_execute_start and _end.
func RegisterWorkqueue(b *RegistryBuilder) {
	startSlot := b.Pattern(`^work struct (?:0x)?([0-9a-fA-F]+): function (\S+)`)
	endSlot := b.Pattern(`^work struct (?:0x)?([0-9a-fA-F]+)`)

	b.Handle(func(s *State, d buffer.Window) (EventDetails, bool) {
		g, ok := s.Match(startSlot, d)
		if !ok {
			return nil, false
		}
		return WorkqueueStart{Work: g.Text(1), Function: g.Text(2)}, true
	}, "workqueue_execute_start")

	b.Handle(func(s *State, d buffer.Window) (EventDetails, bool) {
		g, ok := s.Match(endSlot, d)
		if !ok {
			return nil, false
		}
		return WorkqueueEnd{Work: g.Text(1)}, true
	}, "workqueue_execute_end")
}

// RegisterTraceMarker installs tracing_mark_write, the userspace
// atrace/systrace marker channel.
func RegisterTraceMarker(b *RegistryBuilder) {
	parentSlot := b.Pattern(`^trace_event_clock_sync: parent_ts=(\d+(?:\.\d+)?)`)
	realtimeSlot := b.Pattern(`^trace_event_clock_sync: realtime_ts=(\d+)`)

	b.Handle(func(s *State, d buffer.Window) (EventDetails, bool) {
		if d.Len() == 0 {
			return nil, false
		}
		switch d.At(0) {
		case 'B':
			f := splitMarker(d, 3)
			if len(f) < 3 {
				return nil, false
			}
			tgid, ok := parseInt32(f[1].Bytes())
			return BeginSlice{Tgid: tgid, Title: s.intern(f[2].Bytes())}, ok
		case 'E':
			return EndSlice{}, true
		case 'C':
			tgid, name, value, ok := markerValue(s, d)
			return Counter{Tgid: tgid, Name: name, Value: value}, ok
		case 'S':
			tgid, name, cookie, ok := markerValue(s, d)
			return AsyncStart{Tgid: tgid, Name: name, Cookie: cookie}, ok
		case 'F':
			tgid, name, cookie, ok := markerValue(s, d)
			return AsyncFinish{Tgid: tgid, Name: name, Cookie: cookie}, ok
		}
		if g, ok := s.Match(parentSlot, d); ok {
			v, ok := g.Float(1)
			return ClockSync{Kind: ClockSyncParent, Value: v}, ok
		}
		if g, ok := s.Match(realtimeSlot, d); ok {
			v, ok := g.Float(1)
			return ClockSync{Kind: ClockSyncRealtime, Value: v}, ok
		}
		return nil, false
	}, "tracing_mark_write")
}

// markerValue parses "X|tgid|name|n". The name may itself contain '|'; the
// number is whatever follows the last one.
func markerValue(s *State, d buffer.Window) (tgid int32, name string, n int64, ok bool) {
	f := splitMarker(d, 3)
	if len(f) < 3 {
		return 0, "", 0, false
	}
	if tgid, ok = parseInt32(f[1].Bytes()); !ok {
		return 0, "", 0, false
	}
	rest := f[2]
	sep := bytes.LastIndexByte(rest.Bytes(), '|')
	if sep < 0 {
		return 0, "", 0, false
	}
	if n, ok = parseInt(rest.Slice(sep+1, rest.Len()).Bytes()); !ok {
		return 0, "", 0, false
	}
	return tgid, s.intern(rest.Slice(0, sep).Bytes()), n, true
}

// splitMarker splits d on '|' into at most n windows.
func splitMarker(d buffer.Window, n int) []buffer.Window {
	out := make([]buffer.Window, 0, n)
	for len(out) < n-1 {
		i := d.IndexByte('|')
		if i < 0 {
			break
		}
		out = append(out, d.Slice(0, i))
		d = d.Slice(i+1, d.Len())
	}
	return append(out, d)
}
