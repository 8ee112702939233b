package model

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/container"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/ftrace"
)

// BuilderStats counts soft failures the builder recovered from.
type BuilderStats struct {
	UnmatchedEnds          int `json:"unmatched_ends"`
	UnmatchedAsyncFinishes int `json:"unmatched_async_finishes"`
	ProcessMerges          int `json:"process_merges"`
	Resets                 int `json:"resets"`
}

type asyncKey struct {
	name   string
	cookie int64
}

type processRecord struct {
	p *Process
	// pending is set while the process exists only because one of its
	// threads was seen before any tgid for it was known.
	pending  bool
	threads  map[int32]*threadRecord
	counters map[string]*Counter
	async    map[asyncKey]*AsyncSlice
}

type threadRecord struct {
	t     *Thread
	proc  *processRecord
	stack []*Slice
}

type cpuRecord struct {
	c *CPU
	// running is the index of the open slice in c.Slices, or -1.
	running int
}

// Builder turns an ordered event stream into a Fragment. It is not safe for
// concurrent use.
type Builder struct {
	log *slog.Logger

	processes map[int32]*processRecord
	threads   map[int32]*threadRecord
	cpus      map[int32]*cpuRecord

	seen       bool
	start, end float64
	parentTS   container.Option[float64]
	realtimeTS container.Option[float64]

	stats BuilderStats
}

// NewBuilder returns an empty builder. A nil logger discards.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	b := &Builder{log: log}
	b.reset()
	return b
}

// Stats returns the recovery counters accumulated so far. Counters survive
// Reset.
func (b *Builder) Stats() BuilderStats { return b.stats }

// Reset discards all model state, as after a CPU buffer restart.
func (b *Builder) Reset() {
	b.stats.Resets++
	b.reset()
}

func (b *Builder) reset() {
	b.processes = make(map[int32]*processRecord)
	b.threads = make(map[int32]*threadRecord)
	b.cpus = make(map[int32]*cpuRecord)
	b.seen = false
	b.start, b.end = 0, 0
	b.parentTS = container.None[float64]()
	b.realtimeTS = container.None[float64]()
}

// Apply routes one event into the model. The CPU buffer restart sentinel
// resets the builder.
func (b *Builder) Apply(ev ftrace.Event) {
	if ev.IsBufferRestart() {
		b.log.Debug("cpu buffer restarted, discarding model", "cpu", ev.CPU)
		b.Reset()
		return
	}

	if !b.seen {
		b.seen = true
		b.start, b.end = ev.Timestamp, ev.Timestamp
	} else {
		b.end = max(b.end, ev.Timestamp)
	}
	b.cpu(ev.CPU)

	var t *threadRecord
	if ev.Pid != 0 {
		t = b.thread(ev.Pid)
		if task, ok := ev.Task.Get(); ok {
			t.t.Name = task
		}
		if tgid, ok := ev.Tgid.Get(); ok {
			b.bind(t, tgid)
		}
	}

	switch d := ev.Details.(type) {
	case ftrace.SchedSwitch:
		b.schedSwitch(ev, d)
	case ftrace.SchedWakeup:
		if d.Pid == 0 {
			return
		}
		w := b.thread(d.Pid)
		w.t.Name = d.Comm
		w.setState(ev.Timestamp, ftrace.StateWaking, d.TargetCPU)
	case ftrace.WorkqueueStart:
		if t != nil {
			t.push(d.Function, ev.Timestamp)
		}
	case ftrace.WorkqueueEnd:
		if t != nil {
			b.pop(t, ev)
		}
	case ftrace.BeginSlice:
		if t == nil {
			return
		}
		b.hint(t, ev, d.Tgid)
		t.push(d.Title, ev.Timestamp)
	case ftrace.EndSlice:
		if t != nil {
			b.pop(t, ev)
		}
	case ftrace.Counter:
		b.hint(t, ev, d.Tgid)
		c := b.process(d.Tgid).counter(d.Name)
		c.Samples = append(c.Samples, CounterSample{Timestamp: ev.Timestamp, Value: d.Value})
	case ftrace.AsyncStart:
		b.hint(t, ev, d.Tgid)
		b.asyncStart(ev, d)
	case ftrace.AsyncFinish:
		b.hint(t, ev, d.Tgid)
		b.asyncFinish(ev, d)
	case ftrace.ClockSync:
		switch d.Kind {
		case ftrace.ClockSyncParent:
			b.parentTS = container.Some(d.Value)
		case ftrace.ClockSyncRealtime:
			b.realtimeTS = container.Some(d.Value)
		}
	}
}

func (b *Builder) schedSwitch(ev ftrace.Event, d ftrace.SchedSwitch) {
	if d.PrevPid != 0 {
		prev := b.thread(d.PrevPid)
		prev.t.Name = d.PrevComm
		prev.setState(ev.Timestamp, d.PrevState, ev.CPU)
	}
	if d.NextPid != 0 {
		next := b.thread(d.NextPid)
		next.t.Name = d.NextComm
		next.setState(ev.Timestamp, ftrace.StateRunning, ev.CPU)
	}

	c := b.cpu(ev.CPU)
	if c.running >= 0 {
		s := &c.c.Slices[c.running]
		s.Duration = max(0, ev.Timestamp-s.Start)
		s.EndState = d.PrevState
		s.Closed = true
		c.running = -1
	}
	if d.NextPid != 0 {
		c.c.Slices = append(c.c.Slices, CPUSlice{
			Start: ev.Timestamp,
			TID:   d.NextPid,
			Comm:  d.NextComm,
			Prio:  d.NextPrio,
		})
		c.running = len(c.c.Slices) - 1
	}
}

func (b *Builder) asyncStart(ev ftrace.Event, d ftrace.AsyncStart) {
	p := b.process(d.Tgid)
	key := asyncKey{d.Name, d.Cookie}
	if _, open := p.async[key]; open {
		b.log.Debug("async slice restarted before finish", "name", d.Name, "cookie", d.Cookie, "ts", ev.Timestamp)
	}
	s := &AsyncSlice{Name: d.Name, Cookie: d.Cookie, Start: ev.Timestamp, StartThread: ev.Pid}
	p.async[key] = s
	p.p.AsyncSlices = append(p.p.AsyncSlices, s)
}

func (b *Builder) asyncFinish(ev ftrace.Event, d ftrace.AsyncFinish) {
	p := b.process(d.Tgid)
	key := asyncKey{d.Name, d.Cookie}
	s, ok := p.async[key]
	if !ok {
		b.stats.UnmatchedAsyncFinishes++
		b.log.Debug("async finish without start", "name", d.Name, "cookie", d.Cookie, "ts", ev.Timestamp)
		return
	}
	delete(p.async, key)
	s.Duration = max(0, ev.Timestamp-s.Start)
	s.EndThread = ev.Pid
	s.Closed = true
}

func (b *Builder) pop(t *threadRecord, ev ftrace.Event) {
	if !t.pop(ev.Timestamp) {
		b.stats.UnmatchedEnds++
		b.log.Debug("slice end without begin", "tid", t.t.ID, "ts", ev.Timestamp, "function", ev.Function)
	}
}

// --- Identity resolution ---
//
// A thread seen before its tgid is known is parked in a pending process
// keyed by its own id. bind resolves it once a tgid is learned, merging the
// pending process into the canonical one.

// hint binds t to the tgid a trace marker payload names, unless the line
// itself carried the authoritative tgid column.
func (b *Builder) hint(t *threadRecord, ev ftrace.Event, tgid int32) {
	if t == nil || ev.Tgid.Set() {
		return
	}
	b.bind(t, tgid)
}

func (b *Builder) thread(tid int32) *threadRecord {
	if t, ok := b.threads[tid]; ok {
		return t
	}
	p, ok := b.processes[tid]
	if !ok {
		p = b.newProcess(tid, true)
	}
	t := &threadRecord{t: &Thread{ID: tid, PID: p.p.ID}, proc: p}
	p.threads[tid] = t
	b.threads[tid] = t
	return t
}

// process returns the canonical process for tgid, resolving a pending
// record with the same id.
func (b *Builder) process(tgid int32) *processRecord {
	if p, ok := b.processes[tgid]; ok {
		p.pending = false
		return p
	}
	return b.newProcess(tgid, false)
}

func (b *Builder) newProcess(pid int32, pending bool) *processRecord {
	p := &processRecord{
		p:        &Process{ID: pid},
		pending:  pending,
		threads:  make(map[int32]*threadRecord),
		counters: make(map[string]*Counter),
		async:    make(map[asyncKey]*AsyncSlice),
	}
	b.processes[pid] = p
	return p
}

func (b *Builder) bind(t *threadRecord, tgid int32) {
	if t.proc.p.ID == tgid {
		t.proc.pending = false
		return
	}
	from := t.proc
	to := b.process(tgid)
	if from.pending {
		b.merge(from, to)
		return
	}
	// The thread moved between two known processes; the later tgid wins.
	b.log.Debug("thread changed process", "tid", t.t.ID, "from", from.p.ID, "to", tgid)
	delete(from.threads, t.t.ID)
	t.proc = to
	t.t.PID = to.p.ID
	to.threads[t.t.ID] = t
}

// merge moves everything from the pending record into the canonical one
// and forgets the pending record.
func (b *Builder) merge(from, to *processRecord) {
	for tid, t := range from.threads {
		t.proc = to
		t.t.PID = to.p.ID
		to.threads[tid] = t
	}
	for name, c := range from.counters {
		if dst, ok := to.counters[name]; ok {
			dst.Samples = append(dst.Samples, c.Samples...)
			slices.SortStableFunc(dst.Samples, func(x, y CounterSample) int {
				return cmp.Compare(x.Timestamp, y.Timestamp)
			})
			continue
		}
		to.counters[name] = c
	}
	for k, s := range from.async {
		if _, ok := to.async[k]; !ok {
			to.async[k] = s
		}
	}
	to.p.AsyncSlices = append(to.p.AsyncSlices, from.p.AsyncSlices...)
	if to.p.Name == "" {
		to.p.Name = from.p.Name
	}
	delete(b.processes, from.p.ID)
	b.stats.ProcessMerges++
}

func (p *processRecord) counter(name string) *Counter {
	c, ok := p.counters[name]
	if !ok {
		c = &Counter{Name: name}
		p.counters[name] = c
	}
	return c
}

func (b *Builder) cpu(id int32) *cpuRecord {
	c, ok := b.cpus[id]
	if !ok {
		c = &cpuRecord{c: &CPU{ID: id}, running: -1}
		b.cpus[id] = c
	}
	return c
}

// --- Per-thread state ---

func (t *threadRecord) push(name string, ts float64) {
	s := &Slice{Name: name, Start: ts}
	if n := len(t.stack); n > 0 {
		top := t.stack[n-1]
		top.Children = append(top.Children, s)
	} else {
		t.t.Slices = append(t.t.Slices, s)
	}
	t.stack = append(t.stack, s)
}

func (t *threadRecord) pop(ts float64) bool {
	n := len(t.stack)
	if n == 0 {
		return false
	}
	s := t.stack[n-1]
	t.stack = t.stack[:n-1]
	s.Duration = max(0, ts-s.Start)
	s.Closed = true
	return true
}

func (t *threadRecord) setState(ts float64, state ftrace.SchedulingState, cpu int32) {
	t.t.State = state
	t.t.States = append(t.t.States, StateTransition{Timestamp: ts, State: state, CPU: cpu})
}

// --- Materialization ---

// Fragment materializes the model built so far with processes, threads,
// counters and CPUs sorted by id or name. The fragment shares slices with
// the builder, so further Apply calls are visible through it.
func (b *Builder) Fragment() *Fragment {
	f := &Fragment{
		GlobalStartTime:   b.start,
		GlobalEndTime:     b.end,
		ParentTimestamp:   b.parentTS,
		RealtimeTimestamp: b.realtimeTS,
	}
	for _, rec := range b.processes {
		p := rec.p
		p.Threads = p.Threads[:0]
		for _, t := range rec.threads {
			p.Threads = append(p.Threads, t.t)
		}
		slices.SortFunc(p.Threads, func(x, y *Thread) int { return cmp.Compare(x.ID, y.ID) })

		p.Counters = p.Counters[:0]
		for _, c := range rec.counters {
			p.Counters = append(p.Counters, c)
		}
		slices.SortFunc(p.Counters, func(x, y *Counter) int { return cmp.Compare(x.Name, y.Name) })

		slices.SortStableFunc(p.AsyncSlices, func(x, y *AsyncSlice) int { return cmp.Compare(x.Start, y.Start) })

		if p.Name == "" {
			if main := p.Thread(p.ID); main != nil {
				p.Name = main.Name
			}
		}
		f.Processes = append(f.Processes, p)
	}
	slices.SortFunc(f.Processes, func(x, y *Process) int { return cmp.Compare(x.ID, y.ID) })

	for _, c := range b.cpus {
		f.CPUs = append(f.CPUs, c.c)
	}
	slices.SortFunc(f.CPUs, func(x, y *CPU) int { return cmp.Compare(x.ID, y.ID) })
	return f
}
