// Package model defines the trace model built from an ftrace capture.
// These types are serialized to JSON by the CLI and the MCP server.
package model

import (
	"cmp"
	"slices"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/container"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/ftrace"
)

// --- Fragment: top-level output ---

// Fragment is everything one import produced. Timestamps are seconds on the
// trace clock.
type Fragment struct {
	Processes         []*Process                `json:"processes"`
	CPUs              []*CPU                    `json:"cpus"`
	GlobalStartTime   float64                   `json:"global_start_time"`
	GlobalEndTime     float64                   `json:"global_end_time"`
	ParentTimestamp   container.Option[float64] `json:"parent_timestamp,omitzero"`
	RealtimeTimestamp container.Option[float64] `json:"realtime_timestamp,omitzero"`
}

// Empty reports whether the fragment holds no processes and no CPUs.
func (f *Fragment) Empty() bool {
	return len(f.Processes) == 0 && len(f.CPUs) == 0
}

// Duration is GlobalEndTime - GlobalStartTime.
func (f *Fragment) Duration() float64 {
	return f.GlobalEndTime - f.GlobalStartTime
}

// Process returns the process with the given id, or nil.
func (f *Fragment) Process(pid int32) *Process {
	i, ok := slices.BinarySearchFunc(f.Processes, pid, func(p *Process, id int32) int {
		return cmp.Compare(p.ID, id)
	})
	if !ok {
		return nil
	}
	return f.Processes[i]
}

// CPU returns the CPU with the given number, or nil.
func (f *Fragment) CPU(id int32) *CPU {
	i, ok := slices.BinarySearchFunc(f.CPUs, id, func(c *CPU, id int32) int {
		return cmp.Compare(c.ID, id)
	})
	if !ok {
		return nil
	}
	return f.CPUs[i]
}

// Thread returns the thread with the given id from any process, or nil.
func (f *Fragment) Thread(tid int32) *Thread {
	for _, p := range f.Processes {
		if t := p.Thread(tid); t != nil {
			return t
		}
	}
	return nil
}

// HasOpenSlices reports whether any thread still has an unterminated slice.
func (f *Fragment) HasOpenSlices() bool {
	return f.OpenSlices() > 0
}

// OpenSlices counts unterminated thread slices.
func (f *Fragment) OpenSlices() int {
	n := 0
	for _, p := range f.Processes {
		for _, t := range p.Threads {
			walkSlices(t.Slices, func(s *Slice) {
				if !s.Closed {
					n++
				}
			})
		}
	}
	return n
}

// --- Processes and threads ---

// Process is a thread group. Its ID equals the id of its main thread.
type Process struct {
	ID          int32         `json:"pid"`
	Name        string        `json:"name,omitempty"`
	Threads     []*Thread     `json:"threads"`
	Counters    []*Counter    `json:"counters,omitempty"`
	AsyncSlices []*AsyncSlice `json:"async_slices,omitempty"`
}

// Thread returns the thread with the given id, or nil.
func (p *Process) Thread(tid int32) *Thread {
	for _, t := range p.Threads {
		if t.ID == tid {
			return t
		}
	}
	return nil
}

// Counter returns the counter series with the given name, or nil.
func (p *Process) Counter(name string) *Counter {
	for _, c := range p.Counters {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Thread is one schedulable task. PID refers back to the owning process.
type Thread struct {
	ID     int32                  `json:"tid"`
	PID    int32                  `json:"pid"`
	Name   string                 `json:"name,omitempty"`
	Slices []*Slice               `json:"slices,omitempty"`
	State  ftrace.SchedulingState `json:"state"`
	States []StateTransition      `json:"states,omitempty"`
}

// StateTransition records the thread entering State at Timestamp.
type StateTransition struct {
	Timestamp float64                `json:"ts"`
	State     ftrace.SchedulingState `json:"state"`
	CPU       int32                  `json:"cpu"`
}

// --- Slices ---

// Slice is a named interval on a thread. Children are nested intervals
// opened while this one was the innermost open slice.
type Slice struct {
	Name     string   `json:"name"`
	Start    float64  `json:"start"`
	Duration float64  `json:"duration"`
	Closed   bool     `json:"closed"`
	Children []*Slice `json:"children,omitempty"`
}

// End is Start + Duration.
func (s *Slice) End() float64 { return s.Start + s.Duration }

// Find returns the first slice named name in a depth-first walk of the
// slice and its descendants, or nil.
func (s *Slice) Find(name string) *Slice {
	if s.Name == name {
		return s
	}
	for _, c := range s.Children {
		if f := c.Find(name); f != nil {
			return f
		}
	}
	return nil
}

func walkSlices(ss []*Slice, fn func(*Slice)) {
	for _, s := range ss {
		fn(s)
		walkSlices(s.Children, fn)
	}
}

// AsyncSlice is an interval correlated by (Name, Cookie) rather than by
// thread.
type AsyncSlice struct {
	Name        string  `json:"name"`
	Cookie      int64   `json:"cookie"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Closed      bool    `json:"closed"`
	StartThread int32   `json:"start_tid"`
	EndThread   int32   `json:"end_tid,omitempty"`
}

// --- Counters ---

// Counter is a named series of samples in arrival order.
type Counter struct {
	Name    string          `json:"name"`
	Samples []CounterSample `json:"samples"`
}

type CounterSample struct {
	Timestamp float64 `json:"ts"`
	Value     int64   `json:"value"`
}

// --- CPUs ---

// CPU holds the timeline of threads sched_switch put on the CPU.
type CPU struct {
	ID     int32      `json:"cpu"`
	Slices []CPUSlice `json:"slices,omitempty"`
}

// CPUSlice is one stretch of a thread running on a CPU. EndState is the
// state the thread was switched out in.
type CPUSlice struct {
	Start    float64                `json:"start"`
	Duration float64                `json:"duration"`
	TID      int32                  `json:"tid"`
	Comm     string                 `json:"comm"`
	Prio     int32                  `json:"prio"`
	EndState ftrace.SchedulingState `json:"end_state"`
	Closed   bool                   `json:"closed"`
}

// Busy sums the duration of every closed slice on the CPU.
func (c *CPU) Busy() float64 {
	var d float64
	for _, s := range c.Slices {
		if s.Closed {
			d += s.Duration
		}
	}
	return d
}
