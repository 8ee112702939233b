package model

import (
	"cmp"
	"slices"
)

// Summary condenses a fragment into counts and top lists.
type Summary struct {
	Duration        float64          `json:"duration"`
	Processes       int              `json:"processes"`
	Threads         int              `json:"threads"`
	CPUs            int              `json:"cpus"`
	Slices          int              `json:"slices"`
	OpenSlices      int              `json:"open_slices"`
	MaxDepth        int              `json:"max_depth"`
	AsyncSlices     int              `json:"async_slices"`
	OpenAsyncSlices int              `json:"open_async_slices"`
	Counters        int              `json:"counters"`
	CounterSamples  int              `json:"counter_samples"`
	CPUUtilization  []CPUUtilization `json:"cpu_utilization,omitempty"`
	TopThreads      []ThreadTime     `json:"top_threads,omitempty"`
	TopSlices       []SliceStat      `json:"top_slices,omitempty"`
}

// CPUUtilization is the share of the trace a CPU spent running threads.
type CPUUtilization struct {
	CPU         int32   `json:"cpu"`
	Busy        float64 `json:"busy"`
	Utilization float64 `json:"utilization_pct"`
}

// ThreadTime is the total on-CPU time of one thread.
type ThreadTime struct {
	TID     int32   `json:"tid"`
	Comm    string  `json:"comm"`
	Running float64 `json:"running"`
}

// SliceStat aggregates closed slices by name.
type SliceStat struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Max   float64 `json:"max"`
}

// Summarize computes a Summary. top bounds the length of each top list;
// zero or less means unbounded.
func Summarize(f *Fragment, top int) Summary {
	s := Summary{
		Duration:   f.Duration(),
		Processes:  len(f.Processes),
		CPUs:       len(f.CPUs),
		OpenSlices: f.OpenSlices(),
	}

	byName := make(map[string]*SliceStat)
	for _, p := range f.Processes {
		s.Threads += len(p.Threads)
		s.Counters += len(p.Counters)
		for _, c := range p.Counters {
			s.CounterSamples += len(c.Samples)
		}
		s.AsyncSlices += len(p.AsyncSlices)
		for _, a := range p.AsyncSlices {
			if !a.Closed {
				s.OpenAsyncSlices++
			}
		}
		for _, t := range p.Threads {
			s.MaxDepth = max(s.MaxDepth, depth(t.Slices))
			walkSlices(t.Slices, func(sl *Slice) {
				s.Slices++
				if !sl.Closed {
					return
				}
				st, ok := byName[sl.Name]
				if !ok {
					st = &SliceStat{Name: sl.Name}
					byName[sl.Name] = st
				}
				st.Count++
				st.Total += sl.Duration
				st.Max = max(st.Max, sl.Duration)
			})
		}
	}

	running := make(map[int32]*ThreadTime)
	for _, c := range f.CPUs {
		busy := c.Busy()
		u := CPUUtilization{CPU: c.ID, Busy: busy}
		if s.Duration > 0 {
			u.Utilization = min(100, busy/s.Duration*100)
		}
		s.CPUUtilization = append(s.CPUUtilization, u)
		for _, sl := range c.Slices {
			if !sl.Closed {
				continue
			}
			tt, ok := running[sl.TID]
			if !ok {
				tt = &ThreadTime{TID: sl.TID}
				running[sl.TID] = tt
			}
			tt.Comm = sl.Comm
			tt.Running += sl.Duration
		}
	}

	for _, tt := range running {
		s.TopThreads = append(s.TopThreads, *tt)
	}
	slices.SortFunc(s.TopThreads, func(a, b ThreadTime) int {
		if c := cmp.Compare(b.Running, a.Running); c != 0 {
			return c
		}
		return cmp.Compare(a.TID, b.TID)
	})

	for _, st := range byName {
		s.TopSlices = append(s.TopSlices, *st)
	}
	slices.SortFunc(s.TopSlices, func(a, b SliceStat) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	if top > 0 {
		s.TopThreads = s.TopThreads[:min(top, len(s.TopThreads))]
		s.TopSlices = s.TopSlices[:min(top, len(s.TopSlices))]
	}
	return s
}

func depth(ss []*Slice) int {
	d := 0
	for _, s := range ss {
		d = max(d, 1+depth(s.Children))
	}
	return d
}
