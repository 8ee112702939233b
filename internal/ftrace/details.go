package ftrace

// SchedulingState is a thread's kernel scheduling state.
type SchedulingState uint8

const (
	StateUnknown SchedulingState = iota
	StateRunning
	StateRunnable
	StateSleeping
	StateUninterruptibleSleep
	StateUninterruptibleSleepWakeKill
	StateUninterruptibleSleepWaking
	StateStopped
	StateDebug
	StateZombie
	StateExitDead
	StateTaskDead
	StateWakeKill
	StateWaking
)

var stateNames = [...]string{
	StateUnknown:                      "UNKNOWN",
	StateRunning:                      "RUNNING",
	StateRunnable:                     "RUNNABLE",
	StateSleeping:                     "SLEEPING",
	StateUninterruptibleSleep:         "UNINTR_SLEEP",
	StateUninterruptibleSleepWakeKill: "UNINTR_SLEEP_WAKE_KILL",
	StateUninterruptibleSleepWaking:   "UNINTR_SLEEP_WAKING",
	StateStopped:                      "STOPPED",
	StateDebug:                        "DEBUG",
	StateZombie:                       "ZOMBIE",
	StateExitDead:                     "EXIT_DEAD",
	StateTaskDead:                     "TASK_DEAD",
	StateWakeKill:                     "WAKE_KILL",
	StateWaking:                       "WAKING",
}

func (s SchedulingState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return stateNames[StateUnknown]
}

// MarshalText renders the state by name in JSON output.
func (s SchedulingState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText. Unknown names map to
// StateUnknown.
func (s *SchedulingState) UnmarshalText(b []byte) error {
	*s = StateUnknown
	for i, name := range stateNames {
		if name == string(b) {
			*s = SchedulingState(i)
			break
		}
	}
	return nil
}

// ParseSchedulingState maps a prev_state code from sched_switch. The code is
// one letter optionally followed by "+" (preempted) or "|" and an extended
// sub-state letter. Unrecognized codes map to StateUnknown.
func ParseSchedulingState(code string) SchedulingState {
	if code == "" {
		return StateUnknown
	}
	var ext byte
	if len(code) >= 3 && code[1] == '|' {
		ext = code[2]
	}
	switch code[0] {
	case 'S':
		return StateSleeping
	case 'R':
		return StateRunnable
	case 'D':
		switch ext {
		case 'K':
			return StateUninterruptibleSleepWakeKill
		case 'W':
			return StateUninterruptibleSleepWaking
		}
		return StateUninterruptibleSleep
	case 'T':
		return StateStopped
	case 't':
		return StateDebug
	case 'Z':
		return StateZombie
	case 'X':
		return StateExitDead
	case 'x':
		return StateTaskDead
	case 'K':
		return StateWakeKill
	case 'W':
		return StateWaking
	}
	return StateUnknown
}

// EventDetails is the decoded payload of one event. The set of
// implementations is closed; switch on the concrete type.
type EventDetails interface {
	eventDetails()
}

// NoDetails is returned for functions without a decoder and for payloads a
// decoder could not parse.
type NoDetails struct{}

// None is the shared NoDetails sentinel.
var None EventDetails = NoDetails{}

type SchedSwitch struct {
	PrevComm  string
	PrevPid   int32
	PrevPrio  int32
	PrevState SchedulingState
	NextComm  string
	NextPid   int32
	NextPrio  int32
}

// SchedWakeup covers sched_wakeup, sched_wakeup_new and sched_waking.
type SchedWakeup struct {
	Comm      string
	Pid       int32
	Prio      int32
	TargetCPU int32
	// Waking is set for sched_waking, which fires before the wakeup itself.
	Waking bool
}

type WorkqueueStart struct {
	Work     string
	Function string
}

type WorkqueueEnd struct {
	Work string
}

// BeginSlice is a tracing_mark_write "B|tgid|title".
type BeginSlice struct {
	Tgid  int32
	Title string
}

// EndSlice is a tracing_mark_write "E".
type EndSlice struct{}

// Counter is a tracing_mark_write "C|tgid|name|value".
type Counter struct {
	Tgid  int32
	Name  string
	Value int64
}

// AsyncStart is a tracing_mark_write "S|tgid|name|cookie".
type AsyncStart struct {
	Tgid   int32
	Name   string
	Cookie int64
}

// AsyncFinish is a tracing_mark_write "F|tgid|name|cookie".
type AsyncFinish struct {
	Tgid   int32
	Name   string
	Cookie int64
}

type ClockSyncKind uint8

const (
	ClockSyncParent ClockSyncKind = iota
	ClockSyncRealtime
)

// ClockSync is a trace_event_clock_sync marker carrying either the parent
// clock (seconds) or the realtime clock (milliseconds) at the event.
type ClockSync struct {
	Kind  ClockSyncKind
	Value float64
}

func (NoDetails) eventDetails()      {}
func (SchedSwitch) eventDetails()    {}
func (SchedWakeup) eventDetails()    {}
func (WorkqueueStart) eventDetails() {}
func (WorkqueueEnd) eventDetails()   {}
func (BeginSlice) eventDetails()     {}
func (EndSlice) eventDetails()       {}
func (Counter) eventDetails()        {}
func (AsyncStart) eventDetails()     {}
func (AsyncFinish) eventDetails()    {}
func (ClockSync) eventDetails()      {}
