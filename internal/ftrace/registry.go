package ftrace

import (
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/buffer"
)

// Slot identifies a pattern reserved in a Registry's shared pattern set.
type Slot int

// Decoder turns the details segment of one event into EventDetails. It
// reports false when the payload does not have the expected shape.
type Decoder func(s *State, details buffer.Window) (EventDetails, bool)

// Registration installs the decoders of one event family.
type Registration func(b *RegistryBuilder)

// RegistryBuilder collects patterns and decoders before they are frozen
// into a Registry.
type RegistryBuilder struct {
	exprs    []string
	decoders map[string]Decoder
}

// Pattern reserves a slot for expr. All patterns are compiled once, when
// the registry is built.
func (b *RegistryBuilder) Pattern(expr string) Slot {
	b.exprs = append(b.exprs, expr)
	return Slot(len(b.exprs) - 1)
}

// Handle installs d under every name in names.
func (b *RegistryBuilder) Handle(d Decoder, names ...string) {
	for _, name := range names {
		b.decoders[name] = d
	}
}

// Registry maps event function names to decoders. It is immutable once
// built and safe for concurrent use; the mutable per-call state lives in
// State.
type Registry struct {
	patterns []*regexp.Regexp
	decoders map[string]Decoder
}

// NewRegistry runs every registration and compiles the resulting patterns.
// A pattern that fails to compile is a programming error and panics.
func NewRegistry(regs ...Registration) *Registry {
	b := &RegistryBuilder{decoders: make(map[string]Decoder)}
	for _, reg := range regs {
		reg(b)
	}
	r := &Registry{
		patterns: make([]*regexp.Regexp, len(b.exprs)),
		decoders: b.decoders,
	}
	for i, expr := range b.exprs {
		r.patterns[i] = regexp.MustCompile(expr)
	}
	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(RegisterSched, RegisterWorkqueue, RegisterTraceMarker)
})

// DefaultRegistry returns the registry with the scheduling, workqueue and
// trace-marker decoders.
func DefaultRegistry() *Registry { return defaultRegistry() }

// Decode returns the details for function, or None when the function has
// no decoder or its payload is malformed.
func (r *Registry) Decode(s *State, function string, details buffer.Window) EventDetails {
	d, ok := r.decoders[function]
	if !ok {
		return None
	}
	ev, ok := d(s, details)
	if !ok {
		return None
	}
	return ev
}

// Has reports whether function has a decoder.
func (r *Registry) Has(function string) bool {
	_, ok := r.decoders[function]
	return ok
}

// Functions lists the decoded function names in sorted order.
func (r *Registry) Functions() []string {
	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State is the scratch space one goroutine uses while parsing. It must not
// be shared between goroutines.
type State struct {
	reg  *Registry
	strs map[string]string
}

// NewState returns a fresh parser state bound to r.
func (r *Registry) NewState() *State {
	return &State{reg: r, strs: make(map[string]string)}
}

// Registry returns the registry the state decodes with.
func (s *State) Registry() *Registry { return s.reg }

// Match runs the pattern in slot against w.
func (s *State) Match(slot Slot, w buffer.Window) (Groups, bool) {
	idx := s.reg.patterns[slot].FindSubmatchIndex(w.Bytes())
	if idx == nil {
		return Groups{}, false
	}
	return Groups{w: w, idx: idx, s: s}, true
}

// intern returns a string equal to b, reusing earlier copies so repeated
// task and function names share one allocation per state.
func (s *State) intern(b []byte) string {
	if v, ok := s.strs[string(b)]; ok {
		return v
	}
	v := string(b)
	s.strs[v] = v
	return v
}

// Groups are the submatches of one pattern match.
type Groups struct {
	w   buffer.Window
	idx []int
	s   *State
}

// Has reports whether group i participated in the match.
func (g Groups) Has(i int) bool { return g.idx[2*i] >= 0 }

// At returns group i as a window; absent groups are empty.
func (g Groups) At(i int) buffer.Window {
	if !g.Has(i) {
		return buffer.Window{}
	}
	return g.w.Slice(g.idx[2*i], g.idx[2*i+1])
}

// Text returns group i as an interned string.
func (g Groups) Text(i int) string { return g.s.intern(g.At(i).Bytes()) }

// Int parses group i as a base-10 integer.
func (g Groups) Int(i int) (int64, bool) { return parseInt(g.At(i).Bytes()) }

// Float parses group i as a decimal number.
func (g Groups) Float(i int) (float64, bool) {
	v, err := strconv.ParseFloat(string(g.At(i).Bytes()), 64)
	return v, err == nil
}

func parseInt(b []byte) (int64, bool) {
	v, err := strconv.ParseInt(string(b), 10, 64)
	return v, err == nil
}

func parseInt32(b []byte) (int32, bool) {
	v, err := strconv.ParseInt(string(b), 10, 32)
	return int32(v), err == nil
}
