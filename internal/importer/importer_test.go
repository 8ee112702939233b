package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/golang/snappy"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dmitriimaksimovdevelop/ftimport/internal/buffer"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/ftrace"
	"github.com/dmitriimaksimovdevelop/ftimport/internal/model"
)

func testdataPath(name string) string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filepath.Dir(filepath.Dir(filename))), "testdata", name)
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(testdataPath(name))
	if err != nil {
		t.Fatalf("read testdata %s: %v", name, err)
	}
	return data
}

func reader(data []byte, chunk, retention int) *buffer.Reader {
	return buffer.NewReader(buffer.NewBytesProducer(data, chunk), retention)
}

func runImport(t *testing.T, cfg Config, data []byte) (*model.Fragment, Stats, *CollectFeedback) {
	t.Helper()
	fb := &CollectFeedback{}
	cfg.Feedback = fb
	f, stats, err := New(cfg).Import(context.Background(), reader(data, 64, 256))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if f == nil {
		t.Fatal("Import returned nil fragment")
	}
	return f, stats, fb
}

type sliceTree struct {
	Name     string
	Children []sliceTree
}

func tree(ss []*model.Slice) []sliceTree {
	var out []sliceTree
	for _, s := range ss {
		out = append(out, sliceTree{Name: s.Name, Children: tree(s.Children)})
	}
	return out
}

// --- Applicability ---

func TestCanImport(t *testing.T) {
	pad := strings.Repeat("x", 990)
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"nop tracer", "# tracer: nop\n#\n", true},
		{"trace-cmd header", "cpus=4\n       trace-cmd-1234  [000] 1.0: foo: bar\n", true},
		{"hello world", "Hello, World!", false},
		{"empty", "", false},
		{"nop without newline", "# tracer: nop", false},
		{"signature ends inside window", pad[:980] + "# tracer: nop\n", true},
		{"signature past window", pad + "# tracer: nop\n", false},
	}
	im := New(DefaultConfig())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, chunk := range []int{3, 64, 4096} {
				r := reader([]byte(tc.data), chunk, 16)
				if got := im.CanImport(r); got != tc.want {
					t.Errorf("chunk %d: CanImport = %v, want %v", chunk, got, tc.want)
				}
			}
		})
	}
}

func TestCanImportBoundedProbe(t *testing.T) {
	data := []byte(strings.Repeat("no signature here\n", 10000))
	r := reader(data, 100, 256)
	if New(DefaultConfig()).CanImport(r) {
		t.Fatal("CanImport = true")
	}
	if end := r.EndIndex(); end > 1100 {
		t.Errorf("sniff pulled %d bytes, want about 1000", end)
	}
}

func TestCanImportKeepsProbedBytes(t *testing.T) {
	data := readTestdata(t, "doframe.trace")
	// Tiny chunks and retention would evict the header while probing
	// without the pin.
	r := reader(data, 8, 16)
	cfg := DefaultConfig()
	fb := &CollectFeedback{}
	cfg.Feedback = fb
	im := New(cfg)
	if !im.CanImport(r) {
		t.Fatal("CanImport = false")
	}
	if r.StartIndex() != 0 {
		t.Fatalf("sniff evicted up to %d", r.StartIndex())
	}
	_, stats, err := im.Import(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 0 || stats.Parsed != 8 || stats.Skipped != 11 {
		t.Errorf("parsed=%d failed=%d skipped=%d, want 8 0 11", stats.Parsed, stats.Failed, stats.Skipped)
	}
}

// --- End to end ---

func TestImportDoFrame(t *testing.T) {
	data := readTestdata(t, "doframe.trace")
	for _, tc := range []struct{ chunk, workers int }{{1, 1}, {2, 3}, {50, 10}} {
		t.Run(fmt.Sprintf("chunk=%d/workers=%d", tc.chunk, tc.workers), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ChunkSize, cfg.Workers = tc.chunk, tc.workers
			f, stats, fb := runImport(t, cfg, data)

			if len(f.Processes) != 1 || f.Processes[0].ID != 6381 {
				t.Fatalf("processes = %+v, want just 6381", f.Processes)
			}
			p := f.Processes[0]
			if len(p.Threads) != 1 {
				t.Fatalf("threads = %d, want 1", len(p.Threads))
			}
			want := []sliceTree{{
				Name: "Choreographer#doFrame",
				Children: []sliceTree{
					{Name: "input"},
					{Name: "traversal", Children: []sliceTree{{Name: "draw"}}},
				},
			}}
			if diff := cmp.Diff(want, tree(p.Threads[0].Slices)); diff != "" {
				t.Errorf("slice tree (-want +got):\n%s", diff)
			}
			if f.HasOpenSlices() || stats.OpenSlices != 0 {
				t.Error("open slices remain")
			}
			if len(fb.Warnings()) != 0 {
				t.Errorf("warnings = %v", fb.Warnings())
			}
			if f.GlobalStartTime != 2654.1 || f.GlobalEndTime != 2654.106 {
				t.Errorf("global range = [%v, %v]", f.GlobalStartTime, f.GlobalEndTime)
			}
			if stats.Score != 8 || stats.Aborted {
				t.Errorf("score = %d aborted = %v", stats.Score, stats.Aborted)
			}
		})
	}
}

func TestImportCounters(t *testing.T) {
	f, _, _ := runImport(t, DefaultConfig(), readTestdata(t, "counters.trace"))

	if len(f.Processes) != 1 {
		t.Fatalf("processes = %d, want 1", len(f.Processes))
	}
	p := f.Process(3691)
	if p == nil {
		t.Fatal("process 3691 missing")
	}
	if p.Thread(3700) == nil || p.Thread(3701) == nil {
		t.Errorf("threads = %+v, want 3700 and 3701", p.Threads)
	}
	if len(p.Counters) != 1 {
		t.Fatalf("counters = %d, want 1", len(p.Counters))
	}
	var values []int64
	for _, s := range p.Counters[0].Samples {
		values = append(values, s.Value)
	}
	if !cmp.Equal(values, []int64{1, 0}) {
		t.Errorf("samples = %v, want [1 0]", values)
	}
}

func TestImportSchedCRLF(t *testing.T) {
	f, stats, _ := runImport(t, DefaultConfig(), readTestdata(t, "sched.trace"))

	if stats.Failed != 0 {
		t.Errorf("failed = %d, want 0", stats.Failed)
	}
	sf := f.Thread(551)
	if sf == nil {
		t.Fatal("thread 551 missing")
	}
	if sf.State != ftrace.StateSleeping {
		t.Errorf("551 state = %v, want SLEEPING", sf.State)
	}
	if rt := f.Thread(6400); rt == nil || rt.State != ftrace.StateWaking {
		t.Errorf("6400 = %+v, want WAKING", rt)
	}
	cpu := f.CPU(0)
	if cpu == nil || len(cpu.Slices) != 1 {
		t.Fatalf("cpu 0 = %+v", cpu)
	}
	if s := cpu.Slices[0]; s.TID != 551 || !s.Closed || s.EndState != ftrace.StateSleeping {
		t.Errorf("cpu slice = %+v", s)
	}
	kw := f.Thread(12)
	if kw == nil || len(kw.Slices) != 1 || kw.Slices[0].Name != "vmstat_update" {
		t.Errorf("kworker slices = %+v", kw)
	}
}

func TestImportBufferRestart(t *testing.T) {
	f, stats, _ := runImport(t, DefaultConfig(), readTestdata(t, "restart.trace"))
	if stats.Restarts != 1 {
		t.Errorf("restarts = %d, want 1", stats.Restarts)
	}
	th := f.Thread(551)
	if th == nil {
		t.Fatal("thread 551 missing")
	}
	if diff := cmp.Diff([]sliceTree{{Name: "kept"}}, tree(th.Slices)); diff != "" {
		t.Errorf("slices (-want +got):\n%s", diff)
	}
	if f.Process(551).Counter("frames") != nil {
		t.Error("counter from before the restart survived")
	}
	if f.GlobalStartTime != 20 {
		t.Errorf("GlobalStartTime = %v, want 20", f.GlobalStartTime)
	}
}

// --- Scoring ---

func garbage(n int) string {
	return strings.Repeat("this is not an ftrace line\n", n)
}

const goodCounter = "   RenderEngine-3700  ( 3691) [000] ...1   100.000000: tracing_mark_write: C|3691|iq|1\n"

func TestImportAbortsOnNoise(t *testing.T) {
	data := "# tracer: nop\n" + strings.Repeat(goodCounter, 3) + garbage(40) + strings.Repeat(goodCounter, 5)
	cfg := DefaultConfig()
	cfg.ChunkSize = 4
	f, stats, fb := runImport(t, cfg, []byte(data))

	if !stats.Aborted {
		t.Fatal("import did not abort")
	}
	// 1 comment, 3 good, then 24 bad lines reach score -21.
	if stats.Lines != 28 || stats.Score != -21 {
		t.Errorf("lines = %d score = %d, want 28 and -21", stats.Lines, stats.Score)
	}
	if got := len(fb.Warnings()); got != 1 {
		t.Errorf("warnings = %v, want exactly one", fb.Warnings())
	}
	p := f.Process(3691)
	if p == nil || len(p.Counter("iq").Samples) != 3 {
		t.Errorf("partial fragment = %+v, want 3 samples", p)
	}
}

func TestImportAbortThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AbortScore = 0
	_, stats, fb := runImport(t, cfg, []byte(garbage(5)))
	if !stats.Aborted || stats.Lines != 1 {
		t.Errorf("aborted = %v after %d lines, want abort on line 1", stats.Aborted, stats.Lines)
	}
	if len(fb.Warnings()) != 1 {
		t.Errorf("warnings = %v", fb.Warnings())
	}
}

func TestNewFillsDefaultsButKeepsAbortScore(t *testing.T) {
	d := DefaultConfig()
	got := New(Config{}).Config()
	if got.ChunkSize != d.ChunkSize || got.Workers != d.Workers || got.Retention != d.Retention || got.SniffBytes != d.SniffBytes {
		t.Errorf("zero config not defaulted: %+v", got)
	}
	if got.Registry == nil || got.Logger == nil || got.Feedback == nil {
		t.Error("zero config left registry, logger or feedback nil")
	}
	if got.AbortScore != 0 {
		t.Errorf("abort score = %d, want 0 as given", got.AbortScore)
	}

	_, stats, _ := runImport(t, Config{}, []byte(garbage(1)+strings.Repeat(goodCounter, 5)))
	if !stats.Aborted || stats.Lines != 1 {
		t.Errorf("aborted = %v after %d lines, want abort on line 1 with a zero threshold", stats.Aborted, stats.Lines)
	}
}

func TestImportNoiseWithinMargin(t *testing.T) {
	data := strings.Repeat(goodCounter, 10) + garbage(30)
	_, stats, fb := runImport(t, DefaultConfig(), []byte(data))
	if stats.Aborted {
		t.Errorf("aborted with score %d", stats.Score)
	}
	if stats.Score != -20 || stats.Failed != 30 {
		t.Errorf("score = %d failed = %d, want -20 and 30", stats.Score, stats.Failed)
	}
	if len(fb.Warnings()) != 0 {
		t.Errorf("warnings = %v", fb.Warnings())
	}
}

func TestImportCommentsAreNeutral(t *testing.T) {
	data := strings.Repeat("# a header comment\n", 100) + goodCounter
	_, stats, _ := runImport(t, DefaultConfig(), []byte(data))
	if stats.Skipped != 100 || stats.Score != 1 {
		t.Errorf("skipped = %d score = %d, want 100 and 1", stats.Skipped, stats.Score)
	}
}

func TestImportOpenSliceWarning(t *testing.T) {
	data := "   surfaceflinger-551   (  551) [000] ...1   10.0: tracing_mark_write: B|551|never ends\n"
	f, stats, fb := runImport(t, DefaultConfig(), []byte(data))
	if !f.HasOpenSlices() || stats.OpenSlices != 1 {
		t.Errorf("open slices = %d, want 1", stats.OpenSlices)
	}
	if w := fb.Warnings(); len(w) != 1 || !strings.Contains(w[0], "open") {
		t.Errorf("warnings = %v", w)
	}
}

// --- Errors and cancellation ---

func TestImportCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, _, err := New(DefaultConfig()).Import(ctx, reader(readTestdata(t, "doframe.trace"), 64, 256))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if f == nil {
		t.Error("canceled import returned nil fragment")
	}
}

func TestImportReadError(t *testing.T) {
	boom := errors.New("device went away")
	src := io.MultiReader(strings.NewReader("# tracer: nop\n"+goodCounter), iotest.ErrReader(boom))
	r := buffer.NewReader(buffer.NewReaderProducer(src, 32), 0)
	f, _, err := New(DefaultConfig()).Import(context.Background(), r)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if f == nil {
		t.Error("nil fragment on read error")
	}
}

func TestImportFile(t *testing.T) {
	im := New(DefaultConfig())

	f, _, err := im.ImportFile(context.Background(), testdataPath("doframe.trace"))
	if err != nil {
		t.Fatal(err)
	}
	if f.Process(6381) == nil {
		t.Error("process 6381 missing")
	}

	notTrace := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(notTrace, []byte("Hello, World!"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := im.ImportFile(context.Background(), notTrace); !errors.Is(err, ErrNotFtrace) {
		t.Errorf("err = %v, want ErrNotFtrace", err)
	}

	if _, _, err := im.ImportFile(context.Background(), filepath.Join(t.TempDir(), "missing.trace")); err == nil {
		t.Error("missing file imported")
	}
}

func TestCanImportFile(t *testing.T) {
	im := New(DefaultConfig())
	notTrace := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(notTrace, []byte("Hello, World!"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path    string
		want    bool
		wantErr bool
	}{
		{testdataPath("doframe.trace"), true, false},
		{testdataPath("counters.trace"), true, false},
		{notTrace, false, false},
		{filepath.Join(t.TempDir(), "missing.trace"), false, true},
	}
	for _, tc := range tests {
		got, err := im.CanImportFile(tc.path)
		if (err != nil) != tc.wantErr {
			t.Errorf("CanImportFile(%s) err = %v", filepath.Base(tc.path), err)
			continue
		}
		if got != tc.want {
			t.Errorf("CanImportFile(%s) = %v, want %v", filepath.Base(tc.path), got, tc.want)
		}
	}
}

func TestImportFileSnappy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters.trace.sz")
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := snappy.NewBufferedWriter(out)
	if _, err := w.Write(readTestdata(t, "counters.trace")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	f, stats, err := New(DefaultConfig()).ImportFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Parsed != 2 || f.Process(3691) == nil {
		t.Errorf("parsed = %d processes = %+v", stats.Parsed, f.Processes)
	}
}

// --- Metrics ---

func TestImportMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Metrics = NewMetrics(reg)
	cfg.Feedback = &CollectFeedback{}
	im := New(cfg)

	data := "# tracer: nop\n" + goodCounter + garbage(2)
	if _, _, err := im.Import(context.Background(), reader([]byte(data), 16, 32)); err != nil {
		t.Fatal(err)
	}

	m := cfg.Metrics
	if got := testutil.ToFloat64(m.lines.WithLabelValues("parsed")); got != 1 {
		t.Errorf("parsed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.lines.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lines.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.imports.WithLabelValues(OutcomeOK)); got != 1 {
		t.Errorf("ok imports = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.evicted); got <= 0 {
		t.Errorf("evicted bytes = %v, want > 0", got)
	}

	// A second set on the same registry shares the collectors.
	again := NewMetrics(reg)
	if again.lines != m.lines {
		t.Error("re-registration created new collectors")
	}
}
