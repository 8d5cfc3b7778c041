package jacobi

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTextReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)

	r.Start(RunInfo{RunID: uuid.New(), NX: 8, NY: 8, IterMax: 1000, NCCheck: 1})
	for iter := range 250 {
		r.Progress(iter, 1/float64(iter+1))
	}
	r.Finish(&Result{NX: 8, NY: 8, Elapsed: 1500 * time.Millisecond})

	want := "Jacobi relaxation: 1000 iterations on 8 x 8 mesh with norm check every 1 iterations\n" +
		"    0, 1.000000\n" +
		"  100, 0.009901\n" +
		"  200, 0.004975\n" +
		"8x8: 1 GPU:   1.5000 s\n"
	if got := buf.String(); got != want {
		t.Errorf("output:\n%s\nwant:\n%s", got, want)
	}
}

func TestTextReporter_CountsUngrouped(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)
	r.Start(RunInfo{NX: 7168, NY: 7168, IterMax: 10000, NCCheck: 1})

	want := "Jacobi relaxation: 10000 iterations on 7168 x 7168 mesh with norm check every 1 iterations\n"
	if got := buf.String(); got != want {
		t.Errorf("header = %q, want %q", got, want)
	}
}

func TestTextReporter_HeaderOrder(t *testing.T) {
	var buf bytes.Buffer
	r := NewTextReporter(&buf)
	r.Start(RunInfo{NX: 64, NY: 32, IterMax: 10, NCCheck: 1})
	r.Finish(&Result{NX: 64, NY: 32})

	out := buf.String()
	if !strings.Contains(out, "on 32 x 64 mesh") {
		t.Errorf("header should list ny before nx: %q", out)
	}
	if !strings.HasSuffix(out, "32x64: 1 GPU:   0.0000 s\n") {
		t.Errorf("final line should list ny before nx: %q", out)
	}
}

func TestCSVReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewCSVReporter(&buf)

	r.Start(RunInfo{NX: 7168, NY: 512, IterMax: 1000, NCCheck: 1})
	for iter := range 300 {
		r.Progress(iter, 1)
	}
	r.Finish(&Result{Elapsed: 2 * time.Second})

	want := "single_gpu, 7168, 512, 1000, 1, 2.000000\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestMultiReporter(t *testing.T) {
	a, b := &recordingReporter{}, &recordingReporter{}
	r := MultiReporter(a, nil, b)

	info := RunInfo{RunID: uuid.New(), NX: 3, NY: 4}
	res := &Result{RunID: info.RunID}
	r.Start(info)
	r.Progress(0, 1)
	r.Progress(1, 0.5)
	r.Finish(res)

	for i, rec := range []*recordingReporter{a, b} {
		if rec.info != info || rec.result != res {
			t.Errorf("reporter %d missed start or finish", i)
		}
		if len(rec.norms) != 2 || rec.norms[1] != 0.5 {
			t.Errorf("reporter %d norms = %v", i, rec.norms)
		}
	}
}

func TestSolverReportsThroughRun(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSolver(t, softwareConfig(8, 8, 1), WithReporter(NewTextReporter(&buf)))
	if _, err := s.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header, one progress line and the timing:\n%s", len(lines), buf.String())
	}
	if lines[0] != "Jacobi relaxation: 1 iterations on 8 x 8 mesh with norm check every 1 iterations" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "    0, 1.000000" {
		t.Errorf("progress = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "8x8: 1 GPU: ") {
		t.Errorf("timing = %q", lines[2])
	}
}
