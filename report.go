package jacobi

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/gogpu/jacobi/device"
)

// RunInfo describes a run about to start.
type RunInfo struct {
	RunID   uuid.UUID
	NX, NY  int
	IterMax int
	NCCheck int
	Device  device.Info
}

// Reporter receives the progress of a run. Progress is called on the
// solver goroutine once per iteration with the lagged norm, so
// implementations should return quickly.
type Reporter interface {
	Start(info RunInfo)
	Progress(iter int, norm float64)
	Finish(res *Result)
}

// TextReporter writes the human-readable benchmark output: a header, the
// norm every ProgressInterval iterations and the elapsed time.
type TextReporter struct {
	w io.Writer
}

// NewTextReporter returns a TextReporter writing to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

// Start prints the header.
func (r *TextReporter) Start(info RunInfo) {
	fmt.Fprintf(r.w, "Jacobi relaxation: %d iterations on %d x %d mesh with norm check every %d iterations\n",
		info.IterMax, info.NY, info.NX, info.NCCheck)
}

// Progress prints the norm on every ProgressInterval-th iteration.
func (r *TextReporter) Progress(iter int, norm float64) {
	if iter%ProgressInterval == 0 {
		fmt.Fprintf(r.w, "%5d, %0.6f\n", iter, norm)
	}
}

// Finish prints the elapsed time.
func (r *TextReporter) Finish(res *Result) {
	fmt.Fprintf(r.w, "%dx%d: 1 GPU: %8.4f s\n", res.NY, res.NX, res.Elapsed.Seconds())
}

// CSVMode is the mode column of CSV records.
const CSVMode = "single_gpu"

// CSVReporter writes one machine-readable record per run:
// mode, nx, ny, iter_max, nccheck, elapsed seconds.
type CSVReporter struct {
	w    io.Writer
	info RunInfo
}

// NewCSVReporter returns a CSVReporter writing to w.
func NewCSVReporter(w io.Writer) *CSVReporter {
	return &CSVReporter{w: w}
}

// Start remembers the run parameters.
func (r *CSVReporter) Start(info RunInfo) { r.info = info }

// Progress does nothing; CSV output has no progress lines.
func (r *CSVReporter) Progress(int, float64) {}

// Finish writes the record.
func (r *CSVReporter) Finish(res *Result) {
	fmt.Fprintf(r.w, "%s, %d, %d, %d, %d, %f\n",
		CSVMode, r.info.NX, r.info.NY, r.info.IterMax, r.info.NCCheck, res.Elapsed.Seconds())
}

type multiReporter []Reporter

// MultiReporter returns a Reporter that forwards to every non-nil r in
// order.
func MultiReporter(rs ...Reporter) Reporter {
	out := make(multiReporter, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiReporter) Start(info RunInfo) {
	for _, r := range m {
		r.Start(info)
	}
}

func (m multiReporter) Progress(iter int, norm float64) {
	for _, r := range m {
		r.Progress(iter, norm)
	}
}

func (m multiReporter) Finish(res *Result) {
	for _, r := range m {
		r.Finish(res)
	}
}
