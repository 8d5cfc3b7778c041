package jacobi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/jacobi/device"
	"github.com/gogpu/jacobi/internal/stream"
)

// StreamStats and MarkerStats are the command stream counters.
type (
	StreamStats = stream.Stats
	MarkerStats = stream.MarkerStats
)

// Stats describes the command traffic of the last run.
type Stats struct {
	Compute StreamStats
	Copy    StreamStats
	Reset   StreamStats

	ComputeDone MarkerStats
	CopyDone    [2]MarkerStats
	ResetDone   [2]MarkerStats
}

// Result is the outcome of a run.
type Result struct {
	// RunID identifies the run in logs, reports and monitor frames.
	RunID uuid.UUID

	// NX and NY are the grid dimensions.
	NX, NY int

	// Iterations is the number of kernels launched.
	Iterations int

	// Norm is the last evaluated L2 norm. It lags the final grid by one
	// iteration.
	Norm float64

	// Converged reports whether Norm reached the tolerance.
	Converged bool

	// Elapsed is the wall time from the first launch to the final device
	// synchronize.
	Elapsed time.Duration

	// Device describes the device the run used.
	Device device.Info
}

// gridPair is the ping-pong pair of device grids. cur is read by the next
// launch; swapping flips the index and copies nothing.
type gridPair struct {
	ids [2]device.BufferID
	cur int
}

func (g *gridPair) current() device.BufferID { return g.ids[g.cur] }
func (g *gridPair) next() device.BufferID    { return g.ids[1-g.cur] }
func (g *gridPair) swap()                    { g.cur = 1 - g.cur }

// Solver runs Jacobi relaxation on one device with an overlapped
// convergence check.
//
// Each iteration launches the stencil kernel on the compute stream, copies
// the residual of that launch to the host on the copy stream and evaluates
// the residual of the previous launch, so the host never waits for the
// kernel it just launched. Two norm slots alternate by iteration parity;
// the reset stream zeroes a slot after the host has read it and before the
// compute stream writes it again.
//
// Thread safety: Run must not be called concurrently with itself or Close.
// Stats and Info may be called at any time.
type Solver struct {
	cfg      Config
	dev      device.Device
	ownsDev  bool
	reporter Reporter

	grids gridPair
	slots [2]*normSlot

	// mu guards the run state read by Stats.
	mu          sync.Mutex
	computeDone *stream.Marker
	streams     [3]*stream.Stream // compute, copy, reset
	closed      bool
}

// New validates cfg, opens a device and allocates the grids and norm
// slots. Configuration errors are reported before any device is opened.
func New(cfg Config, opts ...Option) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &Solver{cfg: cfg, reporter: o.reporter}
	if o.device != nil {
		s.dev = o.device
	} else {
		d, err := openDevice(cfg)
		if err != nil {
			return nil, fmt.Errorf("jacobi: open device: %w", err)
		}
		s.dev = d
		s.ownsDev = true
	}
	propagateLogger(s.dev, Logger())

	if err := s.allocate(); err != nil {
		_ = s.Close()
		return nil, err
	}

	info := s.dev.Info()
	Logger().Info("jacobi: solver ready",
		"device", info.Name, "adapter", info.Adapter, "precision", info.Precision,
		"nx", cfg.NX, "ny", cfg.NY)
	return s, nil
}

func (s *Solver) allocate() error {
	for i := range s.grids.ids {
		id, err := s.dev.CreateGrid(s.cfg.NX, s.cfg.NY)
		if err != nil {
			return device.Wrap(s.dev, "create grid", err)
		}
		s.grids.ids[i] = id
	}
	for i := range s.slots {
		slot, err := newNormSlot(s.dev, i)
		if err != nil {
			return err
		}
		s.slots[i] = slot
	}
	return nil
}

// Config returns the solver configuration.
func (s *Solver) Config() Config { return s.cfg }

// Info describes the device the solver runs on.
func (s *Solver) Info() device.Info { return s.dev.Info() }

// prepare resets grids and slots to the initial state of a run.
func (s *Solver) prepare() error {
	s.grids.cur = 0
	if err := device.Wrap(s.dev, "init boundaries",
		s.dev.InitBoundaries(s.grids.ids[0], s.grids.ids[1])); err != nil {
		return err
	}
	for _, slot := range s.slots {
		if err := slot.clear(s.dev); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		slot.rearm()
	}
	return nil
}

// Run solves until the lagged norm reaches the tolerance or IterMax
// iterations have been launched. Device errors are fatal: the first one
// stops the run and is returned as a *DeviceError.
//
// Cancelling ctx aborts the run and returns ctx.Err().
func (s *Solver) Run(ctx context.Context) (res *Result, err error) {
	if s.isClosed() {
		return nil, ErrSolverClosed
	}
	if err := s.prepare(); err != nil {
		return nil, err
	}

	res = &Result{
		RunID:  uuid.New(),
		NX:     s.cfg.NX,
		NY:     s.cfg.NY,
		Device: s.dev.Info(),
	}
	log := Logger().With("run", res.RunID.String())
	if s.reporter != nil {
		s.reporter.Start(RunInfo{
			RunID:   res.RunID,
			NX:      s.cfg.NX,
			NY:      s.cfg.NY,
			IterMax: s.cfg.IterMax,
			NCCheck: s.cfg.NCCheck,
			Device:  res.Device,
		})
	}

	iter := 0
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	compute, copyStream, resetStream := s.startStreams(runCtx)
	defer func() {
		if err != nil {
			cancel()
		}
		if cerr := s.closeStreams(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			log.Error("jacobi: run failed", "iter", iter, "err", err)
			res = nil
		}
	}()

	log.Info("jacobi: run started", "iter_max", s.cfg.IterMax, "tol", s.cfg.Tolerance)
	monitor := Monitor{Tolerance: s.cfg.Tolerance}
	iyStart, iyEnd := s.cfg.interior()
	norm := 1.0
	more := norm > s.cfg.Tolerance
	start := time.Now()

	for more && iter < s.cfg.IterMax {
		if err := runCtx.Err(); err != nil {
			return nil, err
		}
		curr, prev := s.slots[(iter+1)%2], s.slots[iter%2]

		// The slot this launch accumulates into must be reset first.
		if err := compute.WaitMarker(runCtx, curr.resetDone); err != nil {
			return nil, err
		}
		launch := device.Launch{
			Next:    s.grids.next(),
			Cur:     s.grids.current(),
			Norm:    curr.id,
			IYStart: iyStart,
			IYEnd:   iyEnd,
		}
		err := compute.Enqueue(runCtx, "jacobi", func(ctx context.Context) error {
			return device.Wrap(s.dev, "jacobi", s.dev.Jacobi(ctx, launch))
		})
		if err != nil {
			return nil, err
		}
		if err := s.computeDone.Record(runCtx, compute); err != nil {
			return nil, err
		}

		if err := curr.enqueueCopy(runCtx, s.dev, copyStream, s.computeDone); err != nil {
			return nil, err
		}

		// The one host stall per iteration: the residual of the previous
		// launch.
		if err := s.waitCopy(runCtx, prev); err != nil {
			return nil, err
		}
		norm, more = monitor.Evaluate(prev.host)
		if s.reporter != nil {
			s.reporter.Progress(iter, norm)
		}
		log.Debug("jacobi: iteration", "iter", iter, "slot", prev.index, "norm", norm)

		if err := prev.reset(runCtx, s.dev, resetStream); err != nil {
			return nil, err
		}
		s.grids.swap()
		iter++
	}

	// Final synchronize before the timer stops.
	for _, st := range s.streams {
		if err := st.Synchronize(runCtx); err != nil {
			return nil, err
		}
	}
	res.Elapsed = time.Since(start)
	res.Iterations = iter
	res.Norm = norm
	res.Converged = norm <= s.cfg.Tolerance

	log.Info("jacobi: run finished",
		"iterations", res.Iterations, "norm", res.Norm,
		"converged", res.Converged, "elapsed", res.Elapsed)
	if s.reporter != nil {
		s.reporter.Finish(res)
	}
	return res, nil
}

// waitCopy waits for slot's host mirror, bounded by Config.WaitTimeout.
func (s *Solver) waitCopy(ctx context.Context, slot *normSlot) error {
	if s.cfg.WaitTimeout <= 0 {
		return slot.waitCopy(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WaitTimeout)
	defer cancel()
	err := slot.waitCopy(wctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: slot %d copy after %v", ErrWaitTimeout, slot.index, s.cfg.WaitTimeout)
	}
	return err
}

func (s *Solver) startStreams(ctx context.Context) (compute, copyStream, resetStream *stream.Stream) {
	compute = stream.New(ctx, "compute", s.cfg.StreamDepth)
	copyStream = stream.New(ctx, "copy", s.cfg.StreamDepth)
	resetStream = stream.New(ctx, "reset", s.cfg.StreamDepth)

	s.mu.Lock()
	s.streams = [3]*stream.Stream{compute, copyStream, resetStream}
	s.computeDone = stream.NewMarker("compute_done")
	s.mu.Unlock()
	return compute, copyStream, resetStream
}

// closeStreams drains and stops the streams of the current run. The
// streams stay readable for Stats.
func (s *Solver) closeStreams() error {
	s.mu.Lock()
	streams := s.streams
	s.mu.Unlock()

	var errs []error
	for _, st := range streams {
		if st != nil {
			errs = append(errs, st.Close())
		}
	}
	return errors.Join(errs...)
}

// Stats returns stream and marker counters of the current or last run.
func (s *Solver) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	if s.streams[0] != nil {
		st.Compute = s.streams[0].Stats()
		st.Copy = s.streams[1].Stats()
		st.Reset = s.streams[2].Stats()
	}
	if s.computeDone != nil {
		st.ComputeDone = s.computeDone.Stats()
	}
	for i, slot := range s.slots {
		if slot != nil {
			st.CopyDone[i] = slot.copyDone.Stats()
			st.ResetDone[i] = slot.resetDone.Stats()
		}
	}
	return st
}

// ReadGrid copies the most recently written grid into dst, which must hold
// NX*NY values.
func (s *Solver) ReadGrid(dst []float64) error {
	if s.isClosed() {
		return ErrSolverClosed
	}
	return device.Wrap(s.dev, "read grid", s.dev.ReadGrid(s.grids.current(), dst))
}

// Grid returns a copy of the most recently written grid.
func (s *Solver) Grid() ([]float64, error) {
	dst := make([]float64, s.cfg.NX*s.cfg.NY)
	if err := s.ReadGrid(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func (s *Solver) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the grids and norm slots, and the device if the solver
// opened it. Close is safe to call multiple times.
func (s *Solver) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.dev == nil {
		return nil
	}
	for _, id := range s.grids.ids {
		if id != device.InvalidID {
			s.dev.DestroyBuffer(id)
		}
	}
	for _, slot := range s.slots {
		if slot != nil {
			s.dev.DestroyBuffer(slot.id)
		}
	}
	if s.ownsDev {
		return s.dev.Close()
	}
	return nil
}
