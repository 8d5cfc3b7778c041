package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when enqueueing on a closed stream.
var ErrClosed = errors.New("stream: closed")

// DefaultDepth is the queue capacity used when New is given depth <= 0.
const DefaultDepth = 64

// Op is one unit of work executed on a stream.
type Op func(ctx context.Context) error

type task struct {
	name string
	op   Op

	// always marks tasks that run even after the stream failed.
	always bool
}

// Stats reports how many operations a stream ran.
type Stats struct {
	Executed uint64
	Skipped  uint64
}

// Stream is an ordered queue of asynchronous operations.
//
// Operations enqueued on one stream execute in FIFO order, one at a time,
// on the stream's own goroutine. Enqueue never waits for an operation to
// run; it only blocks when the queue is full.
//
// Thread safety: Stream is safe for concurrent use.
type Stream struct {
	name  string
	ctx   context.Context
	tasks chan task
	done  chan struct{}

	// mu guards closed and the close of tasks.
	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error

	executed atomic.Uint64
	skipped  atomic.Uint64
}

// New starts a stream. Operations receive ctx; cancelling it fails any
// operation that is blocked waiting on a marker.
func New(ctx context.Context, name string, depth int) *Stream {
	if depth <= 0 {
		depth = DefaultDepth
	}
	s := &Stream{
		name:  name,
		ctx:   ctx,
		tasks: make(chan task, depth),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

func (s *Stream) run() {
	defer close(s.done)

	for t := range s.tasks {
		if s.Err() != nil && !t.always {
			s.skipped.Add(1)
			continue
		}
		if err := t.op(s.ctx); err != nil {
			s.fail(fmt.Errorf("%s: %s: %w", s.name, t.name, err))
		}
		s.executed.Add(1)
	}
}

func (s *Stream) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
		slogger().Error("stream: operation failed", "stream", s.name, "err", err)
	}
}

// Err returns the first error an operation on this stream returned.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Enqueue appends op to the stream. It returns ErrClosed after Close, or
// ctx.Err() if ctx ends while the queue is full.
func (s *Stream) Enqueue(ctx context.Context, name string, op Op) error {
	return s.enqueue(ctx, task{name: name, op: op})
}

func (s *Stream) enqueue(ctx context.Context, t task) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("%w: %s", ErrClosed, s.name)
	}
	select {
	case s.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitMarker makes every operation enqueued on s after this call wait until
// the marker's most recent Record has been signaled. The generation is
// captured now, so later records of m do not affect this wait.
func (s *Stream) WaitMarker(ctx context.Context, m *Marker) error {
	target := m.recordedGen()
	return s.enqueue(ctx, task{
		name: "wait " + m.name,
		op: func(ctx context.Context) error {
			return m.wait(ctx, target)
		},
	})
}

// Synchronize blocks until everything enqueued on s so far has finished and
// returns the stream's sticky error, if any.
func (s *Stream) Synchronize(ctx context.Context) error {
	m := NewMarker(s.name + "_sync")
	if err := m.Record(ctx, s); err != nil {
		return err
	}
	if err := m.Synchronize(ctx); err != nil {
		return err
	}
	return s.Err()
}

// Stats returns execution counters.
func (s *Stream) Stats() Stats {
	return Stats{Executed: s.executed.Load(), Skipped: s.skipped.Load()}
}

// Close stops accepting work, waits for queued operations to drain and
// returns the stream's sticky error. Close is safe to call multiple times.
func (s *Stream) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
	s.mu.Unlock()

	<-s.done
	return s.Err()
}
