package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// MarkerStats counts marker traffic.
//
// Records and Signals always end up equal once the recording stream has
// drained. Waits counts only waits that had something to wait for; a wait
// on a never-recorded marker is free and not counted.
type MarkerStats struct {
	Records uint64
	Signals uint64
	Waits   uint64
}

// Marker is a reusable completion marker.
//
// A marker is created once and re-recorded as often as needed. Each Record
// bumps its generation; the marker is complete for generation g once the
// signal enqueued by the g-th Record has executed.
type Marker struct {
	name string

	mu       sync.Mutex
	recorded uint64
	done     uint64
	err      error
	changed  chan struct{} // closed and replaced on every signal

	records atomic.Uint64
	signals atomic.Uint64
	waits   atomic.Uint64
}

// NewMarker creates an unrecorded marker.
func NewMarker(name string) *Marker {
	return &Marker{name: name, changed: make(chan struct{})}
}

// Name returns the marker name.
func (m *Marker) Name() string { return m.name }

// Record enqueues a signal on s. The marker completes, for this record,
// once every operation enqueued on s before the call has finished.
func (m *Marker) Record(ctx context.Context, s *Stream) error {
	m.mu.Lock()
	m.recorded++
	gen := m.recorded
	m.mu.Unlock()
	m.records.Add(1)

	err := s.enqueue(ctx, task{
		name:   "record " + m.name,
		always: true,
		op: func(context.Context) error {
			m.signal(gen, s.Err())
			return nil
		},
	})
	if err != nil {
		// Nobody will ever run the signal: release waiters with the error.
		m.signal(gen, err)
	}
	return err
}

func (m *Marker) signal(gen uint64, err error) {
	m.mu.Lock()
	if gen > m.done {
		m.done = gen
	}
	if err != nil && m.err == nil {
		m.err = err
	}
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
	m.signals.Add(1)
}

func (m *Marker) recordedGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorded
}

func (m *Marker) wait(ctx context.Context, target uint64) error {
	if target == 0 {
		return nil
	}
	m.waits.Add(1)

	for {
		m.mu.Lock()
		if m.done >= target {
			err := m.err
			m.mu.Unlock()
			return err
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Synchronize blocks the calling goroutine until the most recent Record has
// been signaled. It returns the error carried by the marker, if the
// recording stream failed.
func (m *Marker) Synchronize(ctx context.Context) error {
	return m.wait(ctx, m.recordedGen())
}

// Query reports whether the most recent Record has been signaled.
func (m *Marker) Query() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done >= m.recorded
}

// Generation returns the number of records so far.
func (m *Marker) Generation() uint64 { return m.recordedGen() }

// Stats returns traffic counters.
func (m *Marker) Stats() MarkerStats {
	return MarkerStats{
		Records: m.records.Load(),
		Signals: m.signals.Load(),
		Waits:   m.waits.Load(),
	}
}
