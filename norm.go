package jacobi

import (
	"context"
	"fmt"
	"math"

	"github.com/gogpu/jacobi/device"
	"github.com/gogpu/jacobi/internal/stream"
)

// Monitor decides convergence from a residual sum.
type Monitor struct {
	Tolerance float64
}

// Evaluate returns the L2 norm sqrt(sum) and whether iteration should
// continue (norm > Tolerance). A NaN norm stops the run.
func (m Monitor) Evaluate(sum float64) (norm float64, more bool) {
	norm = math.Sqrt(sum)
	return norm, norm > m.Tolerance
}

// normSlot is one of the two convergence buffers. Slot k%2 receives the
// residual of the kernel launched at iteration k-1.
//
// Fields are not locked: the marker graph orders every access. The copy
// stream writes host only after computeDone; the host reads host only
// after copyDone; the reset stream zeroes the accumulator only after the
// host has read it; the compute stream writes the accumulator only after
// resetDone.
type normSlot struct {
	index int
	id    device.BufferID // device accumulator

	// host is the host-visible mirror of the accumulator.
	host float64

	copyDone  *stream.Marker
	resetDone *stream.Marker
}

func newNormSlot(dev device.Device, index int) (*normSlot, error) {
	id, err := dev.CreateScalar()
	if err != nil {
		return nil, device.Wrap(dev, "create norm slot", err)
	}
	s := &normSlot{index: index, id: id}
	s.rearm()
	return s, nil
}

// rearm prepares the slot for a new run: fresh markers, and a host mirror
// of 1 so the first lagged check, which reads a slot no kernel wrote yet,
// never reports convergence.
func (s *normSlot) rearm() {
	s.host = 1
	s.copyDone = stream.NewMarker(fmt.Sprintf("slot%d_copy_done", s.index))
	s.resetDone = stream.NewMarker(fmt.Sprintf("slot%d_reset_done", s.index))
}

// clear zeroes the device accumulator synchronously.
func (s *normSlot) clear(dev device.Device) error {
	return device.Wrap(dev, "clear norm slot", dev.ClearScalar(s.id))
}

// enqueueCopy orders a copy of the accumulator into the host mirror after
// computeDone, and records copyDone behind it.
func (s *normSlot) enqueueCopy(ctx context.Context, dev device.Device, copyStream *stream.Stream, computeDone *stream.Marker) error {
	if err := copyStream.WaitMarker(ctx, computeDone); err != nil {
		return err
	}
	err := copyStream.Enqueue(ctx, "copy norm", func(context.Context) error {
		v, err := dev.ReadScalar(s.id)
		if err != nil {
			return device.Wrap(dev, "read norm", err)
		}
		s.host = v
		return nil
	})
	if err != nil {
		return err
	}
	return s.copyDone.Record(ctx, copyStream)
}

// waitCopy blocks until the most recent copy into the host mirror is
// complete. A slot that was never copied is complete.
func (s *normSlot) waitCopy(ctx context.Context) error {
	return s.copyDone.Synchronize(ctx)
}

// reset zeroes the host mirror now and the device accumulator on
// resetStream, then records resetDone. Calling reset twice in a row leaves
// the slot in the same state as calling it once.
func (s *normSlot) reset(ctx context.Context, dev device.Device, resetStream *stream.Stream) error {
	s.host = 0
	err := resetStream.Enqueue(ctx, "reset norm", func(context.Context) error {
		return s.clear(dev)
	})
	if err != nil {
		return err
	}
	return s.resetDone.Record(ctx, resetStream)
}
