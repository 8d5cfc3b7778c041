package jacobi

import (
	"errors"

	"github.com/gogpu/jacobi/device"
)

// Common errors returned by the solver.
var (
	// ErrUnsupportedCheckInterval is returned when the norm check interval
	// is anything but 1. The pipeline checks the lagged norm every
	// iteration.
	ErrUnsupportedCheckInterval = errors.New("jacobi: only nccheck = 1 is supported")

	// ErrInvalidConfig is returned for iteration counts, tolerances or
	// timeouts that make no sense.
	ErrInvalidConfig = errors.New("jacobi: invalid configuration")

	// ErrWaitTimeout is returned when the host waits longer than
	// Config.WaitTimeout for a norm copy to complete.
	ErrWaitTimeout = errors.New("jacobi: timed out waiting for the device")

	// ErrSolverClosed is returned when running a closed solver.
	ErrSolverClosed = errors.New("jacobi: solver is closed")

	// ErrVerificationFailed is returned by Verify when the device grid
	// differs from the host reference.
	ErrVerificationFailed = errors.New("jacobi: verification failed")
)

// DeviceError describes a failed device operation: the operation, the
// device, the source location that issued it and the device message.
type DeviceError = device.Error
