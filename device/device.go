package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
)

// Device errors.
var (
	// ErrBufferNotFound is returned when an operation references a buffer
	// the device does not own (never created or already destroyed).
	ErrBufferNotFound = errors.New("device: buffer not found")

	// ErrBufferKind is returned when a grid is passed where a scalar is
	// expected, or the other way around.
	ErrBufferKind = errors.New("device: wrong buffer kind")

	// ErrInvalidGrid is returned for grids too small to have an interior
	// or with more than MaxGridCells cells.
	ErrInvalidGrid = errors.New("device: invalid grid")

	// ErrInvalidLaunch is returned for launches whose row range leaves the
	// interior or whose grids differ in shape.
	ErrInvalidLaunch = errors.New("device: invalid launch")

	// ErrDeviceClosed is returned when operating on a closed device.
	ErrDeviceClosed = errors.New("device: closed")

	// ErrNotAvailable is returned when a device cannot be opened on this
	// machine (no adapter, backend compiled out).
	ErrNotAvailable = errors.New("device: not available")
)

// BufferID is an opaque handle to a device-resident buffer.
type BufferID uint64

// InvalidID is the zero value, representing a null buffer.
const InvalidID BufferID = 0

// Launch describes one stencil-and-reduce kernel launch.
//
// The kernel reads Cur, writes Next for rows IYStart <= iy < IYEnd and
// columns 1 <= ix <= nx-2, duplicates the first and last computed rows into
// the periodic ghost rows IYEnd and IYStart-1, and atomically adds the sum
// of squared residuals into the scalar Norm.
type Launch struct {
	Next    BufferID
	Cur     BufferID
	Norm    BufferID
	IYStart int
	IYEnd   int
}

// Info describes an opened device.
type Info struct {
	// Name is the registry name ("software", "wgpu").
	Name string

	// Adapter is a human-readable adapter description.
	Adapter string

	// Precision is the width in bits of the device-side real type.
	Precision int

	// GroupSize is the execution group (block/workgroup) shape used by the
	// stencil kernel, in cells.
	GroupSize [2]int
}

// Device is an accelerator capable of running the Jacobi pipeline.
//
// Buffers are created zero-filled. All methods must be safe for concurrent
// use from different goroutines, but the caller guarantees that two
// operations touching the same buffer are never in flight at once unless
// both only read it.
type Device interface {
	// Info returns a description of the device.
	Info() Info

	// CreateGrid allocates a zeroed nx*ny real array.
	CreateGrid(nx, ny int) (BufferID, error)

	// CreateScalar allocates a zeroed accumulator.
	CreateScalar() (BufferID, error)

	// DestroyBuffer releases a buffer. Unknown IDs are ignored.
	DestroyBuffer(id BufferID)

	// InitBoundaries zeroes both grids and writes the Dirichlet values
	// sin(2*pi*iy/(ny-1)) into the first and last column of every row.
	InitBoundaries(a, b BufferID) error

	// Jacobi runs one stencil-and-reduce kernel to completion.
	Jacobi(ctx context.Context, l Launch) error

	// ReadScalar copies an accumulator to host memory.
	ReadScalar(id BufferID) (float64, error)

	// ClearScalar zeroes an accumulator.
	ClearScalar(id BufferID) error

	// ReadGrid copies a grid to host memory. dst must hold nx*ny values.
	ReadGrid(id BufferID, dst []float64) error

	// Close releases every buffer and the device itself.
	Close() error
}

// Error describes a failed device operation.
type Error struct {
	// Op is the device operation that failed ("create grid", "jacobi").
	Op string

	// Device is the device name.
	Device string

	// Where is the source location that issued the operation.
	Where string

	// Err is the device-reported error.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s failed at %s: %v", e.Device, e.Op, e.Where, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap annotates err with the operation name, the device name and the
// location of Wrap's caller. It returns nil when err is nil.
func Wrap(dev Device, op string, err error) error {
	if err == nil {
		return nil
	}
	name := "unknown"
	if dev != nil {
		name = dev.Info().Name
	}
	where := "?"
	if _, file, line, ok := runtime.Caller(1); ok {
		where = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return &Error{Op: op, Device: name, Where: where, Err: err}
}

// MaxGridCells is the largest nx*ny a device accepts. Kernels index cells
// with 32-bit integers.
const MaxGridCells = math.MaxInt32

// CheckGrid validates grid dimensions: both at least 3, and a cell count
// that neither overflows int nor exceeds MaxGridCells.
func CheckGrid(nx, ny int) error {
	if nx < 3 || ny < 3 {
		return fmt.Errorf("%w: got %dx%d, need at least 3x3", ErrInvalidGrid, nx, ny)
	}
	if nx > MaxGridCells/ny {
		return fmt.Errorf("%w: %dx%d exceeds %d cells", ErrInvalidGrid, nx, ny, MaxGridCells)
	}
	return nil
}

// CheckLaunch validates l against two grids of the given shapes.
func CheckLaunch(l Launch, nextNX, nextNY, curNX, curNY int) error {
	if nextNX != curNX || nextNY != curNY {
		return fmt.Errorf("%w: grid shapes differ (%dx%d vs %dx%d)", ErrInvalidLaunch, nextNX, nextNY, curNX, curNY)
	}
	if l.IYStart < 1 || l.IYEnd > curNY-1 || l.IYStart > l.IYEnd {
		return fmt.Errorf("%w: rows [%d, %d) outside interior of %d rows", ErrInvalidLaunch, l.IYStart, l.IYEnd, curNY)
	}
	return nil
}
