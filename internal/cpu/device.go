package cpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/jacobi/device"
)

// grid is a device-resident nx*ny array.
type grid struct {
	nx, ny int
	data   []float64
}

// Device is the software device.
//
// Thread Safety: Device is safe for concurrent use. Buffer bookkeeping is
// protected by a mutex; buffer contents are not, callers order access to
// them (see device.Device).
type Device struct {
	mu      sync.RWMutex
	grids   map[device.BufferID]*grid
	scalars map[device.BufferID]*AtomicFloat64
	closed  bool

	pool   *Pool
	nextID atomic.Uint64

	launches atomic.Uint64
}

var _ device.Device = (*Device)(nil)

// New creates a software device with opts.Workers compute goroutines.
func New(opts device.Options) *Device {
	d := &Device{
		grids:   make(map[device.BufferID]*grid),
		scalars: make(map[device.BufferID]*AtomicFloat64),
		pool:    NewPool(opts.Workers),
	}
	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)
	slogger().Debug("cpu: device opened", "workers", d.pool.Workers())
	return d
}

// Open is the registry factory for the software device.
func Open(opts device.Options) (device.Device, error) {
	return New(opts), nil
}

func (d *Device) newID() device.BufferID {
	return device.BufferID(d.nextID.Add(1) - 1)
}

// Info implements device.Device.
func (d *Device) Info() device.Info {
	return device.Info{
		Name:      device.NameSoftware,
		Adapter:   fmt.Sprintf("host (%d workers)", d.pool.Workers()),
		Precision: 64,
		GroupSize: [2]int{BlockX, BlockY},
	}
}

// SetLogger sets the logger for the software device.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// Launches returns the number of stencil kernels executed.
func (d *Device) Launches() uint64 { return d.launches.Load() }

// CreateGrid implements device.Device.
func (d *Device) CreateGrid(nx, ny int) (device.BufferID, error) {
	if err := device.CheckGrid(nx, ny); err != nil {
		return device.InvalidID, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.InvalidID, device.ErrDeviceClosed
	}
	id := d.newID()
	d.grids[id] = &grid{nx: nx, ny: ny, data: make([]float64, nx*ny)}
	slogger().Debug("cpu: grid allocated", "id", id, "nx", nx, "ny", ny, "bytes", nx*ny*8)
	return id, nil
}

// CreateScalar implements device.Device.
func (d *Device) CreateScalar() (device.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.InvalidID, device.ErrDeviceClosed
	}
	id := d.newID()
	d.scalars[id] = &AtomicFloat64{}
	return id, nil
}

// DestroyBuffer implements device.Device.
func (d *Device) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.grids, id)
	delete(d.scalars, id)
}

func (d *Device) grid(id device.BufferID) (*grid, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, device.ErrDeviceClosed
	}
	if g, ok := d.grids[id]; ok {
		return g, nil
	}
	if _, ok := d.scalars[id]; ok {
		return nil, fmt.Errorf("%w: buffer %d is a scalar", device.ErrBufferKind, id)
	}
	return nil, fmt.Errorf("%w: %d", device.ErrBufferNotFound, id)
}

func (d *Device) scalar(id device.BufferID) (*AtomicFloat64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, device.ErrDeviceClosed
	}
	if s, ok := d.scalars[id]; ok {
		return s, nil
	}
	if _, ok := d.grids[id]; ok {
		return nil, fmt.Errorf("%w: buffer %d is a grid", device.ErrBufferKind, id)
	}
	return nil, fmt.Errorf("%w: %d", device.ErrBufferNotFound, id)
}

// InitBoundaries implements device.Device.
func (d *Device) InitBoundaries(a, b device.BufferID) error {
	for _, id := range [...]device.BufferID{a, b} {
		g, err := d.grid(id)
		if err != nil {
			return err
		}
		initBoundaries(g.data, g.nx, g.ny)
	}
	return nil
}

// Jacobi implements device.Device.
func (d *Device) Jacobi(ctx context.Context, l device.Launch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next, err := d.grid(l.Next)
	if err != nil {
		return fmt.Errorf("next: %w", err)
	}
	cur, err := d.grid(l.Cur)
	if err != nil {
		return fmt.Errorf("cur: %w", err)
	}
	norm, err := d.scalar(l.Norm)
	if err != nil {
		return fmt.Errorf("norm: %w", err)
	}
	if err := device.CheckLaunch(l, next.nx, next.ny, cur.nx, cur.ny); err != nil {
		return err
	}

	k := &stencil{
		next:    next.data,
		cur:     cur.data,
		nx:      cur.nx,
		iyStart: l.IYStart,
		iyEnd:   l.IYEnd,
		norm:    norm,
	}
	d.pool.Run(k.tasks(d.pool.Workers() * 4))
	d.launches.Add(1)
	return nil
}

// ReadScalar implements device.Device.
func (d *Device) ReadScalar(id device.BufferID) (float64, error) {
	s, err := d.scalar(id)
	if err != nil {
		return 0, err
	}
	return s.Load(), nil
}

// ClearScalar implements device.Device.
func (d *Device) ClearScalar(id device.BufferID) error {
	s, err := d.scalar(id)
	if err != nil {
		return err
	}
	s.Store(0)
	return nil
}

// ReadGrid implements device.Device.
func (d *Device) ReadGrid(id device.BufferID, dst []float64) error {
	g, err := d.grid(id)
	if err != nil {
		return err
	}
	if len(dst) < len(g.data) {
		return fmt.Errorf("read grid: destination holds %d values, need %d", len(dst), len(g.data))
	}
	copy(dst, g.data)
	return nil
}

// Close implements device.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.grids = nil
	d.scalars = nil
	d.mu.Unlock()

	d.pool.Close()
	slogger().Debug("cpu: device closed", "launches", d.launches.Load())
	return nil
}
