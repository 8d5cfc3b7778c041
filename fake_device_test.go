package jacobi

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/jacobi/device"
)

var errFakeLaunch = errors.New("fake: launch failed")

// fakeDevice is a scripted device. Its n-th launch (from 1) adds n*n to
// the norm slot, so a correctly reset slot read back k launches in holds
// exactly k*k.
type fakeDevice struct {
	mu       sync.Mutex
	scalars  map[device.BufferID]float64
	grids    map[device.BufferID]int
	nextID   device.BufferID
	launches int
	clears   int
	closed   bool

	// delay is how long every launch takes.
	delay time.Duration

	// failAt is the launch number that fails; 0 never fails.
	failAt int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		scalars: make(map[device.BufferID]float64),
		grids:   make(map[device.BufferID]int),
		nextID:  1,
	}
}

func (d *fakeDevice) Info() device.Info {
	return device.Info{Name: "fake", Adapter: "scripted", Precision: 64, GroupSize: [2]int{32, 4}}
}

func (d *fakeDevice) CreateGrid(nx, ny int) (device.BufferID, error) {
	if err := device.CheckGrid(nx, ny); err != nil {
		return device.InvalidID, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.grids[id] = nx * ny
	return id, nil
}

func (d *fakeDevice) CreateScalar() (device.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.scalars[id] = 0
	return id, nil
}

func (d *fakeDevice) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.grids, id)
	delete(d.scalars, id)
}

func (d *fakeDevice) InitBoundaries(a, b device.BufferID) error { return nil }

func (d *fakeDevice) Jacobi(ctx context.Context, l device.Launch) error {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	n := d.launches
	if n == d.failAt {
		return errFakeLaunch
	}
	if _, ok := d.scalars[l.Norm]; !ok {
		return device.ErrBufferNotFound
	}
	d.scalars[l.Norm] += float64(n * n)
	return nil
}

func (d *fakeDevice) ReadScalar(id device.BufferID) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.scalars[id]
	if !ok {
		return 0, device.ErrBufferNotFound
	}
	return v, nil
}

func (d *fakeDevice) ClearScalar(id device.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.scalars[id]; !ok {
		return device.ErrBufferNotFound
	}
	d.scalars[id] = 0
	d.clears++
	return nil
}

func (d *fakeDevice) ReadGrid(id device.BufferID, dst []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.grids[id]
	if !ok {
		return device.ErrBufferNotFound
	}
	clear(dst[:n])
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) buffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.grids) + len(d.scalars)
}

// recordingReporter keeps everything a run reports.
type recordingReporter struct {
	info     RunInfo
	iters    []int
	norms    []float64
	result   *Result
	onUpdate func(iter int)
}

func (r *recordingReporter) Start(info RunInfo) { r.info = info }

func (r *recordingReporter) Progress(iter int, norm float64) {
	r.iters = append(r.iters, iter)
	r.norms = append(r.norms, norm)
	if r.onUpdate != nil {
		r.onUpdate(iter)
	}
}

func (r *recordingReporter) Finish(res *Result) { r.result = res }

// countingFactory registers a software-backed factory under name and
// counts how often it opens a device.
func countingFactory(name string, inner device.Factory) *atomic.Int64 {
	var n atomic.Int64
	device.Register(name, func(opts device.Options) (device.Device, error) {
		n.Add(1)
		return inner(opts)
	})
	return &n
}
