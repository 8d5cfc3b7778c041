// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/jacobi/device"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

const (
	realSize   = 4  // bytes per f32 cell
	paramsSize = 16 // nx, iy_start, iy_end, pad
)

// buffer is a device-resident grid or scalar.
type buffer struct {
	buf    hal.Buffer
	size   uint64
	scalar bool
	nx, ny int
}

// binding is the uniform block and bind group of one launch shape.
type binding struct {
	params hal.Buffer
	group  hal.BindGroup
}

// Device runs the Jacobi kernel on a wgpu HAL device.
//
// Thread Safety: Device is safe for concurrent use. Every operation holds
// the device mutex from encoding until its fence signals.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	adapter  string
	limits   gputypes.Limits
	timeout  time.Duration
	external bool // shared device, not destroyed on Close

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
	staging    hal.Buffer // scalar readback

	buffers  map[device.BufferID]*buffer
	bindings map[device.Launch]*binding
	nextID   device.BufferID
	launches uint64
	closed   bool
}

var _ device.Device = (*Device)(nil)

func newDevice(dev hal.Device, queue hal.Queue, opts device.Options) *Device {
	return &Device{
		device:   dev,
		queue:    queue,
		limits:   gputypes.DefaultLimits(),
		timeout:  opts.WaitTimeout(),
		buffers:  make(map[device.BufferID]*buffer),
		bindings: make(map[device.Launch]*binding),
		nextID:   1, // 0 is invalid
	}
}

// New opens the first hardware adapter of the Vulkan backend.
// It returns an error wrapping device.ErrNotAvailable when no adapter can
// be opened.
func New(opts device.Options) (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", device.ErrNotAvailable)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("%w: create instance: %v", device.ErrNotAvailable, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w: no GPU adapters found", device.ErrNotAvailable)
	}
	selected := selectAdapter(adapters)

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("%w: open device: %v", device.ErrNotAvailable, err)
	}

	d := newDevice(openDev.Device, openDev.Queue, opts)
	d.instance = instance
	d.adapter = selected.Info.Name
	if err := d.createPipeline(); err != nil {
		d.destroyPipeline()
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: create pipeline: %w", err)
	}

	slogger().Info("wgpu: device opened", "adapter", d.adapter, "timeout", d.timeout)
	return d, nil
}

// Open is the registry factory for the wgpu device.
func Open(opts device.Options) (device.Device, error) {
	d, err := New(opts)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// selectAdapter prefers a discrete or integrated GPU over software
// rasterizers.
func selectAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			return &adapters[i]
		}
	}
	return &adapters[0]
}

func (d *Device) createPipeline() error {
	code, err := jacobiSPIRV()
	if err != nil {
		return err
	}
	shader, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "jacobi",
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return fmt.Errorf("create shader module: %w", err)
	}
	d.shader = shader

	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "jacobi_bgl",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	d.bindLayout = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "jacobi_pl", BindGroupLayouts: []hal.BindGroupLayout{d.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	d.pipeLayout = pipeLayout

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   "jacobi",
		Layout:  d.pipeLayout,
		Compute: hal.ComputeState{Module: d.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	d.pipeline = pipeline

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "jacobi_scalar_staging", Size: realSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	d.staging = staging

	slogger().Debug("wgpu: pipeline created", "spirv_words", len(code), "workgroup", [2]int{groupX, groupY})
	return nil
}

func (d *Device) destroyPipeline() {
	if d.device == nil {
		return
	}
	if d.staging != nil {
		d.device.DestroyBuffer(d.staging)
		d.staging = nil
	}
	if d.pipeline != nil {
		d.device.DestroyComputePipeline(d.pipeline)
		d.pipeline = nil
	}
	if d.pipeLayout != nil {
		d.device.DestroyPipelineLayout(d.pipeLayout)
		d.pipeLayout = nil
	}
	if d.bindLayout != nil {
		d.device.DestroyBindGroupLayout(d.bindLayout)
		d.bindLayout = nil
	}
	if d.shader != nil {
		d.device.DestroyShaderModule(d.shader)
		d.shader = nil
	}
}

// Info implements device.Device.
func (d *Device) Info() device.Info {
	return device.Info{
		Name:      device.NameWGPU,
		Adapter:   d.adapter,
		Precision: 32,
		GroupSize: [2]int{groupX, groupY},
	}
}

// SetLogger sets the logger for the wgpu device.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// Launches returns the number of stencil kernels executed.
func (d *Device) Launches() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

// createBuffer allocates and zero-fills a storage buffer. Caller holds mu.
func (d *Device) createBuffer(label string, size uint64) (hal.Buffer, error) {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label, Size: size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s buffer: %w", label, err)
	}
	d.queue.WriteBuffer(buf, 0, make([]byte, size))
	return buf, nil
}

// CreateGrid implements device.Device.
func (d *Device) CreateGrid(nx, ny int) (device.BufferID, error) {
	if err := device.CheckGrid(nx, ny); err != nil {
		return device.InvalidID, err
	}
	if uint64(nx) > math.MaxUint64/realSize/uint64(ny) {
		return device.InvalidID, fmt.Errorf("%w: %dx%d overflows the buffer size", device.ErrInvalidGrid, nx, ny)
	}
	size := uint64(nx) * uint64(ny) * realSize
	if size > d.limits.MaxBufferSize {
		return device.InvalidID, fmt.Errorf("grid %dx%d needs %d bytes, adapter limit is %d", nx, ny, size, d.limits.MaxBufferSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.InvalidID, device.ErrDeviceClosed
	}
	buf, err := d.createBuffer("jacobi_grid", size)
	if err != nil {
		return device.InvalidID, err
	}
	id := d.nextID
	d.nextID++
	d.buffers[id] = &buffer{buf: buf, size: size, nx: nx, ny: ny}
	slogger().Debug("wgpu: grid allocated", "id", id, "nx", nx, "ny", ny, "bytes", size)
	return id, nil
}

// CreateScalar implements device.Device.
func (d *Device) CreateScalar() (device.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.InvalidID, device.ErrDeviceClosed
	}
	buf, err := d.createBuffer("jacobi_norm", realSize)
	if err != nil {
		return device.InvalidID, err
	}
	id := d.nextID
	d.nextID++
	d.buffers[id] = &buffer{buf: buf, size: realSize, scalar: true}
	return id, nil
}

// DestroyBuffer implements device.Device. Cached bindings that reference
// the buffer are released with it.
func (d *Device) DestroyBuffer(id device.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return
	}
	delete(d.buffers, id)
	for l, bg := range d.bindings {
		if l.Next == id || l.Cur == id || l.Norm == id {
			d.destroyBinding(bg)
			delete(d.bindings, l)
		}
	}
	d.device.DestroyBuffer(b.buf)
}

// lookup resolves id to a buffer of the requested kind. Caller holds mu.
func (d *Device) lookup(id device.BufferID, scalar bool) (*buffer, error) {
	if d.closed {
		return nil, device.ErrDeviceClosed
	}
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", device.ErrBufferNotFound, id)
	}
	if b.scalar != scalar {
		return nil, fmt.Errorf("%w: buffer %d", device.ErrBufferKind, id)
	}
	return b, nil
}

// InitBoundaries implements device.Device.
func (d *Device) InitBoundaries(a, b device.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range [...]device.BufferID{a, b} {
		g, err := d.lookup(id, false)
		if err != nil {
			return err
		}
		host := make([]byte, g.size)
		for iy := range g.ny {
			v := math.Float32bits(float32(math.Sin(2.0 * math.Pi * float64(iy) / float64(g.ny-1))))
			binary.LittleEndian.PutUint32(host[(iy*g.nx)*realSize:], v)
			binary.LittleEndian.PutUint32(host[(iy*g.nx+g.nx-1)*realSize:], v)
		}
		d.queue.WriteBuffer(g.buf, 0, host)
	}
	return nil
}

// binding returns the cached bind group for l, creating it on first use.
// Caller holds mu.
func (d *Device) binding(l device.Launch, next, cur, norm *buffer) (*binding, error) {
	if bg, ok := d.bindings[l]; ok {
		return bg, nil
	}

	params, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "jacobi_params", Size: paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create params buffer: %w", err)
	}
	var raw [paramsSize]byte
	binary.LittleEndian.PutUint32(raw[0:], uint32(cur.nx))    //nolint:gosec // grid sizes fit uint32
	binary.LittleEndian.PutUint32(raw[4:], uint32(l.IYStart)) //nolint:gosec // validated row index
	binary.LittleEndian.PutUint32(raw[8:], uint32(l.IYEnd))   //nolint:gosec // validated row index
	d.queue.WriteBuffer(params, 0, raw[:])

	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "jacobi_bg", Layout: d.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: params.NativeHandle(), Offset: 0, Size: paramsSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: cur.buf.NativeHandle(), Offset: 0, Size: cur.size}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: next.buf.NativeHandle(), Offset: 0, Size: next.size}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: norm.buf.NativeHandle(), Offset: 0, Size: norm.size}},
		},
	})
	if err != nil {
		d.device.DestroyBuffer(params)
		return nil, fmt.Errorf("create bind group: %w", err)
	}

	bg := &binding{params: params, group: group}
	d.bindings[l] = bg
	return bg, nil
}

func (d *Device) destroyBinding(bg *binding) {
	d.device.DestroyBindGroup(bg.group)
	d.device.DestroyBuffer(bg.params)
}

// Jacobi implements device.Device.
func (d *Device) Jacobi(ctx context.Context, l device.Launch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := d.lookup(l.Next, false)
	if err != nil {
		return fmt.Errorf("next: %w", err)
	}
	cur, err := d.lookup(l.Cur, false)
	if err != nil {
		return fmt.Errorf("cur: %w", err)
	}
	norm, err := d.lookup(l.Norm, true)
	if err != nil {
		return fmt.Errorf("norm: %w", err)
	}
	if err := device.CheckLaunch(l, next.nx, next.ny, cur.nx, cur.ny); err != nil {
		return err
	}
	if l.IYStart == l.IYEnd {
		return nil
	}

	bg, err := d.binding(l, next, cur, norm)
	if err != nil {
		return err
	}
	gx := uint32((cur.nx + groupX - 1) / groupX)              //nolint:gosec // grid sizes fit uint32
	gy := uint32((l.IYEnd - l.IYStart + groupY - 1) / groupY) //nolint:gosec // grid sizes fit uint32

	err = d.submit("jacobi", func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "jacobi"})
		pass.SetPipeline(d.pipeline)
		pass.SetBindGroup(0, bg.group, nil)
		pass.Dispatch(gx, gy, 1)
		pass.End()
	})
	if err != nil {
		return err
	}
	d.launches++
	return nil
}

// submit records one command buffer, submits it and waits for its fence.
// Caller holds mu.
func (d *Device) submit(label string, record func(enc hal.CommandEncoder)) error {
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	record(encoder)
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	ok, err := d.device.Wait(fence, 1, d.timeout)
	if err != nil {
		return fmt.Errorf("wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("GPU timeout after %v", d.timeout)
	}
	return nil
}

// ReadScalar implements device.Device.
func (d *Device) ReadScalar(id device.BufferID) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.lookup(id, true)
	if err != nil {
		return 0, err
	}
	err = d.submit("jacobi_read_norm", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(s.buf, d.staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: realSize}})
	})
	if err != nil {
		return 0, err
	}
	var raw [realSize]byte
	if err := d.queue.ReadBuffer(d.staging, 0, raw[:]); err != nil {
		return 0, fmt.Errorf("readback: %w", err)
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[:]))), nil
}

// ClearScalar implements device.Device.
func (d *Device) ClearScalar(id device.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.lookup(id, true)
	if err != nil {
		return err
	}
	d.queue.WriteBuffer(s.buf, 0, make([]byte, realSize))
	return nil
}

// ReadGrid implements device.Device.
func (d *Device) ReadGrid(id device.BufferID, dst []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, err := d.lookup(id, false)
	if err != nil {
		return err
	}
	n := g.nx * g.ny
	if len(dst) < n {
		return fmt.Errorf("read grid: destination holds %d values, need %d", len(dst), n)
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "jacobi_grid_staging", Size: g.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.submit("jacobi_read_grid", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(g.buf, staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: g.size}})
	})
	if err != nil {
		return err
	}
	raw := make([]byte, g.size)
	if err := d.queue.ReadBuffer(staging, 0, raw); err != nil {
		return fmt.Errorf("readback: %w", err)
	}
	for i := range n {
		dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*realSize:])))
	}
	return nil
}

// Close implements device.Device. A shared device is left alive.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	for l, bg := range d.bindings {
		d.destroyBinding(bg)
		delete(d.bindings, l)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.buf)
		delete(d.buffers, id)
	}
	d.destroyPipeline()

	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.instance = nil
	d.queue = nil
	slogger().Debug("wgpu: device closed", "launches", d.launches)
	return nil
}
