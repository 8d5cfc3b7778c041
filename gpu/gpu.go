//go:build !nogpu

// Package gpu registers the wgpu device for hardware-accelerated Jacobi
// solves.
//
// The device runs the stencil kernel as a wgpu/hal compute shader. If no
// Vulkan adapter can be opened, [device.Default] skips it and the solver
// falls back to the software device.
//
// Usage:
//
//	import _ "github.com/gogpu/jacobi/gpu" // enable the GPU device
//
// Build with -tags nogpu to compile the GPU backend out entirely.
package gpu

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/jacobi/device"
	"github.com/gogpu/jacobi/internal/wgpu"
)

func init() {
	device.Register(device.NameWGPU, wgpu.Open)
}

// FromProvider opens a wgpu device on a GPU device shared by a host
// application instead of creating a separate Vulkan instance. The provider
// must also expose HalDevice() and HalQueue().
//
// The returned device can be passed to jacobi.WithDevice.
func FromProvider(provider gpucontext.DeviceProvider, opts device.Options) (device.Device, error) {
	d, err := wgpu.NewFromProvider(provider, opts)
	if err != nil {
		return nil, err
	}
	return d, nil
}
