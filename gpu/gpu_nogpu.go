//go:build nogpu

// Package gpu is empty when built with the nogpu tag.
package gpu

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/jacobi/device"
)

// FromProvider always fails when the GPU backend is compiled out.
func FromProvider(gpucontext.DeviceProvider, device.Options) (device.Device, error) {
	return nil, device.ErrNotAvailable
}
