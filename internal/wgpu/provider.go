// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/jacobi/device"
)

// ErrNilProvider is returned when a nil DeviceProvider is passed.
var ErrNilProvider = errors.New("wgpu: nil DeviceProvider")

// halProvider is implemented by providers that expose their HAL objects.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// NewFromProvider creates a device on top of a GPU device owned by a host
// application (for example a gogpu window). The provider must also expose
// HalDevice() and HalQueue() returning hal.Device and hal.Queue.
//
// The shared device is not destroyed by Close.
func NewFromProvider(provider gpucontext.DeviceProvider, opts device.Options) (*Device, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}

	d := newDevice(dev, queue, opts)
	d.external = true
	d.adapter = "shared device"
	if err := d.createPipeline(); err != nil {
		d.destroyPipeline()
		return nil, fmt.Errorf("wgpu: create pipeline with shared device: %w", err)
	}
	slogger().Info("wgpu: using shared GPU device")
	return d, nil
}
