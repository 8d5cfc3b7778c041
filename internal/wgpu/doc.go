// Package wgpu implements the Jacobi device on top of gogpu/wgpu HAL
// compute shaders.
//
// The stencil kernel is written in WGSL (shaders/jacobi.wgsl), compiled to
// SPIR-V with naga and dispatched with 32x4 workgroups. Grids live in f32
// storage buffers since WGSL has no 64-bit float; the residual accumulator
// is a single atomic<u32> updated by compare-and-swap on its bit pattern.
//
// Every device operation records one command buffer, submits it with a
// fence and waits for the fence before returning. Operations are
// serialized on the queue by a mutex, so kernels from different solver
// streams never overlap on the GPU.
//
// The device can own its Vulkan instance ([Open]) or borrow a device from
// a host application ([NewFromProvider]); a borrowed device is never
// destroyed by Close.
package wgpu
