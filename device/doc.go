// Package device defines the accelerator abstraction the Jacobi pipeline
// runs on.
//
// A [Device] owns device-resident buffers, addressed by opaque [BufferID]
// handles, and executes the handful of operations the solver needs: the
// boundary initialization kernel, the stencil-and-reduce kernel, scalar
// readback and scalar reset. Every operation is synchronous from the
// caller's point of view; asynchrony comes from the command streams in the
// solver, which call into the device from their own goroutines.
//
// # Device Registration
//
// Devices are registered by name through [Register] and opened with
// [Open] or [Default]. The software device is always available. The wgpu
// device is registered by a blank import:
//
//	import _ "github.com/gogpu/jacobi/gpu"
//
// # Selection
//
// [Default] walks the priority list (wgpu, then software) and returns the
// first device whose factory succeeds, so a machine without a Vulkan
// adapter transparently runs on the software device.
package device
