// Package jacobi solves the 2-D Laplace equation by Jacobi relaxation on
// one accelerator device, with a convergence check that never stalls the
// compute pipeline.
//
// # Overview
//
// The grid is nx by ny reals. Columns 0 and nx-1 hold the Dirichlet
// values sin(2*pi*iy/(ny-1)); rows 0 and ny-1 are periodic ghost rows the
// kernel keeps equal to rows ny-2 and 1. Every iteration replaces each
// interior cell by the mean of its four neighbors and accumulates the
// squared change into a norm slot.
//
// # Pipeline
//
// A [Solver] drives three command streams:
//
//   - compute: the stencil-and-reduce kernel, one launch per iteration
//   - copy: the norm slot written by that launch, copied to host memory
//   - reset: the norm slot just read by the host, zeroed on the device
//
// Two norm slots alternate by iteration parity. At iteration k the host
// waits only for the copy of the slot written at iteration k-1, so the
// convergence check lags the grid by one iteration and the kernel of
// iteration k runs while the host evaluates. Completion markers order the
// streams: reset before the next write of a slot, compute before its copy,
// copy before the host reads it.
//
// # Quick Start
//
//	cfg := jacobi.DefaultConfig()
//	cfg.NX, cfg.NY = 1024, 1024
//
//	s, err := jacobi.New(cfg, jacobi.WithReporter(jacobi.NewTextReporter(os.Stdout)))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	res, err := s.Run(ctx)
//
// # Devices
//
// The software device is always registered. Import
// github.com/gogpu/jacobi/gpu to add the wgpu device; the solver then
// prefers it when a Vulkan adapter is present. See package device.
//
// # Errors
//
// Only a norm check interval of 1 is supported; any other value fails
// with [ErrUnsupportedCheckInterval] before a device is opened. Device
// failures are fatal and surface from Run as a [DeviceError].
package jacobi
