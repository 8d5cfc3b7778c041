// Package cpu implements the software device: a host-memory accelerator
// that executes kernels on a pool of goroutines.
//
// The device mirrors the execution model of a GPU closely enough that the
// pipeline above it cannot tell the difference. A kernel launch is split
// into execution groups of [BlockX]×[BlockY] cells. Each group computes its
// per-cell residuals, folds them with an in-group tree reduction and
// publishes a single partial sum with an atomic add, so the accumulator
// sees one atomic operation per group rather than one per cell.
//
// Grids are stored in double precision.
package cpu
