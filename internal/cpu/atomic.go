package cpu

import (
	"math"
	"sync/atomic"
)

// AtomicFloat64 is a float64 supporting atomic accumulation, the host
// equivalent of a device atomicAdd on a real.
type AtomicFloat64 struct {
	bits atomic.Uint64
}

// Add atomically adds d.
func (a *AtomicFloat64) Add(d float64) {
	for {
		old := a.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + d)
		if a.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Load atomically reads the value.
func (a *AtomicFloat64) Load() float64 {
	return math.Float64frombits(a.bits.Load())
}

// Store atomically sets the value.
func (a *AtomicFloat64) Store(v float64) {
	a.bits.Store(math.Float64bits(v))
}
