package cpu

import "math"

// Execution group shape of the stencil kernel, in cells.
const (
	BlockX = 32
	BlockY = 4

	blockSize = BlockX * BlockY
)

// stencil is one stencil-and-reduce launch over host arrays.
type stencil struct {
	next, cur []float64
	nx        int
	iyStart   int
	iyEnd     int
	norm      *AtomicFloat64
}

// groups returns the launch grid in execution groups.
func (k *stencil) groups() (gx, gy int) {
	gx = (k.nx + BlockX - 1) / BlockX
	gy = (k.iyEnd - k.iyStart + BlockY - 1) / BlockY
	return gx, gy
}

// group runs execution group (bx, by) and returns its residual sum.
// partial is the group's scratch space for the tree reduction.
func (k *stencil) group(bx, by int, partial *[blockSize]float64) float64 {
	nx := k.nx
	for ty := range BlockY {
		iy := k.iyStart + by*BlockY + ty
		for tx := range BlockX {
			ix := bx*BlockX + tx
			var r float64
			if iy < k.iyEnd && ix >= 1 && ix < nx-1 {
				v := 0.25 * (k.cur[iy*nx+ix+1] + k.cur[iy*nx+ix-1] +
					k.cur[(iy+1)*nx+ix] + k.cur[(iy-1)*nx+ix])
				k.next[iy*nx+ix] = v

				// Periodic seam: keep the ghost rows equal to their twins.
				if iy == k.iyStart {
					k.next[k.iyEnd*nx+ix] = v
				}
				if iy == k.iyEnd-1 {
					k.next[(k.iyStart-1)*nx+ix] = v
				}

				d := v - k.cur[iy*nx+ix]
				r = d * d
			}
			partial[ty*BlockX+tx] = r
		}
	}
	return treeReduce(partial[:])
}

// rows runs every group in group rows [by0, by1) and publishes one atomic
// add per group.
func (k *stencil) rows(by0, by1 int) {
	gx, _ := k.groups()
	var partial [blockSize]float64
	for by := by0; by < by1; by++ {
		for bx := range gx {
			k.norm.Add(k.group(bx, by, &partial))
		}
	}
}

// tasks splits the launch into at most n tasks of whole group rows.
func (k *stencil) tasks(n int) []func() {
	_, gy := k.groups()
	if gy <= 0 {
		return nil
	}
	if n <= 0 || n > gy {
		n = gy
	}
	out := make([]func(), 0, n)
	per := (gy + n - 1) / n
	for by0 := 0; by0 < gy; by0 += per {
		by1 := min(by0+per, gy)
		out = append(out, func() { k.rows(by0, by1) })
	}
	return out
}

// treeReduce sums v by pairwise halving, the way a thread block folds its
// shared memory. len(v) must be a power of two. v is clobbered.
func treeReduce(v []float64) float64 {
	for stride := len(v) / 2; stride > 0; stride /= 2 {
		for i := range stride {
			v[i] += v[i+stride]
		}
	}
	return v[0]
}

// boundaryValue is the Dirichlet value of row iy on a grid of ny rows.
func boundaryValue(iy, ny int) float64 {
	return math.Sin(2.0 * math.Pi * float64(iy) / float64(ny-1))
}

// initBoundaries zeroes a and writes the left and right Dirichlet columns.
func initBoundaries(a []float64, nx, ny int) {
	clear(a)
	for iy := range ny {
		y0 := boundaryValue(iy, ny)
		a[iy*nx] = y0
		a[iy*nx+nx-1] = y0
	}
}
