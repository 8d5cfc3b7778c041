package jacobi

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Reference is a serial host solve with the same schedule as Solver: the
// same initial grid, seam rule and lagged convergence check.
type Reference struct {
	NX, NY int

	a, aNew []float64
}

// NewReference returns a reference grid pair in the initial state.
func NewReference(nx, ny int) *Reference {
	r := &Reference{NX: nx, NY: ny, a: make([]float64, nx*ny), aNew: make([]float64, nx*ny)}
	for _, g := range [][]float64{r.a, r.aNew} {
		for iy := range ny {
			v := math.Sin(2.0 * math.Pi * float64(iy) / float64(ny-1))
			g[iy*nx] = v
			g[iy*nx+nx-1] = v
		}
	}
	return r
}

// Sweep performs one Jacobi iteration and returns the residual sum.
func (r *Reference) Sweep() float64 {
	nx, iyStart, iyEnd := r.NX, 1, r.NY-1
	a, aNew := r.a, r.aNew
	var sum float64
	for iy := iyStart; iy < iyEnd; iy++ {
		for ix := 1; ix < nx-1; ix++ {
			v := 0.25 * (a[iy*nx+ix+1] + a[iy*nx+ix-1] + a[(iy+1)*nx+ix] + a[(iy-1)*nx+ix])
			aNew[iy*nx+ix] = v
			d := v - a[iy*nx+ix]
			sum += d * d
		}
	}
	// Periodic seam.
	copy(aNew[iyEnd*nx+1:iyEnd*nx+nx-1], aNew[iyStart*nx+1:iyStart*nx+nx-1])
	copy(aNew[(iyStart-1)*nx+1:(iyStart-1)*nx+nx-1], aNew[(iyEnd-1)*nx+1:(iyEnd-1)*nx+nx-1])

	r.a, r.aNew = aNew, a
	return sum
}

// Solve iterates under the Solver's stopping rule and returns the number
// of sweeps and the last evaluated (lagged) norm.
func (r *Reference) Solve(iterMax int, tol float64) (iters int, norm float64) {
	m := Monitor{Tolerance: tol}
	prev := 1.0
	norm = 1.0
	more := norm > tol
	for more && iters < iterMax {
		sum := r.Sweep()
		norm, more = m.Evaluate(prev)
		prev = sum
		iters++
	}
	return iters, norm
}

// Grid returns the most recently written grid. The slice aliases the
// reference state.
func (r *Reference) Grid() []float64 { return r.a }

// Verification compares a device grid to the host reference.
type Verification struct {
	// MaxAbsDiff is the largest cell difference.
	MaxAbsDiff float64

	// L2Diff is the Euclidean distance between the grids.
	L2Diff float64

	// Tolerance is the MaxAbsDiff limit used, chosen by device precision.
	Tolerance float64
}

// OK reports whether the grids agree within Tolerance.
func (v Verification) OK() bool { return v.MaxAbsDiff <= v.Tolerance }

// verifyTolerance is the accepted per-cell difference for a device real
// of the given width in bits.
func verifyTolerance(precision int) float64 {
	if precision >= 64 {
		return 1e-12
	}
	return 1e-4
}

// Verify runs the host reference for the same number of iterations as res
// and compares it to the solver's final grid. It returns an error wrapping
// ErrVerificationFailed when they differ.
func (s *Solver) Verify(res *Result) (Verification, error) {
	got, err := s.Grid()
	if err != nil {
		return Verification{}, err
	}
	ref := NewReference(s.cfg.NX, s.cfg.NY)
	for range res.Iterations {
		ref.Sweep()
	}
	return compareGrids(got, ref.Grid(), verifyTolerance(res.Device.Precision))
}

func compareGrids(got, want []float64, tol float64) (Verification, error) {
	v := Verification{
		MaxAbsDiff: floats.Distance(got, want, math.Inf(1)),
		L2Diff:     floats.Distance(got, want, 2),
		Tolerance:  tol,
	}
	if !v.OK() {
		return v, fmt.Errorf("%w: max |diff| %g exceeds %g (L2 %g)",
			ErrVerificationFailed, v.MaxAbsDiff, tol, v.L2Diff)
	}
	return v, nil
}
