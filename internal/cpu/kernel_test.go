package cpu

import (
	"math"
	"testing"
)

// referenceSweep is a plain serial Jacobi sweep with the same seam rule.
func referenceSweep(next, cur []float64, nx, iyStart, iyEnd int) float64 {
	var sum float64
	for iy := iyStart; iy < iyEnd; iy++ {
		for ix := 1; ix < nx-1; ix++ {
			v := 0.25 * (cur[iy*nx+ix+1] + cur[iy*nx+ix-1] + cur[(iy+1)*nx+ix] + cur[(iy-1)*nx+ix])
			next[iy*nx+ix] = v
			if iy == iyStart {
				next[iyEnd*nx+ix] = v
			}
			if iy == iyEnd-1 {
				next[(iyStart-1)*nx+ix] = v
			}
			d := v - cur[iy*nx+ix]
			sum += d * d
		}
	}
	return sum
}

func newGrids(nx, ny int) (a, b []float64) {
	a = make([]float64, nx*ny)
	b = make([]float64, nx*ny)
	initBoundaries(a, nx, ny)
	initBoundaries(b, nx, ny)
	return a, b
}

func TestTreeReduce(t *testing.T) {
	v := make([]float64, blockSize)
	want := 0.0
	for i := range v {
		v[i] = float64(i + 1)
		want += float64(i + 1)
	}
	if got := treeReduce(v); got != want {
		t.Errorf("treeReduce() = %v, want %v", got, want)
	}

	if got := treeReduce([]float64{3}); got != 3 {
		t.Errorf("treeReduce(single) = %v, want 3", got)
	}
}

func TestStencilGroups(t *testing.T) {
	tests := []struct {
		name           string
		nx, ny         int
		wantGX, wantGY int
	}{
		{"8x8", 8, 8, 1, 2},
		{"exact", 64, 10, 2, 2},
		{"ragged", 65, 11, 3, 3},
		{"default", 7168, 7168, 224, 1792},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := &stencil{nx: tt.nx, iyStart: 1, iyEnd: tt.ny - 1}
			gx, gy := k.groups()
			if gx != tt.wantGX || gy != tt.wantGY {
				t.Errorf("groups() = (%d, %d), want (%d, %d)", gx, gy, tt.wantGX, tt.wantGY)
			}
		})
	}
}

// TestStencil_FirstSweep8x8 checks one sweep on an 8x8 grid by hand: the
// interior starts at zero, so only the cells next to the Dirichlet columns
// change, each to a quarter of its boundary neighbor.
func TestStencil_FirstSweep8x8(t *testing.T) {
	const nx, ny = 8, 8
	cur, next := newGrids(nx, ny)

	k := &stencil{next: next, cur: cur, nx: nx, iyStart: 1, iyEnd: ny - 1, norm: &AtomicFloat64{}}
	pool := NewPool(3)
	defer pool.Close()
	pool.Run(k.tasks(4))

	var wantNorm float64
	for iy := 1; iy < ny-1; iy++ {
		s := math.Sin(2 * math.Pi * float64(iy) / float64(ny-1))
		for ix := 1; ix < nx-1; ix++ {
			want := 0.0
			if ix == 1 || ix == nx-2 {
				want = 0.25 * s
			}
			if got := next[iy*nx+ix]; math.Abs(got-want) > 1e-15 {
				t.Errorf("next[%d][%d] = %v, want %v", iy, ix, got, want)
			}
			wantNorm += want * want
		}
	}
	if got := k.norm.Load(); math.Abs(got-wantNorm) > 1e-14 {
		t.Errorf("norm = %v, want %v", got, wantNorm)
	}

	// Ghost rows mirror the seam rows.
	for ix := 1; ix < nx-1; ix++ {
		if next[0*nx+ix] != next[(ny-2)*nx+ix] {
			t.Errorf("ghost row 0 col %d = %v, want row %d value %v", ix, next[ix], ny-2, next[(ny-2)*nx+ix])
		}
		if next[(ny-1)*nx+ix] != next[1*nx+ix] {
			t.Errorf("ghost row %d col %d = %v, want row 1 value %v", ny-1, ix, next[(ny-1)*nx+ix], next[nx+ix])
		}
	}

	// Dirichlet columns untouched.
	for iy := range ny {
		s := boundaryValue(iy, ny)
		if next[iy*nx] != s || next[iy*nx+nx-1] != s {
			t.Errorf("row %d boundary = (%v, %v), want %v", iy, next[iy*nx], next[iy*nx+nx-1], s)
		}
	}
}

func TestStencil_MatchesReference(t *testing.T) {
	const nx, ny = 77, 53
	cur, next := newGrids(nx, ny)
	refCur, refNext := newGrids(nx, ny)

	pool := NewPool(4)
	defer pool.Close()

	for iter := range 25 {
		k := &stencil{next: next, cur: cur, nx: nx, iyStart: 1, iyEnd: ny - 1, norm: &AtomicFloat64{}}
		pool.Run(k.tasks(16))
		want := referenceSweep(refNext, refCur, nx, 1, ny-1)

		if got := k.norm.Load(); math.Abs(got-want) > 1e-12*math.Max(1, want) {
			t.Fatalf("iter %d: norm = %v, want %v", iter, got, want)
		}
		for i := range next {
			if math.Abs(next[i]-refNext[i]) > 1e-15 {
				t.Fatalf("iter %d: cell %d = %v, want %v", iter, i, next[i], refNext[i])
			}
		}
		cur, next = next, cur
		refCur, refNext = refNext, refCur
	}
}

func TestStencil_TasksCoverEveryRow(t *testing.T) {
	k := &stencil{nx: 40, iyStart: 1, iyEnd: 30}
	_, gy := k.groups()
	for _, n := range []int{0, 1, 3, gy, gy + 10} {
		tasks := k.tasks(n)
		if len(tasks) == 0 || len(tasks) > gy {
			t.Errorf("tasks(%d) = %d tasks, want 1..%d", n, len(tasks), gy)
		}
	}
}

func BenchmarkStencil1024(b *testing.B) {
	const nx, ny = 1024, 1024
	cur, next := newGrids(nx, ny)
	pool := NewPool(0)
	defer pool.Close()

	b.ReportAllocs()
	b.SetBytes(int64(nx * ny * 8 * 2))
	for b.Loop() {
		k := &stencil{next: next, cur: cur, nx: nx, iyStart: 1, iyEnd: ny - 1, norm: &AtomicFloat64{}}
		pool.Run(k.tasks(pool.Workers() * 4))
		cur, next = next, cur
	}
}
