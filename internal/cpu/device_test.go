package cpu

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/jacobi/device"
)

func openTestDevice(t *testing.T) *Device {
	t.Helper()
	d := New(device.Options{Workers: 2})
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDevice_Info(t *testing.T) {
	d := openTestDevice(t)
	info := d.Info()
	if info.Name != device.NameSoftware {
		t.Errorf("Name = %q, want %q", info.Name, device.NameSoftware)
	}
	if info.Precision != 64 {
		t.Errorf("Precision = %d, want 64", info.Precision)
	}
	if info.GroupSize != [2]int{32, 4} {
		t.Errorf("GroupSize = %v, want [32 4]", info.GroupSize)
	}
}

func TestDevice_BufferLifecycle(t *testing.T) {
	d := openTestDevice(t)

	if _, err := d.CreateGrid(2, 8); !errors.Is(err, device.ErrInvalidGrid) {
		t.Errorf("CreateGrid(2, 8) error = %v, want ErrInvalidGrid", err)
	}
	if _, err := d.CreateGrid(device.MaxGridCells, 3); !errors.Is(err, device.ErrInvalidGrid) {
		t.Errorf("CreateGrid(MaxGridCells, 3) error = %v, want ErrInvalidGrid", err)
	}

	g, err := d.CreateGrid(8, 8)
	if err != nil {
		t.Fatalf("CreateGrid: %v", err)
	}
	s, err := d.CreateScalar()
	if err != nil {
		t.Fatalf("CreateScalar: %v", err)
	}
	if g == device.InvalidID || s == device.InvalidID || g == s {
		t.Fatalf("ids = (%d, %d), want distinct valid ids", g, s)
	}

	if _, err := d.ReadScalar(g); !errors.Is(err, device.ErrBufferKind) {
		t.Errorf("ReadScalar(grid) error = %v, want ErrBufferKind", err)
	}
	if err := d.ReadGrid(s, make([]float64, 64)); !errors.Is(err, device.ErrBufferKind) {
		t.Errorf("ReadGrid(scalar) error = %v, want ErrBufferKind", err)
	}
	if err := d.ReadGrid(g, make([]float64, 10)); err == nil {
		t.Error("ReadGrid with short destination succeeded, want error")
	}

	d.DestroyBuffer(g)
	if err := d.ReadGrid(g, make([]float64, 64)); !errors.Is(err, device.ErrBufferNotFound) {
		t.Errorf("ReadGrid after destroy error = %v, want ErrBufferNotFound", err)
	}
}

func TestDevice_ScalarClearAndRead(t *testing.T) {
	d := openTestDevice(t)
	a, _ := d.CreateGrid(8, 8)
	b, _ := d.CreateGrid(8, 8)
	s, _ := d.CreateScalar()
	if err := d.InitBoundaries(a, b); err != nil {
		t.Fatalf("InitBoundaries: %v", err)
	}

	l := device.Launch{Next: b, Cur: a, Norm: s, IYStart: 1, IYEnd: 7}
	if err := d.Jacobi(context.Background(), l); err != nil {
		t.Fatalf("Jacobi: %v", err)
	}
	first, err := d.ReadScalar(s)
	if err != nil || first <= 0 {
		t.Fatalf("ReadScalar = %v, %v; want positive", first, err)
	}

	// Without a clear the next launch accumulates on top.
	l.Next, l.Cur = a, b
	if err := d.Jacobi(context.Background(), l); err != nil {
		t.Fatalf("Jacobi: %v", err)
	}
	acc, _ := d.ReadScalar(s)
	if acc <= first {
		t.Errorf("accumulated norm %v not above first %v", acc, first)
	}

	if err := d.ClearScalar(s); err != nil {
		t.Fatalf("ClearScalar: %v", err)
	}
	if v, _ := d.ReadScalar(s); v != 0 {
		t.Errorf("after ClearScalar = %v, want 0", v)
	}
	if got := d.Launches(); got != 2 {
		t.Errorf("Launches() = %d, want 2", got)
	}
}

func TestDevice_InitBoundaries(t *testing.T) {
	d := openTestDevice(t)
	const nx, ny = 5, 9
	a, _ := d.CreateGrid(nx, ny)
	b, _ := d.CreateGrid(nx, ny)
	if err := d.InitBoundaries(a, b); err != nil {
		t.Fatalf("InitBoundaries: %v", err)
	}

	for _, id := range []device.BufferID{a, b} {
		host := make([]float64, nx*ny)
		if err := d.ReadGrid(id, host); err != nil {
			t.Fatalf("ReadGrid: %v", err)
		}
		for iy := range ny {
			want := math.Sin(2 * math.Pi * float64(iy) / float64(ny-1))
			if host[iy*nx] != want || host[iy*nx+nx-1] != want {
				t.Errorf("grid %d row %d boundary = (%v, %v), want %v", id, iy, host[iy*nx], host[iy*nx+nx-1], want)
			}
			for ix := 1; ix < nx-1; ix++ {
				if host[iy*nx+ix] != 0 {
					t.Errorf("grid %d interior (%d, %d) = %v, want 0", id, iy, ix, host[iy*nx+ix])
				}
			}
		}
	}
}

func TestDevice_JacobiValidation(t *testing.T) {
	d := openTestDevice(t)
	a, _ := d.CreateGrid(8, 8)
	b, _ := d.CreateGrid(8, 8)
	c, _ := d.CreateGrid(9, 8)
	s, _ := d.CreateScalar()
	ctx := context.Background()

	tests := []struct {
		name string
		l    device.Launch
	}{
		{"scalar as grid", device.Launch{Next: s, Cur: a, Norm: s, IYStart: 1, IYEnd: 7}},
		{"grid as norm", device.Launch{Next: b, Cur: a, Norm: b, IYStart: 1, IYEnd: 7}},
		{"shape mismatch", device.Launch{Next: c, Cur: a, Norm: s, IYStart: 1, IYEnd: 7}},
		{"row range start", device.Launch{Next: b, Cur: a, Norm: s, IYStart: 0, IYEnd: 7}},
		{"row range end", device.Launch{Next: b, Cur: a, Norm: s, IYStart: 1, IYEnd: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.Jacobi(ctx, tt.l); err == nil {
				t.Error("Jacobi succeeded, want error")
			}
		})
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := d.Jacobi(canceled, device.Launch{Next: b, Cur: a, Norm: s, IYStart: 1, IYEnd: 7})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Jacobi with canceled context error = %v, want context.Canceled", err)
	}
}

func TestDevice_Close(t *testing.T) {
	d := New(device.Options{Workers: 1})
	g, _ := d.CreateGrid(4, 4)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := d.CreateGrid(4, 4); !errors.Is(err, device.ErrDeviceClosed) {
		t.Errorf("CreateGrid after Close error = %v, want ErrDeviceClosed", err)
	}
	if err := d.ReadGrid(g, make([]float64, 16)); !errors.Is(err, device.ErrDeviceClosed) {
		t.Errorf("ReadGrid after Close error = %v, want ErrDeviceClosed", err)
	}
}

func TestOpen(t *testing.T) {
	dev, err := Open(device.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()
	if _, ok := dev.(*Device); !ok {
		t.Errorf("Open returned %T, want *Device", dev)
	}
}
