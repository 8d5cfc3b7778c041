package jacobi

import (
	"bytes"
	"image/color"
	"image/png"
	"math"
	"testing"
)

func TestHeat(t *testing.T) {
	tests := []struct {
		v    float64
		want color.RGBA
	}{
		{-1, color.RGBA{R: 0, G: 0, B: 255, A: 255}},
		{0, color.RGBA{R: 255, G: 255, B: 255, A: 255}},
		{1, color.RGBA{R: 255, G: 0, B: 0, A: 255}},
		{2, color.RGBA{R: 255, G: 0, B: 0, A: 255}},
		{math.NaN(), color.RGBA{A: 255}},
	}
	for _, tt := range tests {
		if got := heat(tt.v); got != tt.want {
			t.Errorf("heat(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestHeatMap(t *testing.T) {
	grid := []float64{-1, 0, 1, 0, 0, 0}
	img, err := HeatMap(grid, 3, 2)
	if err != nil {
		t.Fatalf("HeatMap: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Fatalf("bounds = %v, want 3x2", b)
	}
	if c := img.RGBAAt(0, 0); c.B != 255 || c.R != 0 {
		t.Errorf("(0, 0) = %v, want blue", c)
	}
	if c := img.RGBAAt(2, 0); c.R != 255 || c.B != 0 {
		t.Errorf("(2, 0) = %v, want red", c)
	}

	if _, err := HeatMap(grid, 4, 2); err == nil {
		t.Error("HeatMap accepted a short grid")
	}
}

func TestWriteSnapshot(t *testing.T) {
	tests := []struct {
		name         string
		nx, ny, size int
		wantW, wantH int
	}{
		{"square", 16, 16, 64, 64, 64},
		{"wide", 32, 8, 64, 64, 16},
		{"tall", 8, 32, 64, 16, 64},
		{"default size", 4, 4, 0, DefaultSnapshotSize, DefaultSnapshotSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := NewReference(tt.nx, tt.ny)
			for range 5 {
				ref.Sweep()
			}
			var buf bytes.Buffer
			if err := WriteSnapshot(&buf, ref.Grid(), tt.nx, tt.ny, tt.size); err != nil {
				t.Fatalf("WriteSnapshot: %v", err)
			}
			img, err := png.Decode(&buf)
			if err != nil {
				t.Fatalf("png.Decode: %v", err)
			}
			if b := img.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}
