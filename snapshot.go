package jacobi

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	xdraw "golang.org/x/image/draw"
)

// DefaultSnapshotSize is the edge length of snapshot images.
const DefaultSnapshotSize = 512

// HeatMap renders a grid of nx*ny values in [-1, 1] as a blue-white-red
// image, one pixel per cell, row iy at y = iy.
func HeatMap(grid []float64, nx, ny int) (*image.RGBA, error) {
	if len(grid) < nx*ny {
		return nil, fmt.Errorf("jacobi: heat map needs %d values, got %d", nx*ny, len(grid))
	}
	img := image.NewRGBA(image.Rect(0, 0, nx, ny))
	for iy := range ny {
		for ix := range nx {
			img.SetRGBA(ix, iy, heat(grid[iy*nx+ix]))
		}
	}
	return img, nil
}

// heat maps v in [-1, 1] to blue (-1), white (0) and red (+1).
func heat(v float64) color.RGBA {
	if math.IsNaN(v) {
		return color.RGBA{A: 255}
	}
	v = math.Max(-1, math.Min(1, v))
	c := uint8(255 * (1 - math.Abs(v)))
	if v >= 0 {
		return color.RGBA{R: 255, G: c, B: c, A: 255}
	}
	return color.RGBA{R: c, G: c, B: 255, A: 255}
}

// WriteSnapshot encodes the grid as a PNG whose longer edge is size
// pixels, keeping the grid aspect ratio.
func WriteSnapshot(w io.Writer, grid []float64, nx, ny, size int) error {
	if size <= 0 {
		size = DefaultSnapshotSize
	}
	src, err := HeatMap(grid, nx, ny)
	if err != nil {
		return err
	}

	dw, dh := size, size
	if nx > ny {
		dh = max(1, size*ny/nx)
	} else if ny > nx {
		dw = max(1, size*nx/ny)
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	if err := png.Encode(w, dst); err != nil {
		return fmt.Errorf("jacobi: encode snapshot: %w", err)
	}
	return nil
}
