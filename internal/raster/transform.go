// Package raster holds single-band risk rasters, their affine georeferencing,
// and the world-file and TIFF formats they are stored in.
package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// Transform maps pixel (col, row) corners to map coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// C and F are the coordinates of the upper-left corner of the upper-left pixel.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// NewNorthUp builds a transform without rotation from the upper-left corner
// and a square pixel size.
func NewNorthUp(originX, originY, pixelSize float64) Transform {
	return Transform{A: pixelSize, C: originX, E: -pixelSize, F: originY}
}

// Apply returns the map coordinate of the given fractional pixel position.
func (t Transform) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Center returns the map coordinate of the centre of pixel (col, row).
func (t Transform) Center(col, row int) (x, y float64) {
	return t.Apply(float64(col)+0.5, float64(row)+0.5)
}

// Invert returns the inverse mapping from map coordinates to fractional pixels.
func (t Transform) Invert() (Transform, error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return Transform{}, eris.New("raster: transform is not invertible")
	}
	ia := t.E / det
	ib := -t.B / det
	id := -t.D / det
	ie := t.A / det
	return Transform{
		A: ia, B: ib, C: -ia*t.C - ib*t.F,
		D: id, E: ie, F: -id*t.C - ie*t.F,
	}, nil
}

// Index returns the (row, col) of the pixel containing map coordinate (x, y).
// The result may lie outside the raster.
func (t Transform) Index(x, y float64) (row, col int, err error) {
	inv, err := t.Invert()
	if err != nil {
		return 0, 0, err
	}
	fc, fr := inv.Apply(x, y)
	return int(math.Floor(fr)), int(math.Floor(fc)), nil
}

// Shift returns the transform of a window whose upper-left pixel is (col, row)
// in this transform's pixel space.
func (t Transform) Shift(col, row int) Transform {
	x, y := t.Apply(float64(col), float64(row))
	out := t
	out.C = x
	out.F = y
	return out
}

// PixelSize returns the absolute x and y pixel dimensions for unrotated transforms.
func (t Transform) PixelSize() (float64, float64) {
	return math.Abs(t.A), math.Abs(t.E)
}
