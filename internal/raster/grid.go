package raster

import (
	"image"

	"github.com/rotisserie/eris"
)

// NoData is the pixel value of masked cells.
const NoData uint8 = 0

// Grid is a single-band uint8 raster in row-major order. Pixels equal to
// NoData are masked.
type Grid struct {
	Width     int
	Height    int
	Pix       []uint8
	Transform Transform
}

// NewGrid allocates a fully masked grid.
func NewGrid(width, height int, t Transform) *Grid {
	return &Grid{
		Width:     width,
		Height:    height,
		Pix:       make([]uint8, width*height),
		Transform: t,
	}
}

// At returns the value at (col, row) and whether it lies inside the grid.
func (g *Grid) At(col, row int) (uint8, bool) {
	if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return NoData, false
	}
	return g.Pix[row*g.Width+col], true
}

// Set stores v at (col, row). Out-of-range writes are ignored.
func (g *Grid) Set(col, row int, v uint8) {
	if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return
	}
	g.Pix[row*g.Width+col] = v
}

// Sample returns the value of the pixel containing map coordinate (x, y).
// ok is false when the point falls outside the grid.
func (g *Grid) Sample(x, y float64) (v uint8, ok bool, err error) {
	row, col, err := g.Transform.Index(x, y)
	if err != nil {
		return NoData, false, err
	}
	v, ok = g.At(col, row)
	return v, ok, nil
}

// Window is a rectangular pixel region of a grid.
type Window struct {
	Col, Row      int
	Width, Height int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool { return w.Width <= 0 || w.Height <= 0 }

// WindowForBounds returns the pixel window covering the map-space rectangle,
// clipped to the grid. Only unrotated transforms are supported.
func (g *Grid) WindowForBounds(minX, minY, maxX, maxY float64) (Window, error) {
	if g.Transform.B != 0 || g.Transform.D != 0 {
		return Window{}, eris.New("raster: rotated transforms are not supported")
	}
	r0, c0, err := g.Transform.Index(minX, maxY)
	if err != nil {
		return Window{}, err
	}
	r1, c1, err := g.Transform.Index(maxX, minY)
	if err != nil {
		return Window{}, err
	}
	if r0 > r1 {
		r0, r1 = r1, r0
	}
	if c0 > c1 {
		c0, c1 = c1, c0
	}
	c0, r0 = max(c0, 0), max(r0, 0)
	c1, r1 = min(c1, g.Width-1), min(r1, g.Height-1)
	return Window{Col: c0, Row: r0, Width: c1 - c0 + 1, Height: r1 - r0 + 1}, nil
}

// Crop copies the window into a new grid with a shifted transform.
func (g *Grid) Crop(w Window) *Grid {
	if w.Empty() {
		return NewGrid(0, 0, g.Transform.Shift(w.Col, w.Row))
	}
	out := NewGrid(w.Width, w.Height, g.Transform.Shift(w.Col, w.Row))
	for r := 0; r < w.Height; r++ {
		src := (w.Row+r)*g.Width + w.Col
		copy(out.Pix[r*w.Width:(r+1)*w.Width], g.Pix[src:src+w.Width])
	}
	return out
}

// Gray returns an image.Gray view sharing the grid's pixels.
func (g *Grid) Gray() *image.Gray {
	return &image.Gray{Pix: g.Pix, Stride: g.Width, Rect: image.Rect(0, 0, g.Width, g.Height)}
}

// Valid returns the number of unmasked pixels.
func (g *Grid) Valid() int {
	n := 0
	for _, v := range g.Pix {
		if v != NoData {
			n++
		}
	}
	return n
}
