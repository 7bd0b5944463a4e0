// Package zonal computes per-country statistics of risk rasters.
package zonal

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/raster"
)

// Clip crops g to the bounding window of rings and masks every pixel whose
// centre lies outside them. Rings are combined with the even-odd rule, so
// holes are excluded. An empty grid is returned when rings miss the raster.
func Clip(g *raster.Grid, rings [][]float64) (*raster.Grid, error) {
	t := g.Transform
	if t.B != 0 || t.D != 0 || t.A <= 0 || t.E >= 0 {
		return nil, eris.New("zonal: only north-up rasters are supported")
	}

	minX, minY, maxX, maxY, ok := ringBounds(rings)
	if !ok {
		return raster.NewGrid(0, 0, t), nil
	}
	w, err := g.WindowForBounds(minX, minY, maxX, maxY)
	if err != nil {
		return nil, eris.Wrap(err, "zonal: window for bounds")
	}
	out := g.Crop(w)
	if w.Empty() {
		return out, nil
	}

	keep := make([]bool, w.Width)
	var xs []float64
	for r := 0; r < w.Height; r++ {
		_, yc := out.Transform.Center(0, r)
		xs = crossings(xs[:0], rings, yc)

		clear(keep)
		for k := 0; k+1 < len(xs); k += 2 {
			c0, c1 := colSpan(out.Transform, xs[k], xs[k+1], w.Width)
			for c := c0; c < c1; c++ {
				keep[c] = true
			}
		}

		row := out.Pix[r*w.Width : (r+1)*w.Width]
		for c := range row {
			if !keep[c] {
				row[c] = raster.NoData
			}
		}
	}
	return out, nil
}

// crossings appends the sorted x positions where the horizontal line at y
// crosses any ring edge.
func crossings(xs []float64, rings [][]float64, y float64) []float64 {
	for _, ring := range rings {
		n := len(ring) / 2
		for i := 0; i < n; i++ {
			x0, y0 := ring[2*i], ring[2*i+1]
			j := (i + 1) % n
			x1, y1 := ring[2*j], ring[2*j+1]
			if (y0 > y) == (y1 > y) {
				continue
			}
			xs = append(xs, x0+(y-y0)*(x1-x0)/(y1-y0))
		}
	}
	slices.Sort(xs)
	return xs
}

// colSpan returns the half-open column range whose pixel centres fall in
// [a, b), clipped to [0, width).
func colSpan(t raster.Transform, a, b float64, width int) (int, int) {
	c0 := int(math.Ceil((a-t.C)/t.A - 0.5))
	c1 := int(math.Ceil((b-t.C)/t.A - 0.5))
	return max(c0, 0), min(c1, width)
}

func ringBounds(rings [][]float64) (minX, minY, maxX, maxY float64, ok bool) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, ring := range rings {
		for i := 0; i+1 < len(ring); i += 2 {
			minX, maxX = math.Min(minX, ring[i]), math.Max(maxX, ring[i])
			minY, maxY = math.Min(minY, ring[i+1]), math.Max(maxY, ring[i+1])
			ok = true
		}
	}
	return minX, minY, maxX, maxY, ok
}
