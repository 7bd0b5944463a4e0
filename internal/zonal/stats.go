package zonal

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/riskmap-cli/internal/raster"
)

// Summary holds descriptive statistics of the valid pixels of a raster.
type Summary struct {
	Median float64
	Mean   float64
	Std    float64
	Min    float64
	Max    float64
	Count  int64
}

// Histogram counts pixels per value, skipping NoData.
type Histogram [256]int64

// NewHistogram counts the valid pixels of pix.
func NewHistogram(pix []uint8) Histogram {
	var h Histogram
	for _, v := range pix {
		if v != raster.NoData {
			h[v]++
		}
	}
	return h
}

// Total returns the number of counted pixels.
func (h *Histogram) Total() int64 {
	var n int64
	for _, c := range h {
		n += c
	}
	return n
}

// Summarize computes statistics over the valid pixels of pix. The standard
// deviation is the population value and the median averages the two middle
// values for even counts. All statistics are NaN when no pixel is valid.
func Summarize(pix []uint8) Summary {
	h := NewHistogram(pix)
	return h.Summary()
}

// Summary computes statistics from the histogram.
func (h *Histogram) Summary() Summary {
	var values, weights []float64
	s := Summary{Min: math.NaN(), Max: math.NaN()}
	for v, c := range h {
		if c == 0 {
			continue
		}
		if math.IsNaN(s.Min) {
			s.Min = float64(v)
		}
		s.Max = float64(v)
		s.Count += c
		values = append(values, float64(v))
		weights = append(weights, float64(c))
	}
	if s.Count == 0 {
		nan := math.NaN()
		return Summary{Median: nan, Mean: nan, Std: nan, Min: nan, Max: nan}
	}

	s.Mean, s.Std = stat.PopMeanStdDev(values, weights)
	s.Median = (h.nth((s.Count-1)/2) + h.nth(s.Count/2)) / 2
	return s
}

// nth returns the k-th smallest counted value, zero-based.
func (h *Histogram) nth(k int64) float64 {
	var seen int64
	for v, c := range h {
		seen += c
		if k < seen {
			return float64(v)
		}
	}
	return math.NaN()
}
