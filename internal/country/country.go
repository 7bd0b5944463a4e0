// Package country loads admin-0 country boundaries and answers
// point-in-country queries in Web Mercator.
package country

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Country is one admin-0 unit with its projected boundary.
type Country struct {
	Admin       string
	Sovereignty string
	SovA3       string
	Type        string
	Geometry    *geom.MultiPolygon
}

// Bounds returns the bounding box of the boundary.
func (c *Country) Bounds() *geom.Bounds {
	if c.Geometry == nil {
		return geom.NewBounds(geom.XY)
	}
	return c.Geometry.Bounds()
}

// Contains reports whether (x, y) lies inside the boundary. All rings are
// combined with the even-odd rule, so holes and enclaves are outside.
func (c *Country) Contains(x, y float64) bool {
	if c.Geometry == nil {
		return false
	}
	b := c.Geometry.Bounds()
	if x < b.Min(0) || x > b.Max(0) || y < b.Min(1) || y > b.Max(1) {
		return false
	}
	pt := geom.Coord{x, y}
	inside := false
	for _, ring := range Rings(c.Geometry) {
		if xy.IsPointInRing(geom.XY, pt, ring) {
			inside = !inside
		}
	}
	return inside
}

// Rings returns the flat coordinates of every ring of mp.
func Rings(mp *geom.MultiPolygon) [][]float64 {
	if mp == nil {
		return nil
	}
	var rings [][]float64
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		for j := 0; j < poly.NumLinearRings(); j++ {
			rings = append(rings, poly.LinearRing(j).FlatCoords())
		}
	}
	return rings
}

// Locate returns the first country containing (x, y).
func Locate(countries []Country, x, y float64) (*Country, bool) {
	for i := range countries {
		if countries[i].Contains(x, y) {
			return &countries[i], true
		}
	}
	return nil, false
}
