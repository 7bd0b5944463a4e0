package country

import (
	"math"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
)

// WebMercator is the proj4 definition of EPSG:3857.
const WebMercator = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"

// WGS84 is the proj4 definition of geographic EPSG:4326.
const WGS84 = "+proj=longlat +datum=WGS84 +no_defs"

// MaxLatitude is the latitude limit of the Web Mercator square.
const MaxLatitude = 85.05112878

// Projector transforms coordinates from a source CRS into Web Mercator.
type Projector struct {
	trans    proj.Transformer
	geodetic bool
}

// NewProjector parses a proj4 source definition.
func NewProjector(source string) (*Projector, error) {
	src, err := proj.Parse(source)
	if err != nil {
		return nil, eris.Wrapf(err, "country: parse source projection %q", source)
	}
	dst, err := proj.Parse(WebMercator)
	if err != nil {
		return nil, eris.Wrap(err, "country: parse web mercator")
	}
	trans, err := src.NewTransform(dst)
	if err != nil {
		return nil, eris.Wrap(err, "country: create transform")
	}
	return &Projector{
		trans:    trans,
		geodetic: strings.Contains(source, "+proj=longlat") || strings.Contains(source, "+proj=latlong"),
	}, nil
}

// Project converts one coordinate. Geographic latitudes are clamped to the
// Web Mercator limits so polar vertices stay finite.
func (p *Projector) Project(x, y float64) (float64, float64, error) {
	if p.geodetic {
		y = math.Max(-MaxLatitude, math.Min(MaxLatitude, y))
	}
	px, py, err := p.trans(x, y)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "country: project %f,%f", x, y)
	}
	return px, py, nil
}

// projectFlat projects an XY flat coordinate slice in place.
func (p *Projector) projectFlat(flat []float64) error {
	for i := 0; i+1 < len(flat); i += 2 {
		x, y, err := p.Project(flat[i], flat[i+1])
		if err != nil {
			return err
		}
		flat[i], flat[i+1] = x, y
	}
	return nil
}
