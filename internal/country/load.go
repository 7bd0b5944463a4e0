package country

import (
	"os"
	"slices"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Natural Earth attribute names.
const (
	fieldAdmin       = "ADMIN"
	fieldSovereignty = "SOVEREIGNT"
	fieldSovA3       = "SOV_A3"
	fieldType        = "TYPE"
)

// DefaultTypes are the TYPE values kept by Load.
var DefaultTypes = []string{"Sovereign country", "Country", "Indeterminate"}

// DefaultExclude lists ADMIN names dropped by Load.
var DefaultExclude = []string{"Antarctica"}

type loadOptions struct {
	types   []string
	exclude []string
	source  string
}

// Option configures Load.
type Option func(*loadOptions)

// WithTypes sets the TYPE values to keep. An empty list keeps every type.
func WithTypes(types []string) Option {
	return func(o *loadOptions) {
		o.types = types
	}
}

// WithExclude sets the ADMIN names to drop.
func WithExclude(names []string) Option {
	return func(o *loadOptions) {
		o.exclude = names
	}
}

// WithSourceProj sets the proj4 definition of the shapefile coordinates.
func WithSourceProj(def string) Option {
	return func(o *loadOptions) {
		if def != "" {
			o.source = def
		}
	}
}

// Load reads an admin-0 shapefile, filters it and projects every boundary
// to Web Mercator. Records without polygon geometry are skipped.
func Load(shpPath string, opts ...Option) ([]Country, error) {
	o := loadOptions{
		types:   DefaultTypes,
		exclude: DefaultExclude,
		source:  WGS84,
	}
	for _, opt := range opts {
		opt(&o)
	}

	projector, err := NewProjector(o.source)
	if err != nil {
		return nil, err
	}
	dec := codepage(shpPath)

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "country: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToUpper(name)] = i
	}
	for _, name := range []string{fieldAdmin, fieldSovereignty, fieldSovA3, fieldType} {
		if _, ok := fieldIdx[name]; !ok {
			return nil, eris.Errorf("country: shapefile %s has no %s field", shpPath, name)
		}
	}

	attr := func(name string) string {
		v := strings.TrimSpace(strings.TrimRight(reader.Attribute(fieldIdx[name]), "\x00"))
		if dec == nil {
			return v
		}
		if s, err := dec.String(v); err == nil {
			return s
		}
		return v
	}

	var countries []Country
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		c := Country{
			Admin:       attr(fieldAdmin),
			Sovereignty: attr(fieldSovereignty),
			SovA3:       attr(fieldSovA3),
			Type:        attr(fieldType),
		}
		if len(o.types) > 0 && !slices.Contains(o.types, c.Type) {
			continue
		}
		if slices.Contains(o.exclude, c.Admin) {
			continue
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := assemble(poly)
		if mp == nil {
			skipped++
			continue
		}
		if err := projector.projectFlat(mp.FlatCoords()); err != nil {
			return nil, eris.Wrapf(err, "country: reproject %s", c.Admin)
		}
		c.Geometry = mp
		countries = append(countries, c)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "country: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("country: skipped records without polygons",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	zap.L().Info("country: loaded boundaries",
		zap.String("path", shpPath),
		zap.Int("countries", len(countries)),
	)
	return countries, nil
}

// assemble groups shapefile parts into polygons: a clockwise ring starts a
// new polygon and counter-clockwise rings are holes of the preceding one.
func assemble(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("country: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if current == nil || !xy.IsRingCounterClockwise(geom.XY, flat) {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("country: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// codepage returns the DBF decoder named by the .cpg sidecar, or nil for
// UTF-8 and unknown codepages.
func codepage(shpPath string) *encoding.Decoder {
	base := strings.TrimSuffix(shpPath, ".shp")
	data, err := os.ReadFile(base + ".cpg")
	if err != nil {
		return nil
	}
	switch strings.ToUpper(strings.TrimSpace(string(data))) {
	case "1252", "CP1252", "WINDOWS-1252", "ANSI 1252":
		return charmap.Windows1252.NewDecoder()
	case "ISO-8859-1", "ISO88591", "8859-1", "LATIN1", "88591":
		return charmap.ISO8859_1.NewDecoder()
	default:
		return nil
	}
}
