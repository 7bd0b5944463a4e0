// Package lookup reports the risk level at geocoded addresses.
package lookup

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/country"
	"github.com/sells-group/riskmap-cli/internal/raster"
	"github.com/sells-group/riskmap-cli/pkg/geocode"
)

// Layer is a named risk raster in Web Mercator.
type Layer struct {
	Name string
	Grid *raster.Grid
}

// Risk is the value of one layer at an address. OK is false when the
// address is unmatched, outside the raster or on a masked pixel.
type Risk struct {
	Value uint8
	OK    bool
}

// Row is the lookup result for one address.
type Row struct {
	Address   string
	Matched   bool
	Latitude  float64
	Longitude float64
	X, Y      float64
	Admin     string
	SovA3     string
	Risks     []Risk // one per layer, in layer order
}

// Service geocodes addresses and samples risk layers at them.
type Service struct {
	geocoder  geocode.Client
	projector *country.Projector
	countries []country.Country
	layers    []Layer
}

// New creates a Service. countries may be empty, in which case rows carry
// no country.
func New(g geocode.Client, countries []country.Country, layers ...Layer) (*Service, error) {
	p, err := country.NewProjector(country.WGS84)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: projector")
	}
	return &Service{geocoder: g, projector: p, countries: countries, layers: layers}, nil
}

// Lookup resolves every address in order. Unmatched addresses produce a row
// with no risk rather than an error.
func (s *Service) Lookup(ctx context.Context, addresses []string) ([]Row, error) {
	log := zap.L().With(zap.String("component", "lookup"))
	rows := make([]Row, 0, len(addresses))
	for _, addr := range addresses {
		res, err := s.geocoder.Geocode(ctx, addr)
		if err != nil {
			return nil, eris.Wrapf(err, "lookup: geocode %q", addr)
		}
		row := Row{Address: addr, Risks: make([]Risk, len(s.layers))}
		if res == nil || !res.Matched {
			log.Info("address not found", zap.String("address", addr))
			rows = append(rows, row)
			continue
		}

		row.Matched = true
		row.Latitude, row.Longitude = res.Latitude, res.Longitude
		row.X, row.Y, err = s.projector.Project(res.Longitude, res.Latitude)
		if err != nil {
			return nil, eris.Wrapf(err, "lookup: project %q", addr)
		}

		if c, ok := country.Locate(s.countries, row.X, row.Y); ok {
			row.Admin, row.SovA3 = c.Admin, c.SovA3
		}
		for i, l := range s.layers {
			v, ok, err := l.Grid.Sample(row.X, row.Y)
			if err != nil {
				return nil, eris.Wrapf(err, "lookup: sample %s", l.Name)
			}
			row.Risks[i] = Risk{Value: v, OK: ok && v != raster.NoData}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV writes rows with one risk column per layer. Missing risks are
// empty cells.
func (s *Service) WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	header := []string{"ADDRESS", "LAT", "LON", "X", "Y", "ADMIN", "SOV_A3"}
	for _, l := range s.layers {
		header = append(header, l.Name)
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "lookup: write header")
	}

	for _, r := range rows {
		rec := []string{r.Address, "", "", "", "", r.Admin, r.SovA3}
		if r.Matched {
			rec[1] = strconv.FormatFloat(r.Latitude, 'f', 6, 64)
			rec[2] = strconv.FormatFloat(r.Longitude, 'f', 6, 64)
			rec[3] = strconv.FormatFloat(r.X, 'f', 2, 64)
			rec[4] = strconv.FormatFloat(r.Y, 'f', 2, 64)
		}
		for _, risk := range r.Risks {
			if risk.OK {
				rec = append(rec, strconv.Itoa(int(risk.Value)))
			} else {
				rec = append(rec, "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "lookup: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "lookup: flush csv")
}
