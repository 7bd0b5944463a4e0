package zonal

import (
	"context"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/riskmap-cli/internal/country"
	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/raster"
)

// Aggregator computes per-country statistics of a risk raster.
type Aggregator struct {
	concurrency int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithConcurrency sets how many countries are processed in parallel.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{concurrency: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate returns one record per country, in input order. Countries that
// do not overlap any valid pixel get a record with zero pixels and NaN
// statistics.
func (a *Aggregator) Aggregate(ctx context.Context, g *raster.Grid, countries []country.Country, riskType string) ([]model.StatsRecord, error) {
	out := make([]model.StatsRecord, len(countries))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.concurrency)

	for i := range countries {
		c := &countries[i]
		eg.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			clipped, err := Clip(g, country.Rings(c.Geometry))
			if err != nil {
				return eris.Wrapf(err, "zonal: clip %s", c.Admin)
			}
			s := Summarize(clipped.Pix)
			out[i] = model.StatsRecord{
				SovA3:       c.SovA3,
				Sovereignty: c.Sovereignty,
				Admin:       c.Admin,
				RiskType:    riskType,
				Median:      s.Median,
				Mean:        s.Mean,
				Std:         s.Std,
				Max:         s.Max,
				Min:         s.Min,
				Pixels:      s.Count,
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, eris.Wrapf(err, "zonal: aggregate %s", riskType)
	}

	var empty int
	for _, r := range out {
		if r.Pixels == 0 {
			empty++
		}
	}
	zap.L().Info("zonal: aggregated layer",
		zap.String("risk_type", riskType),
		zap.Int("countries", len(out)),
		zap.Int("without_data", empty),
	)
	return out, nil
}
