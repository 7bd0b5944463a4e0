package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/country"
	"github.com/sells-group/riskmap-cli/internal/lookup"
	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/raster"
	"github.com/sells-group/riskmap-cli/internal/report"
	"github.com/sells-group/riskmap-cli/internal/risk"
	"github.com/sells-group/riskmap-cli/internal/tiles"
	"github.com/sells-group/riskmap-cli/internal/zonal"
	"github.com/sells-group/riskmap-cli/pkg/geocode"
)

// Download fetches and stitches each layer and returns the layer directories
// in code order.
func (p *Pipeline) Download(ctx context.Context, codes []string) ([]string, error) {
	d := p.Downloader()
	dirs := make([]string, 0, len(codes))
	for _, code := range codes {
		layer, err := d.Download(ctx, code)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: download %s", code)
		}
		dirs = append(dirs, layer.Dir)
	}
	return dirs, nil
}

// Classify converts each layer's stitched map into a risk raster and a
// preview image.
func (p *Pipeline) Classify(ctx context.Context, dirs []string) error {
	for _, dir := range dirs {
		if err := p.classifyLayer(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) classifyLayer(ctx context.Context, dir string) error {
	name := LayerName(dir)
	log := zap.L().With(zap.String("component", "pipeline.classify"), zap.String("layer", name))

	img, err := tiles.ReadImage(dir)
	if err != nil {
		return err
	}
	t, err := raster.ReadWorldFile(filepath.Join(dir, tiles.WorldFile))
	if err != nil {
		return err
	}

	g, err := p.classifier.Classify(ctx, img, t)
	if err != nil {
		return eris.Wrapf(err, "pipeline: classify %s", name)
	}
	if err := raster.WriteTIFF(filepath.Join(dir, RiskFile), g); err != nil {
		return err
	}
	if err := risk.WritePreview(filepath.Join(dir, PreviewFile), g, p.classifier.Palette(), name); err != nil {
		return err
	}

	log.Info("layer classified",
		zap.Int("width", g.Width),
		zap.Int("height", g.Height),
		zap.Int("valid_pixels", g.Valid()),
	)
	return nil
}

// Aggregate computes per-country statistics for each classified layer,
// writes the per-layer CSV and saves the records to the store.
func (p *Pipeline) Aggregate(ctx context.Context, dirs []string) ([]report.Layer, error) {
	countries, err := p.Countries()
	if err != nil {
		return nil, err
	}

	out := make([]report.Layer, 0, len(dirs))
	for _, dir := range dirs {
		name := LayerName(dir)
		g, err := raster.ReadTIFF(filepath.Join(dir, RiskFile))
		if err != nil {
			return nil, err
		}

		recs, err := p.aggregator.Aggregate(ctx, g, countries, name)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: aggregate %s", name)
		}
		if err := report.WriteCSV(filepath.Join(dir, report.LayerFile), recs); err != nil {
			return nil, err
		}
		if err := p.saveStats(ctx, name, recs); err != nil {
			return nil, err
		}

		zap.L().Info("layer aggregated",
			zap.String("layer", name),
			zap.Int("countries", len(recs)),
			zap.Int("with_data", countWithData(recs)),
		)
		out = append(out, report.Layer{Name: name, Records: recs})
	}
	return out, nil
}

func (p *Pipeline) saveStats(ctx context.Context, name string, recs []model.StatsRecord) error {
	if p.store == nil {
		return nil
	}
	n, err := p.store.SaveStats(ctx, runID(ctx), recs)
	if err != nil {
		return eris.Wrapf(err, "pipeline: save stats %s", name)
	}
	zap.L().Debug("stats saved", zap.String("layer", name), zap.Int64("rows", n))
	return nil
}

func countWithData(recs []model.StatsRecord) int {
	n := 0
	for _, r := range recs {
		if r.HasData() {
			n++
		}
	}
	return n
}

// Report combines the per-layer CSVs into the configured report file, in
// layer order, and writes the XLSX workbook plus per-layer charts.
func (p *Pipeline) Report(ctx context.Context, dirs []string) error {
	paths := make([]string, len(dirs))
	for i, dir := range dirs {
		paths[i] = filepath.Join(dir, report.LayerFile)
	}

	out := filepath.Join(p.cfg.Output.Dir, p.cfg.Output.Report)
	if _, err := report.Combine(paths, out); err != nil {
		return err
	}

	layers := make([]report.Layer, 0, len(dirs))
	for i, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := LayerName(dir)
		recs, err := report.ReadCSV(paths[i])
		if err != nil {
			return err
		}
		layers = append(layers, report.Layer{Name: name, Records: recs})

		if err := report.WriteBarChart(filepath.Join(dir, ChartFile), name, recs); err != nil {
			return err
		}
		g, err := raster.ReadTIFF(filepath.Join(dir, RiskFile))
		if err != nil {
			return err
		}
		if err := report.WriteHistogram(filepath.Join(dir, HistogramFile), name, zonal.NewHistogram(g.Pix)); err != nil {
			return err
		}
	}

	xlsxPath := strings.TrimSuffix(out, filepath.Ext(out)) + ".xlsx"
	if err := report.WriteXLSX(xlsxPath, layers); err != nil {
		return err
	}

	zap.L().Info("report written",
		zap.String("csv", out),
		zap.String("xlsx", xlsxPath),
		zap.Int("layers", len(layers)),
	)
	return nil
}

// Preview renders a layer's risk raster, optionally clipped to one country,
// and writes it to out.
func (p *Pipeline) Preview(dir, admin, out string) error {
	g, err := raster.ReadTIFF(filepath.Join(dir, RiskFile))
	if err != nil {
		return err
	}
	title := LayerName(dir)

	if admin != "" {
		countries, err := p.Countries()
		if err != nil {
			return err
		}
		c, ok := findCountry(countries, admin)
		if !ok {
			return eris.Errorf("pipeline: country %q not found", admin)
		}
		g, err = zonal.Clip(g, country.Rings(c.Geometry))
		if err != nil {
			return eris.Wrapf(err, "pipeline: clip %s", c.Admin)
		}
		if len(g.Pix) == 0 {
			return eris.Errorf("pipeline: %s does not overlap %s", c.Admin, title)
		}
		title += " - " + c.Admin
	}

	return risk.WritePreview(out, g, p.classifier.Palette(), title)
}

func findCountry(countries []country.Country, admin string) (*country.Country, bool) {
	for i := range countries {
		if strings.EqualFold(countries[i].Admin, admin) || strings.EqualFold(countries[i].SovA3, admin) {
			return &countries[i], true
		}
	}
	return nil, false
}

// NewLookup builds an address lookup over the risk rasters of dirs.
func (p *Pipeline) NewLookup(g geocode.Client, dirs []string) (*lookup.Service, error) {
	countries, err := p.Countries()
	if err != nil {
		return nil, err
	}
	layers := make([]lookup.Layer, 0, len(dirs))
	for _, dir := range dirs {
		grid, err := raster.ReadTIFF(filepath.Join(dir, RiskFile))
		if err != nil {
			return nil, err
		}
		layers = append(layers, lookup.Layer{Name: LayerName(dir), Grid: grid})
	}
	return lookup.New(g, countries, layers...)
}
