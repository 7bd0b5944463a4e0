// Package pipeline runs the risk-map stages: download, classify, aggregate
// and report.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/riskmap-cli/internal/config"
	"github.com/sells-group/riskmap-cli/internal/country"
	"github.com/sells-group/riskmap-cli/internal/risk"
	"github.com/sells-group/riskmap-cli/internal/store"
	"github.com/sells-group/riskmap-cli/internal/tiles"
	"github.com/sells-group/riskmap-cli/internal/zonal"
)

// Files written into each layer directory besides the downloaded map.
const (
	RiskFile      = "risk_map.tif"
	PreviewFile   = "preview.png"
	ChartFile     = "chart.html"
	HistogramFile = "histogram.png"
)

// Pipeline wires the stages to configuration and the optional result store.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	fetcher    *tiles.HTTPFetcher
	classifier *risk.Classifier
	aggregator *zonal.Aggregator

	countriesOnce sync.Once
	countries     []country.Country
	countriesErr  error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCountries supplies country boundaries instead of loading the shapefile.
func WithCountries(cs []country.Country) Option {
	return func(p *Pipeline) {
		p.countriesOnce.Do(func() { p.countries = cs })
	}
}

// WithFetcher overrides the HTTP fetcher used for tiles.
func WithFetcher(f *tiles.HTTPFetcher) Option {
	return func(p *Pipeline) {
		p.fetcher = f
	}
}

// New creates a Pipeline. st may be nil, in which case runs, statistics and
// tiles are not persisted.
func New(cfg *config.Config, st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:   cfg,
		store: st,
		classifier: risk.NewClassifier(
			risk.WithChunks(cfg.Classify.Chunks),
			risk.WithWorkers(cfg.Classify.Workers),
		),
		aggregator: zonal.NewAggregator(zonal.WithConcurrency(cfg.Zonal.Concurrency)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fetcher == nil {
		p.fetcher = tiles.NewHTTPFetcher(tiles.HTTPOptions{
			UserAgent:  cfg.Tiles.UserAgent,
			Timeout:    time.Duration(cfg.Tiles.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Tiles.MaxRetries,
			RateLimit:  cfg.Tiles.RateLimit,
		})
	}
	return p
}

// Downloader returns a tile downloader configured for this pipeline.
func (p *Pipeline) Downloader() *tiles.Downloader {
	opts := []tiles.DownloaderOption{
		tiles.WithZoom(p.cfg.Tiles.Zoom),
		tiles.WithConcurrency(p.cfg.Tiles.Concurrency),
	}
	if p.cfg.Tiles.Cache && p.store != nil {
		opts = append(opts, tiles.WithCache(p.store))
	}
	return tiles.NewDownloader(p.fetcher, p.cfg.Tiles.BaseURL, p.cfg.Output.Dir, opts...)
}

// Countries loads the configured country boundaries once.
func (p *Pipeline) Countries() ([]country.Country, error) {
	p.countriesOnce.Do(func() {
		c := p.cfg.Countries
		p.countries, p.countriesErr = country.Load(c.Shapefile,
			country.WithTypes(c.Types),
			country.WithExclude(c.Exclude),
			country.WithSourceProj(c.SourceProj),
		)
	})
	return p.countries, p.countriesErr
}

// Discover lists layer directories under dir: those containing both the
// stitched map and its world file. The result is sorted.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read %s", dir)
	}
	var layers []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		layer := filepath.Join(dir, e.Name())
		if fileExists(filepath.Join(layer, tiles.ImageFile)) && fileExists(filepath.Join(layer, tiles.WorldFile)) {
			layers = append(layers, layer)
		}
	}
	slices.Sort(layers)
	return layers, nil
}

// LayerName returns the risk type of a layer directory: the manifest subject
// when present, otherwise the directory name.
func LayerName(dir string) string {
	if m, err := tiles.ReadManifest(dir); err == nil && m.Subject != "" {
		return m.Subject
	}
	return filepath.Base(dir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type runIDKey struct{}

// runID returns the run recorded by Track, or "".
func runID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Track records fn as a run in the store, if one is configured, and logs its
// duration. The run is marked failed when fn returns an error.
func (p *Pipeline) Track(ctx context.Context, command string, layers []string, fn func(ctx context.Context) error) error {
	log := zap.L().With(zap.String("command", command))
	start := time.Now()

	if p.store != nil {
		run, err := p.store.CreateRun(ctx, command, layers)
		if err != nil {
			return eris.Wrap(err, "pipeline: create run")
		}
		ctx = context.WithValue(ctx, runIDKey{}, run.ID)
		log = log.With(zap.String("run_id", run.ID))
	}

	log.Info("pipeline: starting", zap.Int("layers", len(layers)))
	fnErr := fn(ctx)

	if id := runID(ctx); id != "" {
		// Record completion even when the stage context was canceled.
		if err := p.store.CompleteRun(context.WithoutCancel(ctx), id, fnErr); err != nil {
			log.Warn("pipeline: failed to complete run", zap.Error(err))
		}
	}

	duration := time.Since(start).Milliseconds()
	if fnErr != nil {
		log.Error("pipeline: failed", zap.Int64("duration_ms", duration), zap.Error(fnErr))
		return fnErr
	}
	log.Info("pipeline: complete", zap.Int64("duration_ms", duration))
	return nil
}

// Run executes every stage for the given layer codes, or the configured
// layers when codes is empty.
func (p *Pipeline) Run(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		codes = p.cfg.Layers
	}
	return p.Track(ctx, "run", codes, func(ctx context.Context) error {
		dirs, err := p.Download(ctx, codes)
		if err != nil {
			return err
		}
		if err := p.Classify(ctx, dirs); err != nil {
			return err
		}
		if _, err := p.Aggregate(ctx, dirs); err != nil {
			return err
		}
		return p.Report(ctx, dirs)
	})
}
