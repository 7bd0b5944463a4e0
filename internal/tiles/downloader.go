package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // tile caches may be JPEG
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/riskmap-cli/internal/raster"
)

// Cache stores raw tile bytes between runs.
type Cache interface {
	GetTile(ctx context.Context, key string) ([]byte, error)
	SetTile(ctx context.Context, key string, data []byte) error
}

// BulkCache is a Cache that can load many tiles in one round trip. The
// downloader prefers it for tiles fetched in a run and falls back to SetTile
// when the bulk load fails.
type BulkCache interface {
	Cache
	WarmTiles(ctx context.Context, tiles map[string][]byte) (int64, error)
}

// CacheKey builds the cache key for a tile.
func CacheKey(code string, z, x, y int) string {
	return fmt.Sprintf("%s/%d/%d/%d", code, z, x, y)
}

// Downloader fetches every tile of a layer at one zoom and stitches them.
type Downloader struct {
	fetcher     *HTTPFetcher
	cache       Cache
	baseURL     string
	zoom        int
	concurrency int
	outDir      string
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithCache enables the persistent tile cache.
func WithCache(c Cache) DownloaderOption {
	return func(d *Downloader) {
		d.cache = c
	}
}

// WithConcurrency sets the number of tiles fetched in parallel.
func WithConcurrency(n int) DownloaderOption {
	return func(d *Downloader) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithZoom sets the zoom level to download.
func WithZoom(z int) DownloaderOption {
	return func(d *Downloader) {
		d.zoom = z
	}
}

// NewDownloader creates a Downloader writing layer directories under outDir.
func NewDownloader(f *HTTPFetcher, baseURL, outDir string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		fetcher:     f,
		baseURL:     baseURL,
		zoom:        5,
		concurrency: 16,
		outDir:      outDir,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Layer is the result of downloading one risk code.
type Layer struct {
	Dir      string
	Image    *image.NRGBA
	Manifest *Manifest
}

// tileResult is one decoded tile. data holds the raw bytes of a tile fetched
// from the server in this run, pending a cache write.
type tileResult struct {
	img    image.Image
	data   []byte
	cached bool
}

// Download fetches a layer and writes map.png, map.pgw and layer.yaml into
// outDir/<subject>. Tiles that fail to download are left transparent.
func (d *Downloader) Download(ctx context.Context, code string) (*Layer, error) {
	log := zap.L().With(
		zap.String("component", "tiles.download"),
		zap.String("code", code),
	)

	serviceURL := ServiceURL(d.baseURL, code)
	info, err := FetchServiceInfo(ctx, d.fetcher, serviceURL)
	if err != nil {
		return nil, err
	}
	grid, err := NewGrid(info.TileInfo, d.zoom)
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: layer %s", code)
	}

	subject := info.Subject()
	if subject == "" {
		subject = code
	}
	dir := filepath.Join(d.outDir, DirName(subject))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "tiles: create layer dir %s", dir)
	}

	log.Info("downloading layer",
		zap.String("subject", subject),
		zap.Int("tiles_x", grid.TilesX),
		zap.Int("tiles_y", grid.TilesY),
	)

	results, err := d.fetchAll(ctx, code, serviceURL, grid)
	if err != nil {
		return nil, err
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, grid.Width(), grid.Height()))
	var missing, cached int
	for x := 0; x < grid.TilesX; x++ {
		for y := 0; y < grid.TilesY; y++ {
			res := results[x*grid.TilesY+y]
			if res.img == nil {
				missing++
				continue
			}
			if res.cached {
				cached++
			}
			tile := res.img
			at := image.Pt(x*grid.TileSize, y*grid.TileSize)
			draw.Draw(canvas, tile.Bounds().Sub(tile.Bounds().Min).Add(at), tile, tile.Bounds().Min, draw.Src)
		}
	}
	d.cacheTiles(ctx, code, grid, results)

	if err := writePNG(filepath.Join(dir, ImageFile), canvas); err != nil {
		return nil, err
	}
	if err := raster.WriteWorldFile(filepath.Join(dir, WorldFile), grid.Transform()); err != nil {
		return nil, err
	}

	m := &Manifest{
		Code:         code,
		Subject:      subject,
		ServiceURL:   serviceURL,
		Zoom:         grid.Zoom,
		TileSize:     grid.TileSize,
		Resolution:   grid.Resolution,
		OriginX:      grid.OriginX,
		OriginY:      grid.OriginY,
		TilesX:       grid.TilesX,
		TilesY:       grid.TilesY,
		MissingTiles: missing,
		CachedTiles:  cached,
		FetchedAt:    time.Now().UTC(),
	}
	if err := WriteManifest(dir, m); err != nil {
		return nil, err
	}

	log.Info("layer stitched",
		zap.String("dir", dir),
		zap.Int("missing_tiles", missing),
		zap.Int("cached_tiles", cached),
	)
	return &Layer{Dir: dir, Image: canvas, Manifest: m}, nil
}

// fetchAll downloads all tiles concurrently. Results are indexed in (x, y)
// enumeration order; a nil entry means the tile is missing.
func (d *Downloader) fetchAll(ctx context.Context, code, serviceURL string, grid Grid) ([]tileResult, error) {
	results := make([]tileResult, grid.TilesX*grid.TilesY)

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.concurrency)

	for x := 0; x < grid.TilesX; x++ {
		for y := 0; y < grid.TilesY; y++ {
			idx := x*grid.TilesY + y
			eg.Go(func() error {
				res, err := d.loadTile(gCtx, code, serviceURL, grid.Zoom, x, y)
				if err != nil {
					if gCtx.Err() != nil {
						return gCtx.Err()
					}
					if !errors.Is(err, ErrNotFound) {
						zap.L().Debug("tiles: skipping tile",
							zap.String("code", code),
							zap.Int("x", x), zap.Int("y", y),
							zap.Error(err),
						)
					}
					return nil
				}
				results[idx] = res
				return nil
			})
		}
	}

	if err := eg.Wait(); err != nil {
		return nil, eris.Wrapf(err, "tiles: fetch layer %s", code)
	}
	return results, nil
}

// loadTile returns a decoded tile, from the cache when it holds a decodable
// copy and from the server otherwise.
func (d *Downloader) loadTile(ctx context.Context, code, serviceURL string, z, x, y int) (tileResult, error) {
	key := CacheKey(code, z, x, y)
	if d.cache != nil {
		if data, err := d.cache.GetTile(ctx, key); err == nil && data != nil {
			img, _, err := image.Decode(bytes.NewReader(data))
			if err == nil {
				return tileResult{img: img, cached: true}, nil
			}
			zap.L().Debug("tiles: refetching undecodable cached tile", zap.String("key", key), zap.Error(err))
		}
	}

	data, err := d.fetcher.Get(ctx, TileURL(serviceURL, z, x, y))
	if err != nil {
		return tileResult{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return tileResult{}, eris.Wrapf(err, "tiles: decode tile %s", key)
	}
	return tileResult{img: img, data: data}, nil
}

// cacheTiles stores the tiles fetched in this run. Cache failures are logged
// and never fail the download.
func (d *Downloader) cacheTiles(ctx context.Context, code string, grid Grid, results []tileResult) {
	if d.cache == nil {
		return
	}
	fresh := make(map[string][]byte)
	for i, res := range results {
		if res.data != nil {
			fresh[CacheKey(code, grid.Zoom, i/grid.TilesY, i%grid.TilesY)] = res.data
		}
	}
	if len(fresh) == 0 {
		return
	}

	if bulk, ok := d.cache.(BulkCache); ok {
		n, err := bulk.WarmTiles(ctx, fresh)
		if err == nil {
			zap.L().Debug("tiles: bulk cached tiles", zap.String("code", code), zap.Int64("tiles", n))
			return
		}
		zap.L().Debug("tiles: bulk cache load failed, writing tiles one at a time", zap.Error(err))
	}
	for key, data := range fresh {
		if err := d.cache.SetTile(ctx, key, data); err != nil {
			zap.L().Debug("tiles: cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// ReadImage loads a stitched layer image.
func ReadImage(dir string) (image.Image, error) {
	path := filepath.Join(dir, ImageFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	img, err := png.Decode(f)
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: decode %s", path)
	}
	return img, nil
}

// DirName makes a layer subject safe to use as a single directory name.
// Names that are empty or made only of dots become "layer".
func DirName(subject string) string {
	r := strings.NewReplacer("/", "-", "\\", "-", ":", "-", "\x00", "")
	name := strings.TrimSpace(r.Replace(subject))
	if strings.Trim(name, ".") == "" {
		return "layer"
	}
	return name
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "tiles: create %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "tiles: encode %s", path)
	}
	return eris.Wrap(f.Close(), "tiles: close image")
}

// LayerSummary is the metadata shown by the layers listing.
type LayerSummary struct {
	Code    string
	Subject string
	TilesX  int
	TilesY  int
	Err     error
}

// Describe fetches metadata for each code without downloading tiles. A
// failing code is reported in its summary rather than aborting the listing.
func (d *Downloader) Describe(ctx context.Context, codes []string) ([]LayerSummary, error) {
	out := make([]LayerSummary, len(codes))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(d.concurrency)
	for i, code := range codes {
		eg.Go(func() error {
			out[i].Code = code
			info, err := FetchServiceInfo(gCtx, d.fetcher, ServiceURL(d.baseURL, code))
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				out[i].Err = err
				return nil
			}
			out[i].Subject = info.Subject()
			if grid, err := NewGrid(info.TileInfo, d.zoom); err == nil {
				out[i].TilesX, out[i].TilesY = grid.TilesX, grid.TilesY
			} else {
				out[i].Err = err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, eris.Wrap(err, "tiles: describe layers")
	}
	return out, nil
}
