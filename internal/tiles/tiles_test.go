package tiles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/riskmap-cli/internal/raster"
)

const serviceJSON = `{
  "documentInfo": {"Title": "Flood", "Subject": "  River Flood  "},
  "tileInfo": {
    "rows": 4, "cols": 4, "format": "PNG32",
    "origin": {"x": -16, "y": 16},
    "spatialReference": {"wkid": 102100, "latestWkid": 3857},
    "lods": [
      {"level": 0, "resolution": 8, "scale": 1},
      {"level": 1, "resolution": 4, "scale": 0.5}
    ]
  }
}`

func tilePNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func tileColor(x, y int) color.NRGBA {
	return color.NRGBA{R: uint8(10 + x), G: uint8(20 + y), B: 30, A: 0xff}
}

// newTileServer serves a 2x2 grid at zoom 1 with tile (1,1) missing.
func newTileServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.URL.Path == "/FL/MapServer" {
			assert.Equal(t, "json", r.URL.Query().Get("f"))
			w.Write([]byte(serviceJSON)) //nolint:errcheck
			return
		}
		var z, y, x int
		if _, err := fmt.Sscanf(r.URL.Path, "/FL/MapServer/tile/%d/%d/%d", &z, &y, &x); err != nil {
			http.NotFound(w, r)
			return
		}
		if x == 1 && y == 1 {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(tilePNG(t, tileColor(x, y))) //nolint:errcheck
	}))
}

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	})
}

func TestServiceAndTileURL(t *testing.T) {
	s := ServiceURL("https://example.com/arcgis/rest/services/", "BRF_2023_FL")
	assert.Equal(t, "https://example.com/arcgis/rest/services/BRF_2023_FL/MapServer", s)
	assert.Equal(t, s+"/tile/5/7/3", TileURL(s, 5, 3, 7))
}

func TestNewGrid(t *testing.T) {
	var info ServiceInfo
	require.NoError(t, json.Unmarshal([]byte(serviceJSON), &info))

	g, err := NewGrid(info.TileInfo, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, g.TilesX)
	assert.Equal(t, 2, g.TilesY)
	assert.Equal(t, 8, g.Width())
	assert.Equal(t, 8, g.Height())

	g0, err := NewGrid(info.TileInfo, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, g0.TilesX)

	_, err = NewGrid(info.TileInfo, 9)
	assert.ErrorContains(t, err, "zoom 9")
}

func TestNewGrid_FloatError(t *testing.T) {
	info := TileInfo{Cols: 256}
	info.Origin.X = -20037508.342787
	info.Origin.Y = 20037508.342787
	info.LODs = []LOD{{Level: 5, Resolution: 4891.96981025128}}

	g, err := NewGrid(info, 5)
	require.NoError(t, err)
	assert.Equal(t, 32, g.TilesX)
	assert.Equal(t, 32, g.TilesY)
}

func TestFetchServiceInfo_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"code":499,"message":"Token Required"}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := FetchServiceInfo(context.Background(), newTestFetcher(), srv.URL+"/X/MapServer")
	assert.ErrorContains(t, err, "Token Required")
}

func TestHTTPFetcher_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestFetcher().Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 2})
	body, err := f.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPFetcher_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestFetcher().Get(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "all attempts failed")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetcher_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	_, err := newTestFetcher().Get(context.Background(), srv.URL)
	assert.NoError(t, err)
}

func TestDownload_StitchesTiles(t *testing.T) {
	srv := newTileServer(t, nil)
	defer srv.Close()

	out := t.TempDir()
	d := NewDownloader(newTestFetcher(), srv.URL, out, WithZoom(1), WithConcurrency(3))

	layer, err := d.Download(context.Background(), "FL")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "River Flood"), layer.Dir)
	assert.Equal(t, 8, layer.Image.Bounds().Dx())
	assert.Equal(t, 8, layer.Image.Bounds().Dy())

	assert.Equal(t, tileColor(0, 0), layer.Image.NRGBAAt(1, 1))
	assert.Equal(t, tileColor(1, 0), layer.Image.NRGBAAt(5, 2))
	assert.Equal(t, tileColor(0, 1), layer.Image.NRGBAAt(3, 7))
	// Missing tile leaves a transparent gap.
	assert.Equal(t, color.NRGBA{}, layer.Image.NRGBAAt(6, 6))

	assert.Equal(t, 1, layer.Manifest.MissingTiles)
	assert.Equal(t, "River Flood", layer.Manifest.Subject)

	img, err := ReadImage(layer.Dir)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())

	tr, err := raster.ReadWorldFile(filepath.Join(layer.Dir, WorldFile))
	require.NoError(t, err)
	assert.InDelta(t, -16.0, tr.C, 1e-9)
	assert.InDelta(t, 16.0, tr.F, 1e-9)
	assert.InDelta(t, 4.0, tr.A, 1e-9)
	assert.InDelta(t, -4.0, tr.E, 1e-9)

	m, err := ReadManifest(layer.Dir)
	require.NoError(t, err)
	assert.Equal(t, "FL", m.Code)
	assert.Equal(t, 2, m.TilesX)
	assert.Equal(t, 1, m.MissingTiles)
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func (c *memCache) GetTile(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *memCache) SetTile(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
	c.sets++
	return nil
}

type bulkCache struct {
	memCache
	warmErr error
	warmed  []map[string][]byte
}

func (c *bulkCache) WarmTiles(_ context.Context, tiles map[string][]byte) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warmed = append(c.warmed, tiles)
	if c.warmErr != nil {
		return 0, c.warmErr
	}
	for k, v := range tiles {
		c.data[k] = v
	}
	return int64(len(tiles)), nil
}

func TestDownload_UsesCache(t *testing.T) {
	var hits atomic.Int32
	srv := newTileServer(t, &hits)
	defer srv.Close()

	cache := &memCache{data: map[string][]byte{}}
	d := NewDownloader(newTestFetcher(), srv.URL, t.TempDir(), WithZoom(1), WithCache(cache))

	_, err := d.Download(context.Background(), "FL")
	require.NoError(t, err)
	assert.Len(t, cache.data, 3)
	assert.Contains(t, cache.data, CacheKey("FL", 1, 0, 1))

	first := hits.Load()
	layer, err := d.Download(context.Background(), "FL")
	require.NoError(t, err)
	assert.Equal(t, 3, layer.Manifest.CachedTiles)
	// Metadata plus the still-missing tile.
	assert.Equal(t, first+2, hits.Load())
}

func TestDownload_BulkCache(t *testing.T) {
	srv := newTileServer(t, nil)
	defer srv.Close()

	cache := &bulkCache{memCache: memCache{data: map[string][]byte{}}}
	d := NewDownloader(newTestFetcher(), srv.URL, t.TempDir(), WithZoom(1), WithCache(cache))

	_, err := d.Download(context.Background(), "FL")
	require.NoError(t, err)
	require.Len(t, cache.warmed, 1)
	assert.Len(t, cache.warmed[0], 3)
	assert.Equal(t, 0, cache.sets)

	// A second run hits the cache for every stored tile and warms nothing.
	layer, err := d.Download(context.Background(), "FL")
	require.NoError(t, err)
	assert.Equal(t, 3, layer.Manifest.CachedTiles)
	assert.Len(t, cache.warmed, 1)
}

func TestDownload_BulkCacheFallback(t *testing.T) {
	srv := newTileServer(t, nil)
	defer srv.Close()

	cache := &bulkCache{memCache: memCache{data: map[string][]byte{}}, warmErr: fmt.Errorf("duplicate key")}
	d := NewDownloader(newTestFetcher(), srv.URL, t.TempDir(), WithZoom(1), WithCache(cache))

	_, err := d.Download(context.Background(), "FL")
	require.NoError(t, err)
	assert.Len(t, cache.warmed, 1)
	assert.Equal(t, 3, cache.sets)
	assert.Len(t, cache.data, 3)
}

func TestDownload_RefetchesCorruptCachedTile(t *testing.T) {
	var hits atomic.Int32
	srv := newTileServer(t, &hits)
	defer srv.Close()

	key := CacheKey("FL", 1, 0, 0)
	cache := &memCache{data: map[string][]byte{key: []byte("not a png")}}
	d := NewDownloader(newTestFetcher(), srv.URL, t.TempDir(), WithZoom(1), WithCache(cache))

	layer, err := d.Download(context.Background(), "FL")
	require.NoError(t, err)
	assert.Equal(t, tileColor(0, 0), layer.Image.NRGBAAt(1, 1))
	assert.Equal(t, 1, layer.Manifest.MissingTiles)
	assert.Equal(t, 0, layer.Manifest.CachedTiles)
	assert.Equal(t, tilePNG(t, tileColor(0, 0)), cache.data[key])
}

func TestDownload_CorruptTileNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/FL/MapServer" {
			w.Write([]byte(serviceJSON)) //nolint:errcheck
			return
		}
		if r.URL.Path == "/FL/MapServer/tile/1/0/0" {
			w.Write([]byte("truncated")) //nolint:errcheck
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cache := &memCache{data: map[string][]byte{}}
	d := NewDownloader(newTestFetcher(), srv.URL, t.TempDir(), WithZoom(1), WithCache(cache))

	layer, err := d.Download(context.Background(), "FL")
	require.NoError(t, err)
	assert.Equal(t, 4, layer.Manifest.MissingTiles)
	assert.Empty(t, cache.data)
}

func TestDownload_Canceled(t *testing.T) {
	srv := newTileServer(t, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDownloader(newTestFetcher(), srv.URL, t.TempDir(), WithZoom(1)).Download(ctx, "FL")
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	srv := newTileServer(t, nil)
	defer srv.Close()

	d := NewDownloader(newTestFetcher(), srv.URL, t.TempDir(), WithZoom(1))
	got, err := d.Describe(context.Background(), []string{"FL", "MISSING"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "River Flood", got[0].Subject)
	assert.Equal(t, 2, got[0].TilesX)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, "MISSING", got[1].Code)
	assert.Error(t, got[1].Err)
}

func TestDirName(t *testing.T) {
	assert.Equal(t, "Heat-Drought", DirName(" Heat/Drought "))
	assert.Equal(t, "a-b", DirName("a:b"))
	assert.Equal(t, "..-etc", DirName("../etc"))
	for _, bad := range []string{".", "..", " ... ", "", "   "} {
		assert.Equal(t, "layer", DirName(bad), "subject %q", bad)
	}

	out := t.TempDir()
	assert.Equal(t, out, filepath.Dir(filepath.Join(out, DirName(".."))))
}

func TestManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{Code: "X", Subject: "Y", Zoom: 5, TilesX: 32, FetchedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, WriteManifest(dir, m))

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "tiles_x: 32"))

	got, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = ReadManifest(t.TempDir())
	assert.Error(t, err)
}
