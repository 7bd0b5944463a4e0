// Package tiles downloads cached MapServer tile pyramids and stitches one
// zoom level into a single georeferenced image.
package tiles

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/raster"
)

// ServiceInfo is the subset of the MapServer "?f=json" document the
// downloader needs.
type ServiceInfo struct {
	DocumentInfo struct {
		Title   string `json:"Title"`
		Subject string `json:"Subject"`
	} `json:"documentInfo"`
	TileInfo TileInfo  `json:"tileInfo"`
	Error    *apiError `json:"error,omitempty"`
}

// TileInfo describes the tiling scheme of a cached map service.
type TileInfo struct {
	Rows   int    `json:"rows"`
	Cols   int    `json:"cols"`
	Format string `json:"format"`
	Origin struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"origin"`
	SpatialReference struct {
		WKID       int `json:"wkid"`
		LatestWKID int `json:"latestWkid"`
	} `json:"spatialReference"`
	LODs []LOD `json:"lods"`
}

// LOD is one zoom level of the tile pyramid.
type LOD struct {
	Level      int     `json:"level"`
	Resolution float64 `json:"resolution"`
	Scale      float64 `json:"scale"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ServiceURL returns the MapServer root for a risk code.
func ServiceURL(baseURL, code string) string {
	return fmt.Sprintf("%s/%s/MapServer", strings.TrimRight(baseURL, "/"), code)
}

// TileURL returns the URL of one tile. The service orders path segments
// as zoom/row/column.
func TileURL(serviceURL string, zoom, x, y int) string {
	return fmt.Sprintf("%s/tile/%d/%d/%d", serviceURL, zoom, y, x)
}

// FetchServiceInfo downloads and parses the service metadata.
func FetchServiceInfo(ctx context.Context, f *HTTPFetcher, serviceURL string) (*ServiceInfo, error) {
	body, err := f.Get(ctx, serviceURL+"?f=json")
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: fetch service info %s", serviceURL)
	}

	var info ServiceInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, eris.Wrapf(err, "tiles: parse service info %s", serviceURL)
	}
	if info.Error != nil {
		return nil, eris.Errorf("tiles: service %s returned error %d: %s", serviceURL, info.Error.Code, info.Error.Message)
	}
	if info.TileInfo.Cols <= 0 {
		return nil, eris.Errorf("tiles: service %s has no tile cache", serviceURL)
	}
	return &info, nil
}

// Subject returns the trimmed layer subject, used as the layer's name.
func (s *ServiceInfo) Subject() string {
	return strings.TrimSpace(s.DocumentInfo.Subject)
}

// Grid is the tile layout of one zoom level.
type Grid struct {
	Zoom       int
	TileSize   int
	Resolution float64
	OriginX    float64
	OriginY    float64
	TilesX     int
	TilesY     int
}

// NewGrid derives the tile layout at zoom. The world spans twice the
// absolute origin in each axis.
func NewGrid(info TileInfo, zoom int) (Grid, error) {
	var lod *LOD
	for i := range info.LODs {
		if info.LODs[i].Level == zoom {
			lod = &info.LODs[i]
			break
		}
	}
	if lod == nil {
		return Grid{}, eris.Errorf("tiles: zoom %d not in tile cache", zoom)
	}
	if lod.Resolution <= 0 || info.Cols <= 0 {
		return Grid{}, eris.Errorf("tiles: invalid tiling at zoom %d", zoom)
	}

	span := float64(info.Cols) * lod.Resolution
	// Absorb float error so an exact 32.0 does not truncate to 31.
	const eps = 1e-6
	return Grid{
		Zoom:       zoom,
		TileSize:   info.Cols,
		Resolution: lod.Resolution,
		OriginX:    info.Origin.X,
		OriginY:    info.Origin.Y,
		TilesX:     int(math.Abs(2*info.Origin.X)/span + eps),
		TilesY:     int(math.Abs(2*info.Origin.Y)/span + eps),
	}, nil
}

// Width returns the stitched image width in pixels.
func (g Grid) Width() int { return g.TilesX * g.TileSize }

// Height returns the stitched image height in pixels.
func (g Grid) Height() int { return g.TilesY * g.TileSize }

// Transform returns the affine transform of the stitched image.
func (g Grid) Transform() raster.Transform {
	return raster.NewNorthUp(g.OriginX, g.OriginY, g.Resolution)
}
