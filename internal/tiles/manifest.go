package tiles

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Artifact file names inside a layer directory.
const (
	ImageFile    = "map.png"
	WorldFile    = "map.pgw"
	ManifestFile = "layer.yaml"
)

// Manifest records how a layer image was produced.
type Manifest struct {
	Code         string    `yaml:"code"`
	Subject      string    `yaml:"subject"`
	ServiceURL   string    `yaml:"service_url"`
	Zoom         int       `yaml:"zoom"`
	TileSize     int       `yaml:"tile_size"`
	Resolution   float64   `yaml:"resolution"`
	OriginX      float64   `yaml:"origin_x"`
	OriginY      float64   `yaml:"origin_y"`
	TilesX       int       `yaml:"tiles_x"`
	TilesY       int       `yaml:"tiles_y"`
	MissingTiles int       `yaml:"missing_tiles"`
	CachedTiles  int       `yaml:"cached_tiles"`
	FetchedAt    time.Time `yaml:"fetched_at"`
}

// WriteManifest stores m as layer.yaml in dir.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "tiles: marshal manifest")
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "tiles: write manifest %s", path)
	}
	return nil
}

// ReadManifest loads layer.yaml from dir.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: read manifest %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "tiles: parse manifest %s", path)
	}
	return &m, nil
}
