package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Tiles     TilesConfig     `yaml:"tiles" mapstructure:"tiles"`
	Layers    []string        `yaml:"layers" mapstructure:"layers"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Classify  ClassifyConfig  `yaml:"classify" mapstructure:"classify"`
	Countries CountriesConfig `yaml:"countries" mapstructure:"countries"`
	Zonal     ZonalConfig     `yaml:"zonal" mapstructure:"zonal"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// TilesConfig configures the MapServer tile download.
type TilesConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Zoom        int     `yaml:"zoom" mapstructure:"zoom"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	Cache       bool    `yaml:"cache" mapstructure:"cache"`
}

// OutputConfig controls where layer artifacts and reports are written.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Report string `yaml:"report" mapstructure:"report"`
}

// ClassifyConfig configures the color classifier.
type ClassifyConfig struct {
	Chunks  int `yaml:"chunks" mapstructure:"chunks"`
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// CountriesConfig points at the country boundary shapefile.
type CountriesConfig struct {
	Shapefile  string   `yaml:"shapefile" mapstructure:"shapefile"`
	SourceProj string   `yaml:"source_proj" mapstructure:"source_proj"`
	Types      []string `yaml:"types" mapstructure:"types"`
	Exclude    []string `yaml:"exclude" mapstructure:"exclude"`
}

// ZonalConfig configures per-country aggregation.
type ZonalConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// GeocodeConfig holds Nominatim settings.
type GeocodeConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the result database. An empty driver disables it.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`

	// Postgres pool sizing.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultLayers lists the MapServer services of the 2023 global risk map release.
var DefaultLayers = []string{
	"BRF_2023_GLO_SPH",
	"BRF_2023_GLO_SRC1",
	"BRF_2023_GLO_S1_1",
	"BRF_2023_GLO_S1_2",
	"BRF_2023_GLO_S1_3",
	"BRF_2023_GLO_S1_4",
	"BRF_2023_GLO_SRC2",
	"BRF_2023_GLO_S2_1",
	"BRF_2023_GLO_S2_2",
	"BRF_2023_GLO_S2_3",
	"BRF_2023_GLO_S2_4",
	"BRF_2023_GLO_S2_5",
	"BRF_2023_GLO_SRC3",
	"BRF_2023_GLO_S3_1",
	"BRF_2023_GLO_S3_2",
	"BRF_2023_GLO_S3_3",
	"BRF_2023_GLO_S3_4",
	"BRF_2023_GLO_S3_5",
	"BRF_2023_GLO_S3_6",
	"BRF_2023_GLO_SRC4",
	"BRF_2023_GLO_S4_1",
	"BRF_2023_GLO_SRC5",
	"BRF_2023_GLO_S5_1",
	"BRF_2023_GLO_S5_2",
	"BRF_2023_GLO_S5_3",
	"BRF_2023_GLO_S5_4",
	"BRF_2023_GLO_SRP",
	"BRF_2023_GLO_SRC6",
	"BRF_2023_GLO_S6_1",
	"BRF_2023_GLO_S6_2",
	"BRF_2023_GLO_S6_3",
	"BRF_2023_GLO_S6_4",
	"BRF_2023_GLO_S6_5",
	"BRF_2023_GLO_SRC7",
	"BRF_2023_GLO_S7_1",
	"BRF_2023_GLO_S7_2",
	"BRF_2023_GLO_S7_3",
	"BRF_2023_GLO_S7_4",
	"BRF_2023_GLO_SRC8",
	"BRF_2023_GLO_S8_1",
	"BRF_2023_GLO_S8_2",
	"BRF_2023_GLO_S8_3",
	"BRF_2023_GLO_S8_4",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RISKMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("tiles.base_url", "https://tiles.arcgis.com/tiles/RTK5Unh1Z71JKIiR/arcgis/rest/services")
	v.SetDefault("tiles.zoom", 5)
	v.SetDefault("tiles.concurrency", 16)
	v.SetDefault("tiles.rate_limit", 50)
	v.SetDefault("tiles.timeout_secs", 30)
	v.SetDefault("tiles.max_retries", 1)
	v.SetDefault("tiles.user_agent", "riskmap-cli/1.0")
	v.SetDefault("tiles.cache", true)
	v.SetDefault("layers", DefaultLayers)
	v.SetDefault("output.dir", "risk_maps")
	v.SetDefault("output.report", "risk_by_country.csv")
	v.SetDefault("classify.chunks", 12)
	v.SetDefault("classify.workers", 0)
	v.SetDefault("countries.shapefile", "ne_50m_admin_0_countries/ne_50m_admin_0_countries.shp")
	v.SetDefault("countries.source_proj", "+proj=longlat +datum=WGS84 +no_defs")
	v.SetDefault("countries.types", []string{"Sovereign country", "Country", "Indeterminate"})
	v.SetDefault("countries.exclude", []string{"Antarctica"})
	v.SetDefault("zonal.concurrency", 8)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocode.user_agent", "riskmap-cli/1.0")
	v.SetDefault("geocode.rate_limit", 1)
	v.SetDefault("geocode.timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "risk_maps/riskmap.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Tiles.Zoom < 0 {
		return eris.Errorf("config: tiles.zoom must be >= 0, got %d", c.Tiles.Zoom)
	}
	if c.Tiles.Concurrency < 1 {
		return eris.Errorf("config: tiles.concurrency must be >= 1, got %d", c.Tiles.Concurrency)
	}
	if c.Classify.Chunks < 1 {
		return eris.Errorf("config: classify.chunks must be >= 1, got %d", c.Classify.Chunks)
	}
	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 {
		return eris.Errorf("config: store pool sizes must be >= 0, got max %d min %d", c.Store.MaxConns, c.Store.MinConns)
	}
	if c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns {
		return eris.Errorf("config: store.min_conns %d exceeds store.max_conns %d", c.Store.MinConns, c.Store.MaxConns)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
