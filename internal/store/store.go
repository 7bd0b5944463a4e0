// Package store persists pipeline runs, zonal statistics and cached tiles.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/config"
	"github.com/sells-group/riskmap-cli/internal/model"
)

// Store defines the persistence interface for the risk map pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, command string, layers []string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)

	// Zonal statistics; one row per (risk type, country), latest run wins.
	SaveStats(ctx context.Context, runID string, recs []model.StatsRecord) (int64, error)
	ListStats(ctx context.Context, riskType string) ([]model.StatsRecord, error)

	// Tile cache; GetTile returns nil, nil on a miss.
	GetTile(ctx context.Context, key string) ([]byte, error)
	SetTile(ctx context.Context, key string, data []byte) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured store and applies migrations. It returns
// nil, nil when no driver is configured.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		s, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		s, err = NewPostgres(ctx, cfg.DatabaseURL, poolConfigFor(cfg))
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func poolConfigFor(cfg config.StoreConfig) *PoolConfig {
	return &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns}
}

// errMessage returns the text stored for a failed run.
func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
