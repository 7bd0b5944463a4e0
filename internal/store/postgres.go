package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/riskmap-cli/internal/db"
	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/tiles"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_run":   `INSERT INTO runs (id, command, layers, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_run": `UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
	"get_run":      `SELECT id, command, layers, status, error, created_at, completed_at FROM runs WHERE id = $1`,
	"get_tile":     `SELECT data FROM tile_cache WHERE key = $1`,
	"set_tile":     `INSERT INTO tile_cache (key, data, fetched_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, fetched_at = EXCLUDED.fetched_at`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := newPgxConfig(connString, poolCfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func newPgxConfig(connString string, poolCfg *PoolConfig) (*pgxpool.Config, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migration.
				var pgErr interface{ SQLState() string }
				if errors.As(err, &pgErr) && pgErr.SQLState() == "42P01" {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}
	return pgxCfg, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	command      TEXT NOT NULL,
	layers       TEXT[] NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL DEFAULT 'running',
	error        TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS zonal_stats (
	risk_type   TEXT NOT NULL,
	sov_a3      TEXT NOT NULL,
	admin       TEXT NOT NULL,
	sovereignty TEXT NOT NULL,
	position    INTEGER NOT NULL,
	median      DOUBLE PRECISION,
	mean        DOUBLE PRECISION,
	std         DOUBLE PRECISION,
	max         DOUBLE PRECISION,
	min         DOUBLE PRECISION,
	pixels      BIGINT NOT NULL DEFAULT 0,
	run_id      TEXT REFERENCES runs(id),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (risk_type, sov_a3, admin)
);

CREATE TABLE IF NOT EXISTS tile_cache (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_zonal_stats_run_id ON zonal_stats(run_id);
`

// statsColumns are the zonal_stats columns written by SaveStats.
var statsColumns = []string{
	"risk_type", "sov_a3", "admin", "sovereignty", "position",
	"median", "mean", "std", "max", "min", "pixels", "run_id", "updated_at",
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, command string, layers []string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	if layers == nil {
		layers = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, command, layers, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, command, layers, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Command:   command,
		Layers:    layers,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, runErr error) error {
	status := model.RunStatusComplete
	if runErr != nil {
		status = model.RunStatusFailed
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(status), errMessage(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var status string
	var errText *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, command, layers, status, error, created_at, completed_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Command, &r.Layers, &status, &errText, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	r.Status = model.RunStatus(status)
	if errText != nil {
		r.Error = *errText
	}
	return &r, nil
}

func (s *PostgresStore) SaveStats(ctx context.Context, runID string, recs []model.StatsRecord) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{
			r.RiskType, r.SovA3, r.Admin, r.Sovereignty, int32(i),
			nullFloat(r.Median), nullFloat(r.Mean), nullFloat(r.Std), nullFloat(r.Max), nullFloat(r.Min),
			r.Pixels, runID, now,
		}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "zonal_stats",
		Columns:      statsColumns,
		ConflictKeys: []string{"risk_type", "sov_a3", "admin"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save stats")
	}
	return n, nil
}

func (s *PostgresStore) ListStats(ctx context.Context, riskType string) ([]model.StatsRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sov_a3, sovereignty, admin, risk_type, median, mean, std, max, min, pixels
		FROM zonal_stats
		WHERE $1 = '' OR risk_type = $1
		ORDER BY risk_type, position`, riskType)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stats")
	}
	defer rows.Close()

	var out []model.StatsRecord
	for rows.Next() {
		var r model.StatsRecord
		var median, mean, std, mx, mn *float64
		if err := rows.Scan(&r.SovA3, &r.Sovereignty, &r.Admin, &r.RiskType, &median, &mean, &std, &mx, &mn, &r.Pixels); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		r.Median, r.Mean, r.Std = derefNaN(median), derefNaN(mean), derefNaN(std)
		r.Max, r.Min = derefNaN(mx), derefNaN(mn)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate stats")
}

func (s *PostgresStore) GetTile(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM tile_cache WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tile %s", key)
	}
	return data, nil
}

func (s *PostgresStore) SetTile(ctx context.Context, key string, data []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tile_cache (key, data, fetched_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, fetched_at = EXCLUDED.fetched_at`,
		key, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set tile %s", key)
}

var _ tiles.BulkCache = (*PostgresStore)(nil)

// WarmTiles loads tiles missing from the cache with a single COPY. A key that
// already exists fails the whole batch; callers fall back to SetTile.
func (s *PostgresStore) WarmTiles(ctx context.Context, batch map[string][]byte) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(batch))
	for k, v := range batch {
		rows = append(rows, []any{k, v, now})
	}
	n, err := db.CopyFrom(ctx, s.pool, "tile_cache", []string{"key", "data", "fetched_at"}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: warm tiles")
	}
	return n, nil
}

func derefNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
