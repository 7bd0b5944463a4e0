package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/riskmap-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The parent directory is created when missing.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	command      TEXT NOT NULL,
	layers       TEXT NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL DEFAULT 'running',
	error        TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS zonal_stats (
	risk_type   TEXT NOT NULL,
	sov_a3      TEXT NOT NULL,
	admin       TEXT NOT NULL,
	sovereignty TEXT NOT NULL,
	position    INTEGER NOT NULL,
	median      REAL,
	mean        REAL,
	std         REAL,
	max         REAL,
	min         REAL,
	pixels      INTEGER NOT NULL DEFAULT 0,
	run_id      TEXT,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (risk_type, sov_a3, admin)
);

CREATE TABLE IF NOT EXISTS tile_cache (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_zonal_stats_run_id ON zonal_stats(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, command string, layers []string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	if layers == nil {
		layers = []string{}
	}

	layersJSON, err := json.Marshal(layers)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal layers")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, layers, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, command, string(layersJSON), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Command:   command,
		Layers:    layers,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, runErr error) error {
	status := model.RunStatusComplete
	if runErr != nil {
		status = model.RunStatusFailed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), errMessage(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, command, layers, status, error, created_at, completed_at FROM runs WHERE id = ?`, runID,
	)

	var (
		r           model.Run
		layersJSON  string
		status      string
		errText     sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.Command, &layersJSON, &status, &errText, &r.CreatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("sqlite: run not found: %s", runID)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	if err := json.Unmarshal([]byte(layersJSON), &r.Layers); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal layers")
	}
	r.Status = model.RunStatus(status)
	r.Error = errText.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func (s *SQLiteStore) SaveStats(ctx context.Context, runID string, recs []model.StatsRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin stats tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO zonal_stats
			(risk_type, sov_a3, admin, sovereignty, position, median, mean, std, max, min, pixels, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (risk_type, sov_a3, admin) DO UPDATE SET
			sovereignty = excluded.sovereignty,
			position = excluded.position,
			median = excluded.median,
			mean = excluded.mean,
			std = excluded.std,
			max = excluded.max,
			min = excluded.min,
			pixels = excluded.pixels,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare stats upsert")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			r.RiskType, r.SovA3, r.Admin, r.Sovereignty, i,
			nullFloat(r.Median), nullFloat(r.Mean), nullFloat(r.Std), nullFloat(r.Max), nullFloat(r.Min),
			r.Pixels, runID, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert stats %s/%s", r.RiskType, r.Admin)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit stats")
	}
	return int64(len(recs)), nil
}

func (s *SQLiteStore) ListStats(ctx context.Context, riskType string) ([]model.StatsRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sov_a3, sovereignty, admin, risk_type, median, mean, std, max, min, pixels
		FROM zonal_stats
		WHERE ? = '' OR risk_type = ?
		ORDER BY risk_type, position`, riskType, riskType)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stats")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StatsRecord
	for rows.Next() {
		r, err := scanStats(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate stats")
}

func (s *SQLiteStore) GetTile(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM tile_cache WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tile %s", key)
	}
	return data, nil
}

func (s *SQLiteStore) SetTile(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tile_cache (key, data, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, fetched_at = excluded.fetched_at`,
		key, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set tile %s", key)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStats(row scannable) (model.StatsRecord, error) {
	var r model.StatsRecord
	var median, mean, std, mx, mn sql.NullFloat64
	if err := row.Scan(&r.SovA3, &r.Sovereignty, &r.Admin, &r.RiskType, &median, &mean, &std, &mx, &mn, &r.Pixels); err != nil {
		return r, err
	}
	r.Median, r.Mean, r.Std = fromNull(median), fromNull(mean), fromNull(std)
	r.Max, r.Min = fromNull(mx), fromNull(mn)
	return r, nil
}

// nullFloat maps NaN to SQL NULL.
func nullFloat(v float64) any {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
