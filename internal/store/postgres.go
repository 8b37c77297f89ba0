package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/thriving-index/internal/model"
)

// Pool abstracts pgxpool.Pool for testing with pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (or mock).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs (fingerprint, started_at DESC);

CREATE TABLE IF NOT EXISTS region_values (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	region_key   TEXT NOT NULL,
	measure_id   TEXT NOT NULL,
	value        DOUBLE PRECISION NOT NULL,
	county_count INTEGER NOT NULL,
	PRIMARY KEY (run_id, region_key, measure_id)
);

CREATE TABLE IF NOT EXISTS peer_selections (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	fingerprint  TEXT NOT NULL,
	target_key   TEXT NOT NULL,
	peer_key     TEXT NOT NULL,
	rank         INTEGER NOT NULL,
	distance     DOUBLE PRECISION NOT NULL,
	requested    INTEGER NOT NULL,
	under_filled BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (run_id, target_key, rank)
);
CREATE INDEX IF NOT EXISTS idx_peer_fingerprint ON peer_selections (fingerprint);

CREATE TABLE IF NOT EXISTS measure_scores (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	target_key   TEXT NOT NULL,
	measure_id   TEXT NOT NULL,
	target_value DOUBLE PRECISION NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	peer_mean    DOUBLE PRECISION NOT NULL,
	peer_std_dev DOUBLE PRECISION NOT NULL,
	percentile   DOUBLE PRECISION NOT NULL,
	peer_count   INTEGER NOT NULL,
	inverted     BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (run_id, target_key, measure_id)
);

CREATE TABLE IF NOT EXISTS component_scores (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	target_key    TEXT NOT NULL,
	component     TEXT NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	measure_count INTEGER NOT NULL,
	PRIMARY KEY (run_id, target_key, component)
);

CREATE TABLE IF NOT EXISTS overall_scores (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	target_key      TEXT NOT NULL,
	score           DOUBLE PRECISION NOT NULL,
	component_count INTEGER NOT NULL,
	PRIMARY KEY (run_id, target_key)
);

CREATE TABLE IF NOT EXISTS warnings (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	kind       TEXT NOT NULL,
	region_key TEXT,
	measure_id TEXT,
	detail     TEXT
);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *PostgresStore) CreateRun(ctx context.Context, fingerprint string) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		StartedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, fingerprint, started_at) VALUES ($1, $2, $3)`,
		run.ID, run.Fingerprint, run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create run")
	}
	return run, nil
}

// FinishRun stamps the run's completion time.
func (s *PostgresStore) FinishRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET finished_at = $1 WHERE id = $2`, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrap(err, "postgres: finish run")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", runID)
	}
	return nil
}

// SaveRegionValues bulk-loads aggregated region values via COPY.
func (s *PostgresStore) SaveRegionValues(ctx context.Context, runID string, values []model.RegionValue) error {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{runID, v.RegionKey, v.MeasureID, v.Value, v.CountyCount}
	}
	return s.copy(ctx, "region_values",
		[]string{"run_id", "region_key", "measure_id", "value", "county_count"}, rows)
}

// SavePeerSelections bulk-loads selections tagged with the fingerprint.
func (s *PostgresStore) SavePeerSelections(ctx context.Context, runID, fingerprint string, selections map[string]*model.PeerSelection) error {
	var rows [][]any
	for _, sel := range selections {
		for _, p := range sel.Peers {
			rows = append(rows, []any{runID, fingerprint, sel.TargetKey,
				p.RegionKey, p.Rank, p.Distance, sel.Requested, sel.UnderFilled})
		}
	}
	return s.copy(ctx, "peer_selections",
		[]string{"run_id", "fingerprint", "target_key", "peer_key", "rank", "distance", "requested", "under_filled"}, rows)
}

// LatestPeerSelections loads the most recent finished run's selections
// with a matching fingerprint.
func (s *PostgresStore) LatestPeerSelections(ctx context.Context, fingerprint string) (map[string]*model.PeerSelection, error) {
	var runID string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM runs WHERE fingerprint = $1 AND finished_at IS NOT NULL ORDER BY started_at DESC LIMIT 1`,
		fingerprint).Scan(&runID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find cached run")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT target_key, peer_key, rank, distance, requested, under_filled
		 FROM peer_selections WHERE run_id = $1 ORDER BY target_key, rank`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load peer selections")
	}
	defer rows.Close()

	selections := make(map[string]*model.PeerSelection)
	for rows.Next() {
		var target, peerKey string
		var rank, requested int
		var distance float64
		var underFilled bool
		if err := rows.Scan(&target, &peerKey, &rank, &distance, &requested, &underFilled); err != nil {
			return nil, eris.Wrap(err, "postgres: scan peer selection")
		}
		sel, ok := selections[target]
		if !ok {
			sel = &model.PeerSelection{TargetKey: target, Requested: requested, UnderFilled: underFilled}
			selections[target] = sel
		}
		sel.Peers = append(sel.Peers, model.Peer{RegionKey: peerKey, Distance: distance, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate peer selections")
	}
	if len(selections) == 0 {
		return nil, nil
	}
	return selections, nil
}

// SaveMeasureScores bulk-loads the detailed score table.
func (s *PostgresStore) SaveMeasureScores(ctx context.Context, runID string, scores []model.MeasureScore) error {
	rows := make([][]any, len(scores))
	for i, sc := range scores {
		rows[i] = []any{runID, sc.TargetKey, sc.MeasureID, sc.TargetValue,
			sc.Score, sc.PeerMean, sc.PeerStdDev, sc.Percentile, sc.PeerCount, sc.Inverted}
	}
	return s.copy(ctx, "measure_scores",
		[]string{"run_id", "target_key", "measure_id", "target_value", "score",
			"peer_mean", "peer_std_dev", "percentile", "peer_count", "inverted"}, rows)
}

// SaveComponentScores persists the per-component rollup table.
func (s *PostgresStore) SaveComponentScores(ctx context.Context, runID string, scores []model.ComponentScore) error {
	for _, sc := range scores {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO component_scores (run_id, target_key, component, score, measure_count) VALUES ($1, $2, $3, $4, $5)`,
			runID, sc.TargetKey, string(sc.Component), sc.Score, sc.MeasureCount)
		if err != nil {
			return eris.Wrap(err, "postgres: save component score")
		}
	}
	return nil
}

// SaveOverallScores persists the overall index table.
func (s *PostgresStore) SaveOverallScores(ctx context.Context, runID string, scores []model.OverallScore) error {
	for _, sc := range scores {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO overall_scores (run_id, target_key, score, component_count) VALUES ($1, $2, $3, $4)`,
			runID, sc.TargetKey, sc.Score, sc.ComponentCount)
		if err != nil {
			return eris.Wrap(err, "postgres: save overall score")
		}
	}
	return nil
}

// SaveWarnings persists coverage-gap and degeneracy warnings.
func (s *PostgresStore) SaveWarnings(ctx context.Context, runID string, warnings []model.Warning) error {
	for _, w := range warnings {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO warnings (run_id, kind, region_key, measure_id, detail) VALUES ($1, $2, $3, $4, $5)`,
			runID, string(w.Kind), w.RegionKey, w.MeasureID, w.Detail)
		if err != nil {
			return eris.Wrap(err, "postgres: save warning")
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) copy(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return eris.Wrapf(err, "postgres: COPY INTO %s", table)
	}
	return nil
}
