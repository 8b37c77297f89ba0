package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/thriving-index/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs (fingerprint, started_at DESC);

CREATE TABLE IF NOT EXISTS region_values (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	region_key   TEXT NOT NULL,
	measure_id   TEXT NOT NULL,
	value        REAL NOT NULL,
	county_count INTEGER NOT NULL,
	PRIMARY KEY (run_id, region_key, measure_id)
);

CREATE TABLE IF NOT EXISTS peer_selections (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	fingerprint  TEXT NOT NULL,
	target_key   TEXT NOT NULL,
	peer_key     TEXT NOT NULL,
	rank         INTEGER NOT NULL,
	distance     REAL NOT NULL,
	requested    INTEGER NOT NULL,
	under_filled INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, target_key, rank)
);
CREATE INDEX IF NOT EXISTS idx_peer_fingerprint ON peer_selections (fingerprint);

CREATE TABLE IF NOT EXISTS measure_scores (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	target_key   TEXT NOT NULL,
	measure_id   TEXT NOT NULL,
	target_value REAL NOT NULL,
	score        REAL NOT NULL,
	peer_mean    REAL NOT NULL,
	peer_std_dev REAL NOT NULL,
	percentile   REAL NOT NULL,
	peer_count   INTEGER NOT NULL,
	inverted     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, target_key, measure_id)
);

CREATE TABLE IF NOT EXISTS component_scores (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	target_key    TEXT NOT NULL,
	component     TEXT NOT NULL,
	score         REAL NOT NULL,
	measure_count INTEGER NOT NULL,
	PRIMARY KEY (run_id, target_key, component)
);

CREATE TABLE IF NOT EXISTS overall_scores (
	run_id          TEXT NOT NULL REFERENCES runs(id),
	target_key      TEXT NOT NULL,
	score           REAL NOT NULL,
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
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *SQLiteStore) CreateRun(ctx context.Context, fingerprint string) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		StartedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, fingerprint, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Fingerprint, run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create run")
	}
	return run, nil
}

// FinishRun stamps the run's completion time.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ? WHERE id = ?`, time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrap(err, "sqlite: finish run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: run %s not found", runID)
	}
	return nil
}

// SaveRegionValues persists aggregated region values for a run.
func (s *SQLiteStore) SaveRegionValues(ctx context.Context, runID string, values []model.RegionValue) error {
	return s.inTx(ctx, "save region values", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO region_values (run_id, region_key, measure_id, value, county_count) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, v := range values {
			if _, err := stmt.ExecContext(ctx, runID, v.RegionKey, v.MeasureID, v.Value, v.CountyCount); err != nil {
				return err
			}
		}
		return nil
	})
}

// SavePeerSelections persists selections tagged with the run fingerprint.
func (s *SQLiteStore) SavePeerSelections(ctx context.Context, runID, fingerprint string, selections map[string]*model.PeerSelection) error {
	return s.inTx(ctx, "save peer selections", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO peer_selections (run_id, fingerprint, target_key, peer_key, rank, distance, requested, under_filled)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, sel := range selections {
			for _, p := range sel.Peers {
				if _, err := stmt.ExecContext(ctx, runID, fingerprint, sel.TargetKey,
					p.RegionKey, p.Rank, p.Distance, sel.Requested, sel.UnderFilled); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// LatestPeerSelections loads the most recent run's selections with a
// matching fingerprint.
func (s *SQLiteStore) LatestPeerSelections(ctx context.Context, fingerprint string) (map[string]*model.PeerSelection, error) {
	var runID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE fingerprint = ? AND finished_at IS NOT NULL ORDER BY started_at DESC LIMIT 1`,
		fingerprint).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find cached run")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT target_key, peer_key, rank, distance, requested, under_filled
		 FROM peer_selections WHERE run_id = ? ORDER BY target_key, rank`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load peer selections")
	}
	defer rows.Close()

	selections := make(map[string]*model.PeerSelection)
	for rows.Next() {
		var target, peerKey string
		var rank, requested int
		var distance float64
		var underFilled bool
		if err := rows.Scan(&target, &peerKey, &rank, &distance, &requested, &underFilled); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan peer selection")
		}
		sel, ok := selections[target]
		if !ok {
			sel = &model.PeerSelection{TargetKey: target, Requested: requested, UnderFilled: underFilled}
			selections[target] = sel
		}
		sel.Peers = append(sel.Peers, model.Peer{RegionKey: peerKey, Distance: distance, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate peer selections")
	}
	if len(selections) == 0 {
		return nil, nil
	}
	return selections, nil
}

// SaveMeasureScores persists the detailed score table.
func (s *SQLiteStore) SaveMeasureScores(ctx context.Context, runID string, scores []model.MeasureScore) error {
	return s.inTx(ctx, "save measure scores", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO measure_scores (run_id, target_key, measure_id, target_value, score, peer_mean, peer_std_dev, percentile, peer_count, inverted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, sc := range scores {
			if _, err := stmt.ExecContext(ctx, runID, sc.TargetKey, sc.MeasureID, sc.TargetValue,
				sc.Score, sc.PeerMean, sc.PeerStdDev, sc.Percentile, sc.PeerCount, sc.Inverted); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveComponentScores persists the per-component rollup table.
func (s *SQLiteStore) SaveComponentScores(ctx context.Context, runID string, scores []model.ComponentScore) error {
	return s.inTx(ctx, "save component scores", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO component_scores (run_id, target_key, component, score, measure_count) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, sc := range scores {
			if _, err := stmt.ExecContext(ctx, runID, sc.TargetKey, string(sc.Component), sc.Score, sc.MeasureCount); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveOverallScores persists the overall index table.
func (s *SQLiteStore) SaveOverallScores(ctx context.Context, runID string, scores []model.OverallScore) error {
	return s.inTx(ctx, "save overall scores", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO overall_scores (run_id, target_key, score, component_count) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, sc := range scores {
			if _, err := stmt.ExecContext(ctx, runID, sc.TargetKey, sc.Score, sc.ComponentCount); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveWarnings persists coverage-gap and degeneracy warnings.
func (s *SQLiteStore) SaveWarnings(ctx context.Context, runID string, warnings []model.Warning) error {
	return s.inTx(ctx, "save warnings", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO warnings (run_id, kind, region_key, measure_id, detail) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, w := range warnings {
			if _, err := stmt.ExecContext(ctx, runID, string(w.Kind), w.RegionKey, w.MeasureID, w.Detail); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin", op)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return eris.Wrapf(err, "sqlite: %s", op)
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrapf(err, "sqlite: %s: commit", op)
	}
	return nil
}
