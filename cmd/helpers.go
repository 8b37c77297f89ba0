package main

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/catalog"
	"github.com/sells-group/thriving-index/internal/config"
	"github.com/sells-group/thriving-index/internal/geo"
	"github.com/sells-group/thriving-index/internal/index"
	"github.com/sells-group/thriving-index/internal/match"
	"github.com/sells-group/thriving-index/internal/model"
	"github.com/sells-group/thriving-index/internal/region"
	"github.com/sells-group/thriving-index/internal/source"
	"github.com/sells-group/thriving-index/internal/store"
)

// loadCatalog reads the configured measures file or falls back to the
// built-in catalog.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Data.MeasuresFile == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.Data.MeasuresFile)
}

// loadDirectory builds the region directory from the configured
// definition tables.
func loadDirectory(cfg *config.Config) (*region.Directory, error) {
	if cfg.Data.RegionDefs == "" {
		return nil, eris.New("data.region_defs not configured")
	}
	defs, err := source.LoadRegionDefs(cfg.Data.RegionDefs)
	if err != nil {
		return nil, err
	}
	return region.Build(defs)
}

// loadInputs materializes every table a run consumes. Observation tables
// live in data.observations_dir as <measure-id>.csv with normalized column
// names; the candidate pool comes from data.matching_vars. When a centroid
// shapefile is configured, the urban-anchor distance variable is
// recomputed from it.
func loadInputs(cfg *config.Config, cat *catalog.Catalog, dir *region.Directory) (index.Inputs, error) {
	in := index.Inputs{
		Targets:   cfg.Match.Targets,
		PeerCount: cfg.Match.PeerCount,
	}

	tables, err := loadObservationTables(cfg, cat.Measures)
	if err != nil {
		return in, err
	}
	in.Observations = tables

	if cfg.Data.MatchingVars == "" {
		return in, eris.New("data.matching_vars not configured")
	}
	pool, err := source.LoadMatchingVariables(cfg.Data.MatchingVars)
	if err != nil {
		return in, err
	}

	if cfg.Data.CentroidsSHP != "" {
		if err := fillAnchorDistances(cfg.Data.CentroidsSHP, dir, pool); err != nil {
			return in, err
		}
	}
	in.Pool = pool

	return in, nil
}

// loadObservationTables reads each measure's observation table from
// data.observations_dir, where tables live as <measure-id>.csv with
// normalized column names and a fips column.
func loadObservationTables(cfg *config.Config, measures []model.Measure) (map[string]model.ObservationTable, error) {
	if cfg.Data.ObservationsDir == "" {
		return nil, eris.New("data.observations_dir not configured")
	}
	tables := make(map[string]model.ObservationTable, len(measures))
	for _, m := range measures {
		cols := make(map[string]string)
		for _, c := range m.Columns() {
			cols[c] = c
		}
		table, err := source.LoadObservations(
			filepath.Join(cfg.Data.ObservationsDir, m.ID+".csv"),
			source.ObservationSpec{MeasureID: m.ID, FIPSCol: "fips", Columns: cols})
		if err != nil {
			return nil, err
		}
		tables[m.ID] = table
	}
	return tables, nil
}

// fillAnchorDistances overwrites the dist_metro_miles variable with values
// derived from county centroids.
func fillAnchorDistances(shpPath string, dir *region.Directory, pool []model.MatchingVector) error {
	distIdx := -1
	for i, name := range match.Variables {
		if name == "dist_metro_miles" {
			distIdx = i
		}
	}
	if distIdx < 0 {
		return nil
	}

	centroids, err := geo.LoadCentroids(shpPath)
	if err != nil {
		return err
	}
	distances := geo.AnchorDistances(dir, centroids, nil)

	var filled int
	for i := range pool {
		if d, ok := distances[pool[i].RegionKey]; ok {
			pool[i].Values[distIdx] = d
			filled++
		}
	}
	zap.L().Debug("anchor distances derived from centroids",
		zap.Int("filled", filled), zap.Int("pool", len(pool)))
	return nil
}

// openStore opens the configured store backend, or returns nil when
// persistence is disabled.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, nil
	}
}
