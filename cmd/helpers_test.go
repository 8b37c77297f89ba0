package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/config"
	"github.com/sells-group/thriving-index/internal/index"
	"github.com/sells-group/thriving-index/internal/model"
	"github.com/sells-group/thriving-index/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestLoadCatalogDefault(t *testing.T) {
	cat, err := loadCatalog(&config.Config{})
	require.NoError(t, err)
	assert.NotEmpty(t, cat.Measures)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "measures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`measures:
  - id: population
    name: Population
    component: demographics
    method: sum
    value_col: population
`), 0o644))

	cat, err := loadCatalog(&config.Config{Data: config.Data{MeasuresFile: path}})
	require.NoError(t, err)
	require.Len(t, cat.Measures, 1)
	assert.Equal(t, "population", cat.Measures[0].ID)
}

func TestLoadDirectory(t *testing.T) {
	_, err := loadDirectory(&config.Config{})
	assert.Error(t, err, "region_defs must be configured")

	path := filepath.Join(t.TempDir(), "regions.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"county_fips,region,region_name\n37183,1,Triangle\n37063,1,Triangle\n"), 0o644))

	dir, err := loadDirectory(&config.Config{Data: config.Data{RegionDefs: path}})
	require.NoError(t, err)
	assert.Len(t, dir.AllRegions(""), 1)
}

func TestLoadInputs(t *testing.T) {
	tmp := t.TempDir()
	obsDir := filepath.Join(tmp, "obs")
	require.NoError(t, os.Mkdir(obsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(obsDir, "population.csv"),
		[]byte("fips,population\n37183,1129410\n37063,324833\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "matching.csv"), []byte(
		"region_key,population,pct_urban,pct_manufacturing,pct_services,pct_farm,pct_mining,dist_metro_miles,per_capita_income\n"+
			"37_1,1454243,74,9,45,2,0.1,5,38000\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "regions.csv"), []byte(
		"county_fips,region,region_name\n37183,1,Triangle\n37063,1,Triangle\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "measures.yaml"), []byte(`measures:
  - id: population
    name: Population
    component: demographics
    method: sum
    value_col: population
`), 0o644))

	cfg := &config.Config{
		Data: config.Data{
			RegionDefs:      filepath.Join(tmp, "regions.csv"),
			ObservationsDir: obsDir,
			MatchingVars:    filepath.Join(tmp, "matching.csv"),
			MeasuresFile:    filepath.Join(tmp, "measures.yaml"),
		},
		Match: config.Match{Targets: []string{"37_1"}, PeerCount: 8},
	}

	cat, err := loadCatalog(cfg)
	require.NoError(t, err)
	dir, err := loadDirectory(cfg)
	require.NoError(t, err)

	in, err := loadInputs(cfg, cat, dir)
	require.NoError(t, err)
	assert.Len(t, in.Observations, 1)
	assert.Len(t, in.Observations["population"].Rows, 2)
	assert.Len(t, in.Pool, 1)
	assert.Equal(t, []string{"37_1"}, in.Targets)
	assert.Equal(t, 8, in.PeerCount)
}

func TestLoadInputsMissingObservationFile(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "regions.csv"), []byte(
		"county_fips,region,region_name\n37183,1,Triangle\n"), 0o644))

	cfg := &config.Config{
		Data: config.Data{
			RegionDefs:      filepath.Join(tmp, "regions.csv"),
			ObservationsDir: tmp,
			MatchingVars:    filepath.Join(tmp, "matching.csv"),
		},
	}
	cat, err := loadCatalog(cfg)
	require.NoError(t, err)
	dir, err := loadDirectory(cfg)
	require.NoError(t, err)

	_, err = loadInputs(cfg, cat, dir)
	assert.Error(t, err, "every catalog measure needs its observation table")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, &config.Config{Store: config.Store{Driver: "none"}})
	require.NoError(t, err)
	assert.Nil(t, st)

	path := filepath.Join(t.TempDir(), "cli.db")
	st, err = openStore(ctx, &config.Config{Store: config.Store{Driver: "sqlite", Path: path}})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.IsType(t, &store.SQLiteStore{}, st)
	assert.NoError(t, st.Close())
}

func TestRunAggregateInvalidConfig(t *testing.T) {
	saved := cfg
	defer func() { cfg = saved }()
	cfg = &config.Config{Store: config.Store{Driver: "mongodb"}}

	aggregateCmd.SetContext(context.Background())
	err := runAggregate(aggregateCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestExportResult(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	res := &index.Result{
		RegionValues: []model.RegionValue{
			{RegionKey: "37_1", MeasureID: "population", Value: 1454243, CountyCount: 2},
		},
		Selections: map[string]*model.PeerSelection{
			"37_1": {TargetKey: "37_1", Peers: []model.Peer{{RegionKey: "45_1", Rank: 1}}, Requested: 1},
		},
		MeasureScores: []model.MeasureScore{{TargetKey: "37_1", MeasureID: "population", Score: 130}},
		ComponentScores: []model.ComponentScore{
			{TargetKey: "37_1", Component: model.ComponentDemographics, Score: 130, MeasureCount: 1},
		},
		OverallScores: []model.OverallScore{{TargetKey: "37_1", Score: 130, ComponentCount: 1}},
	}
	require.NoError(t, exportResult(outDir, res))

	for _, name := range []string{
		"region_values.csv", "peer_selections.csv", "measure_scores.csv",
		"component_scores.csv", "overall_scores.csv",
	} {
		info, err := os.Stat(filepath.Join(outDir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

func TestUnderFilledSuffix(t *testing.T) {
	assert.Equal(t, "", underFilledSuffix(&model.PeerSelection{}))
	assert.Equal(t, ", under-filled", underFilledSuffix(&model.PeerSelection{UnderFilled: true}))
}
