package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/model"
	"github.com/sells-group/thriving-index/internal/region"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// Two regions in NC (37_1 with three counties, 37_2 with one) plus one in
// SC. 37183 is deliberately absent from most tables to exercise missing
// county handling.
func testDirectory(t *testing.T) *region.Directory {
	t.Helper()
	d, err := region.Build(map[string][]region.Def{
		"37": {
			{CountyFIPS: "37063", Ordinal: 1, RegionName: "Triangle"},
			{CountyFIPS: "37135", Ordinal: 1, RegionName: "Triangle"},
			{CountyFIPS: "37183", Ordinal: 1, RegionName: "Triangle"},
			{CountyFIPS: "37119", Ordinal: 2, RegionName: "Charlotte"},
		},
		"45": {
			{CountyFIPS: "45019", Ordinal: 1, RegionName: "Lowcountry"},
		},
	})
	require.NoError(t, err)
	return d
}

func obsTable(measureID string, rows ...model.CountyObservation) model.ObservationTable {
	return model.ObservationTable{MeasureID: measureID, Rows: rows}
}

func obs(fips string, cols map[string]float64) model.CountyObservation {
	return model.CountyObservation{FIPS: fips, Cols: cols}
}

func valueFor(t *testing.T, res *Result, regionKey string) model.RegionValue {
	t.Helper()
	for _, v := range res.Values {
		if v.RegionKey == regionKey {
			return v
		}
	}
	t.Fatalf("no value for region %s", regionKey)
	return model.RegionValue{}
}

func TestAggregateSum(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{ID: "population", Component: model.ComponentDemographics, Method: model.AggSum, ValueCol: "population"}
	table := obsTable("population",
		obs("37063", map[string]float64{"population": 300000}),
		obs("37135", map[string]float64{"population": 150000}),
		obs("37183", map[string]float64{"population": 1100000}),
		obs("37119", map[string]float64{"population": 1100000}),
		obs("45019", map[string]float64{"population": 400000}),
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)
	require.Len(t, res.Values, 3)
	assert.Empty(t, res.Warnings)

	v := valueFor(t, res, "37_1")
	assert.InDelta(t, 1550000, v.Value, 1e-9)
	assert.Equal(t, 3, v.CountyCount)
}

func TestAggregateSumSkipsMissing(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{ID: "population", Component: model.ComponentDemographics, Method: model.AggSum, ValueCol: "population"}
	table := obsTable("population",
		obs("37063", map[string]float64{"population": 300000}),
		obs("37135", map[string]float64{}), // missing cell, not zero
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)

	v := valueFor(t, res, "37_1")
	assert.InDelta(t, 300000, v.Value, 1e-9)
	assert.Equal(t, 1, v.CountyCount, "missing cells never contribute")
}

func TestAggregateSimpleMean(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{ID: "pct_broadband", Component: model.ComponentInfrastructure, Method: model.AggSimpleMean, ValueCol: "pct_broadband"}
	table := obsTable("pct_broadband",
		obs("37063", map[string]float64{"pct_broadband": 80}),
		obs("37135", map[string]float64{"pct_broadband": 70}),
		obs("37183", map[string]float64{"pct_broadband": 90}),
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)
	assert.InDelta(t, 80, valueFor(t, res, "37_1").Value, 1e-9)
}

func TestAggregateMax(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{ID: "hospital_beds", Component: model.ComponentHealth, Method: model.AggMax, ValueCol: "beds"}
	table := obsTable("hospital_beds",
		obs("37063", map[string]float64{"beds": -5}),
		obs("37135", map[string]float64{"beds": -2}),
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)
	assert.InDelta(t, -2, valueFor(t, res, "37_1").Value, 1e-9, "max must handle all-negative values")
}

func TestAggregateWeightedMean(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{
		ID: "median_age", Component: model.ComponentDemographics,
		Method: model.AggWeightedMean, ValueCol: "median_age", WeightCol: "population",
	}
	table := obsTable("median_age",
		obs("37063", map[string]float64{"median_age": 30, "population": 100}),
		obs("37135", map[string]float64{"median_age": 40, "population": 300}),
		obs("37183", map[string]float64{"median_age": 50}), // weight missing: excluded entirely
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)

	v := valueFor(t, res, "37_1")
	assert.InDelta(t, 37.5, v.Value, 1e-9)
	assert.Equal(t, 2, v.CountyCount)
}

func TestAggregateWeightedMeanEqualValues(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{
		ID: "median_age", Component: model.ComponentDemographics,
		Method: model.AggWeightedMean, ValueCol: "median_age", WeightCol: "population",
	}
	table := obsTable("median_age",
		obs("37063", map[string]float64{"median_age": 41.25, "population": 7}),
		obs("37135", map[string]float64{"median_age": 41.25, "population": 900000}),
		obs("37183", map[string]float64{"median_age": 41.25, "population": 13}),
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)

	// Identical county values must survive any weighting untouched.
	v := valueFor(t, res, "37_1")
	assert.Equal(t, 41.25, v.Value)
	assert.Equal(t, 3, v.CountyCount)
}

func TestAggregateWeightedMeanZeroWeights(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{
		ID: "median_age", Component: model.ComponentDemographics,
		Method: model.AggWeightedMean, ValueCol: "median_age", WeightCol: "population",
	}
	table := obsTable("median_age",
		obs("37063", map[string]float64{"median_age": 30, "population": 0}),
		obs("37135", map[string]float64{"median_age": 40, "population": 0}),
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)

	// 37_1 must be undefined with a zero-weights warning, never zero.
	for _, v := range res.Values {
		assert.NotEqual(t, "37_1", v.RegionKey)
	}
	var found bool
	for _, w := range res.Warnings {
		if w.Kind == model.WarnZeroWeights && w.RegionKey == "37_1" {
			found = true
		}
	}
	assert.True(t, found, "expected zero-weights warning for 37_1")
}

func TestAggregateRatioSumsBeforeDividing(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{
		ID: "unemployment_rate", Component: model.ComponentWorkforce,
		Method: model.AggRatio, NumerCol: "unemployed", DenomCol: "labor_force",
	}
	// County rates are 10% and 1%; the regional rate must come from the
	// summed counts (110/10100), not the mean of the county rates.
	table := obsTable("unemployment_rate",
		obs("37063", map[string]float64{"unemployed": 10, "labor_force": 100}),
		obs("37135", map[string]float64{"unemployed": 100, "labor_force": 10000}),
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)
	assert.InDelta(t, 110.0/10100.0, valueFor(t, res, "37_1").Value, 1e-12)
}

func TestAggregateRatioPairwiseExclusion(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{
		ID: "unemployment_rate", Component: model.ComponentWorkforce,
		Method: model.AggRatio, NumerCol: "unemployed", DenomCol: "labor_force",
	}
	table := obsTable("unemployment_rate",
		obs("37063", map[string]float64{"unemployed": 10, "labor_force": 100}),
		obs("37135", map[string]float64{"unemployed": 50}), // denom missing: both sides dropped
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, valueFor(t, res, "37_1").Value, 1e-12)
}

func TestAggregateRateOfChange(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{
		ID: "pop_growth", Component: model.ComponentDemographics,
		Method: model.AggRatio, NumerCol: "pop_current", BaseCol: "pop_base",
	}
	table := obsTable("pop_growth",
		obs("37063", map[string]float64{"pop_current": 110, "pop_base": 100}),
		obs("37135", map[string]float64{"pop_current": 220, "pop_base": 200}),
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)
	// (330-300)/300
	assert.InDelta(t, 0.1, valueFor(t, res, "37_1").Value, 1e-12)
}

func TestAggregateStatePassthrough(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{
		ID: "state_income_tax", Component: model.ComponentCostOfLiving,
		Method: model.AggStatePassthrough, ValueCol: "top_rate",
	}
	table := obsTable("state_income_tax",
		obs("37063", map[string]float64{"top_rate": 4.5}),
		obs("37119", map[string]float64{"top_rate": 4.5}),
		obs("45019", map[string]float64{"top_rate": 6.4}),
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, valueFor(t, res, "37_1").Value, 1e-9, "every NC region carries the state value")
	assert.InDelta(t, 4.5, valueFor(t, res, "37_2").Value, 1e-9)
	assert.InDelta(t, 6.4, valueFor(t, res, "45_1").Value, 1e-9)
}

func TestAggregateNoCoverageWarning(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{ID: "population", Component: model.ComponentDemographics, Method: model.AggSum, ValueCol: "population"}
	table := obsTable("population",
		obs("37063", map[string]float64{"population": 100}),
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)
	require.Len(t, res.Values, 1)

	// 37_2 and 45_1 have no data: warnings, not zeros.
	kinds := make(map[string]model.WarningKind)
	for _, w := range res.Warnings {
		kinds[w.RegionKey] = w.Kind
	}
	assert.Equal(t, model.WarnNoCoverage, kinds["37_2"])
	assert.Equal(t, model.WarnNoCoverage, kinds["45_1"])
}

func TestAggregateIgnoresUnmappedCounties(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{ID: "population", Component: model.ComponentDemographics, Method: model.AggSum, ValueCol: "population"}
	table := obsTable("population",
		obs("37063", map[string]float64{"population": 100}),
		obs("06037", map[string]float64{"population": 9000000}), // no region
	)

	res, err := e.Aggregate(table, m)
	require.NoError(t, err)
	assert.InDelta(t, 100, valueFor(t, res, "37_1").Value, 1e-9)
}

func TestAggregateInvalidMeasure(t *testing.T) {
	e := New(testDirectory(t))
	m := model.Measure{ID: "broken", Component: model.ComponentDemographics, Method: model.AggSum}
	_, err := e.Aggregate(obsTable("broken"), m)
	assert.Error(t, err)
}

func TestAggregateAll(t *testing.T) {
	e := New(testDirectory(t))
	measures := []model.Measure{
		{ID: "population", Component: model.ComponentDemographics, Method: model.AggSum, ValueCol: "population"},
		{ID: "pct_broadband", Component: model.ComponentInfrastructure, Method: model.AggSimpleMean, ValueCol: "pct_broadband"},
	}
	tables := map[string]model.ObservationTable{
		"population": obsTable("population",
			obs("37063", map[string]float64{"population": 100})),
		"pct_broadband": obsTable("pct_broadband",
			obs("37063", map[string]float64{"pct_broadband": 80})),
	}

	results, err := e.AggregateAll(context.Background(), tables, measures, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "population", results["population"].MeasureID)
}

func TestAggregateAllMissingTable(t *testing.T) {
	e := New(testDirectory(t))
	measures := []model.Measure{
		{ID: "population", Component: model.ComponentDemographics, Method: model.AggSum, ValueCol: "population"},
	}
	_, err := e.AggregateAll(context.Background(), map[string]model.ObservationTable{}, measures, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "population")
}
