package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/catalog"
	"github.com/sells-group/thriving-index/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func lookupFrom(values map[string]map[string]float64) ValueLookup {
	return func(regionKey, measureID string) (float64, bool) {
		v, ok := values[regionKey][measureID]
		return v, ok
	}
}

func selection(target string, peers ...string) *model.PeerSelection {
	sel := &model.PeerSelection{TargetKey: target, Requested: len(peers)}
	for i, key := range peers {
		sel.Peers = append(sel.Peers, model.Peer{RegionKey: key, Distance: float64(i), Rank: i + 1})
	}
	return sel
}

func singleMeasureCatalog(t *testing.T, m model.Measure) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]model.Measure{m})
	require.NoError(t, err)
	return cat
}

var sumMeasure = model.Measure{
	ID: "population", Name: "Population",
	Component: model.ComponentDemographics,
	Method:    model.AggSum, ValueCol: "population",
}

func TestScoreKnownDistribution(t *testing.T) {
	// Peers 90, 100, 110: mean 100, sample stddev 10. Target 120 is two
	// deviations above, so the score is 300 and the percentile is 75.
	values := map[string]map[string]float64{
		"37_1": {"population": 120},
		"45_1": {"population": 90},
		"45_2": {"population": 100},
		"45_3": {"population": 110},
	}
	e := New(singleMeasureCatalog(t, sumMeasure), lookupFrom(values))

	ms, warn := e.Score("37_1", sumMeasure, selection("37_1", "45_1", "45_2", "45_3"))
	require.Nil(t, warn)
	assert.InDelta(t, 300, ms.Score, 1e-9)
	assert.InDelta(t, 100, ms.PeerMean, 1e-9)
	assert.InDelta(t, 10, ms.PeerStdDev, 1e-9)
	assert.InDelta(t, 75, ms.Percentile, 1e-9)
	assert.Equal(t, 3, ms.PeerCount)
	assert.False(t, ms.Inverted)
}

func TestScoreAtPeerMean(t *testing.T) {
	values := map[string]map[string]float64{
		"37_1": {"population": 100},
		"45_1": {"population": 90},
		"45_2": {"population": 110},
	}
	e := New(singleMeasureCatalog(t, sumMeasure), lookupFrom(values))

	ms, warn := e.Score("37_1", sumMeasure, selection("37_1", "45_1", "45_2"))
	require.Nil(t, warn)
	assert.InDelta(t, 100, ms.Score, 1e-9)
}

func TestScoreZeroSpread(t *testing.T) {
	values := map[string]map[string]float64{
		"37_1": {"population": 500},
		"45_1": {"population": 100},
		"45_2": {"population": 100},
		"45_3": {"population": 100},
	}
	e := New(singleMeasureCatalog(t, sumMeasure), lookupFrom(values))

	ms, warn := e.Score("37_1", sumMeasure, selection("37_1", "45_1", "45_2", "45_3"))
	require.Nil(t, warn)
	assert.InDelta(t, 100, ms.Score, 1e-9, "identical peers score the target at peer average")
	assert.Zero(t, ms.PeerStdDev)
}

func TestScoreInversion(t *testing.T) {
	inverted := sumMeasure
	inverted.ID = "poverty_rate"
	inverted.LowerIsBetter = true

	values := map[string]map[string]float64{
		"37_1": {"poverty_rate": 120},
		"45_1": {"poverty_rate": 90},
		"45_2": {"poverty_rate": 100},
		"45_3": {"poverty_rate": 110},
	}
	e := New(singleMeasureCatalog(t, inverted), lookupFrom(values))

	ms, warn := e.Score("37_1", inverted, selection("37_1", "45_1", "45_2", "45_3"))
	require.Nil(t, warn)
	assert.InDelta(t, -100, ms.Score, 1e-9, "two deviations worse inverts 300 to -100")
	assert.True(t, ms.Inverted)
}

func TestScoreInversionFixedPoint(t *testing.T) {
	// A target at the peer mean scores 100 regardless of polarity.
	inverted := sumMeasure
	inverted.LowerIsBetter = true

	values := map[string]map[string]float64{
		"37_1": {"population": 100},
		"45_1": {"population": 80},
		"45_2": {"population": 120},
	}
	e := New(singleMeasureCatalog(t, inverted), lookupFrom(values))

	ms, warn := e.Score("37_1", inverted, selection("37_1", "45_1", "45_2"))
	require.Nil(t, warn)
	assert.InDelta(t, 100, ms.Score, 1e-9)
}

func TestScorePercentileNotInverted(t *testing.T) {
	// Inversion applies to the score only; the percentile stays raw rank.
	inverted := sumMeasure
	inverted.LowerIsBetter = true

	values := map[string]map[string]float64{
		"37_1": {"population": 120},
		"45_1": {"population": 90},
		"45_2": {"population": 100},
		"45_3": {"population": 110},
	}
	e := New(singleMeasureCatalog(t, inverted), lookupFrom(values))

	ms, warn := e.Score("37_1", inverted, selection("37_1", "45_1", "45_2", "45_3"))
	require.Nil(t, warn)
	assert.InDelta(t, 75, ms.Percentile, 1e-9)
}

func TestScorePercentileLowest(t *testing.T) {
	values := map[string]map[string]float64{
		"37_1": {"population": 10},
		"45_1": {"population": 90},
		"45_2": {"population": 100},
		"45_3": {"population": 110},
	}
	e := New(singleMeasureCatalog(t, sumMeasure), lookupFrom(values))

	ms, warn := e.Score("37_1", sumMeasure, selection("37_1", "45_1", "45_2", "45_3"))
	require.Nil(t, warn)
	assert.InDelta(t, 0, ms.Percentile, 1e-9, "no peer at or below the target")
}

func TestScorePercentileMonotonic(t *testing.T) {
	// Against a fixed peer set the percentile never decreases as the
	// target value climbs through and past the peer range.
	values := map[string]map[string]float64{
		"45_1": {"population": 90},
		"45_2": {"population": 100},
		"45_3": {"population": 110},
		"45_4": {"population": 130},
	}

	prev := -1.0
	for _, target := range []float64{50, 89, 90, 95, 100, 109, 110, 120, 130, 200} {
		values["37_1"] = map[string]float64{"population": target}
		e := New(singleMeasureCatalog(t, sumMeasure), lookupFrom(values))

		ms, warn := e.Score("37_1", sumMeasure, selection("37_1", "45_1", "45_2", "45_3", "45_4"))
		require.Nil(t, warn)
		assert.GreaterOrEqual(t, ms.Percentile, prev, "target %v", target)
		prev = ms.Percentile
	}
}

func TestScoreMissingTargetValue(t *testing.T) {
	values := map[string]map[string]float64{
		"45_1": {"population": 90},
		"45_2": {"population": 110},
	}
	e := New(singleMeasureCatalog(t, sumMeasure), lookupFrom(values))

	ms, warn := e.Score("37_1", sumMeasure, selection("37_1", "45_1", "45_2"))
	assert.Nil(t, ms)
	require.NotNil(t, warn)
	assert.Equal(t, model.WarnNoCoverage, warn.Kind)
}

func TestScoreFewPeerValues(t *testing.T) {
	// Peers missing the measure are dropped; one remaining value cannot
	// produce a standard deviation.
	values := map[string]map[string]float64{
		"37_1": {"population": 100},
		"45_1": {"population": 90},
		"45_2": {},
		"45_3": {},
	}
	e := New(singleMeasureCatalog(t, sumMeasure), lookupFrom(values))

	ms, warn := e.Score("37_1", sumMeasure, selection("37_1", "45_1", "45_2", "45_3"))
	assert.Nil(t, ms)
	require.NotNil(t, warn)
	assert.Equal(t, model.WarnFewPeerValues, warn.Kind)
}

func TestScoreTargetRollups(t *testing.T) {
	measures := []model.Measure{
		{ID: "m_demo_a", Component: model.ComponentDemographics, Method: model.AggSum, ValueCol: "v"},
		{ID: "m_demo_b", Component: model.ComponentDemographics, Method: model.AggSum, ValueCol: "v"},
		{ID: "m_health", Component: model.ComponentHealth, Method: model.AggSum, ValueCol: "v"},
		{ID: "m_gap", Component: model.ComponentSafety, Method: model.AggSum, ValueCol: "v"},
	}
	cat, err := catalog.New(measures)
	require.NoError(t, err)

	// m_gap has no target value anywhere: its component must be excluded
	// from the overall rollup, not averaged in as zero.
	values := map[string]map[string]float64{
		"37_1": {"m_demo_a": 120, "m_demo_b": 90, "m_health": 100},
		"45_1": {"m_demo_a": 90, "m_demo_b": 90, "m_health": 90, "m_gap": 1},
		"45_2": {"m_demo_a": 100, "m_demo_b": 100, "m_health": 100, "m_gap": 2},
		"45_3": {"m_demo_a": 110, "m_demo_b": 110, "m_health": 110, "m_gap": 3},
	}
	e := New(cat, lookupFrom(values))

	res := e.ScoreTarget("37_1", selection("37_1", "45_1", "45_2", "45_3"))
	require.Len(t, res.MeasureScores, 3)
	require.Len(t, res.ComponentScores, 2)
	require.NotNil(t, res.Overall)
	assert.Equal(t, 2, res.Overall.ComponentCount)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "m_gap", res.Warnings[0].MeasureID)

	// demographics averages 300 (m_demo_a) and 0 (m_demo_b); health is 100.
	var demo model.ComponentScore
	for _, cs := range res.ComponentScores {
		if cs.Component == model.ComponentDemographics {
			demo = cs
		}
	}
	assert.Equal(t, 2, demo.MeasureCount)
	assert.InDelta(t, 150, demo.Score, 1e-9)
	assert.InDelta(t, 125, res.Overall.Score, 1e-9)
}

func TestScoreAll(t *testing.T) {
	values := map[string]map[string]float64{
		"37_1": {"population": 120},
		"37_2": {"population": 80},
		"45_1": {"population": 90},
		"45_2": {"population": 100},
		"45_3": {"population": 110},
	}
	e := New(singleMeasureCatalog(t, sumMeasure), lookupFrom(values))

	selections := map[string]*model.PeerSelection{
		"37_2": selection("37_2", "45_1", "45_2", "45_3"),
		"37_1": selection("37_1", "45_1", "45_2", "45_3"),
	}
	results, err := e.ScoreAll(context.Background(), selections, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "37_1", results[0].TargetKey, "results sorted by target key")
	assert.Equal(t, "37_2", results[1].TargetKey)
	assert.InDelta(t, 300, results[0].MeasureScores[0].Score, 1e-9)
	assert.InDelta(t, -100, results[1].MeasureScores[0].Score, 1e-9)
}

func TestScoreAllEmpty(t *testing.T) {
	e := New(singleMeasureCatalog(t, sumMeasure), lookupFrom(nil))
	_, err := e.ScoreAll(context.Background(), nil, 1)
	assert.Error(t, err)
}
