package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/thriving-index/internal/model"
)

func TestWriteRegionValues(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRegionValues(&buf, []model.RegionValue{
		{RegionKey: "37_1", MeasureID: "population", Value: 1550000, CountyCount: 3},
		{RegionKey: "37_2", MeasureID: "population", Value: 1100000.5, CountyCount: 1},
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"region_key", "measure_id", "value", "county_count"}, rows[0])
	assert.Equal(t, []string{"37_1", "population", "1550000.0000", "3"}, rows[1])
	assert.Equal(t, "1100000.5000", rows[2][2])
}

func TestWritePeerSelections(t *testing.T) {
	var buf bytes.Buffer
	selections := map[string]*model.PeerSelection{
		"37_2": {
			TargetKey: "37_2",
			Peers:     []model.Peer{{RegionKey: "13_1", Distance: 1.25, Rank: 1}},
			Requested: 8, UnderFilled: true,
		},
		"37_1": {
			TargetKey: "37_1",
			Peers: []model.Peer{
				{RegionKey: "45_1", Distance: 0.5, Rank: 1},
				{RegionKey: "45_2", Distance: 0.75, Rank: 2},
			},
			Requested: 2,
		},
	}
	require.NoError(t, WritePeerSelections(&buf, selections))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	// Targets emit in key order regardless of map iteration.
	assert.Equal(t, "37_1", rows[1][0])
	assert.Equal(t, "37_1", rows[2][0])
	assert.Equal(t, []string{"37_2", "13_1", "1", "1.2500", "true"}, rows[3])
}

func TestWriteMeasureScores(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMeasureScores(&buf, []model.MeasureScore{{
		TargetKey: "37_1", MeasureID: "poverty_rate", TargetValue: 0.12,
		Score: 85.5, PeerMean: 0.1, PeerStdDev: 0.02, Percentile: 62.5,
		PeerCount: 8, Inverted: true,
	}})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "85.5000", rows[1][3])
	assert.Equal(t, "true", rows[1][8])
}

func TestWriteComponentAndOverallScores(t *testing.T) {
	var comp, overall bytes.Buffer
	require.NoError(t, WriteComponentScores(&comp, []model.ComponentScore{
		{TargetKey: "37_1", Component: model.ComponentHealth, Score: 104.2, MeasureCount: 3},
	}))
	require.NoError(t, WriteOverallScores(&overall, []model.OverallScore{
		{TargetKey: "37_1", Score: 112.75, ComponentCount: 8},
	}))

	assert.Contains(t, comp.String(), "health,104.2000,3")
	assert.Contains(t, overall.String(), "37_1,112.7500,8")
}

func TestPrintOverallTable(t *testing.T) {
	var buf bytes.Buffer
	names := map[string]string{"37_1": "Research Triangle", "45_1": "Lowcountry"}
	PrintOverallTable(&buf, names, []model.OverallScore{
		{TargetKey: "45_1", Score: 96.2, ComponentCount: 8},
		{TargetKey: "37_1", Score: 118.4, ComponentCount: 8},
	})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, lines[2], "37_1", "highest score ranks first")
	assert.Contains(t, lines[2], "Research Triangle")
	assert.Contains(t, lines[3], "45_1")
}

func TestPrintComponentTable(t *testing.T) {
	var buf bytes.Buffer
	PrintComponentTable(&buf, "37_1", []model.ComponentScore{
		{TargetKey: "37_1", Component: model.ComponentEducation, Score: 123.4, MeasureCount: 3},
		{TargetKey: "45_1", Component: model.ComponentEducation, Score: 80, MeasureCount: 3},
	})
	out := buf.String()
	assert.Contains(t, out, "education")
	assert.Contains(t, out, "123.4")
	assert.NotContains(t, out, "80.0", "other targets filtered out")
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "1,129,410", FormatCount(1129410))
	assert.Equal(t, "420", FormatCount(420))
}
