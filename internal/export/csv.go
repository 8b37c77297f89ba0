// Package export writes the engine's output tables as flat CSV files and
// console tables for downstream inspection.
package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/thriving-index/internal/model"
)

// WriteRegionValues writes the region-level value table for one or more
// measures.
func WriteRegionValues(w io.Writer, values []model.RegionValue) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"region_key", "measure_id", "value", "county_count"}); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, v := range values {
		rec := []string{v.RegionKey, v.MeasureID, formatFloat(v.Value), strconv.Itoa(v.CountyCount)}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "export: write region value")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

// WritePeerSelections writes each target's peers in rank order.
func WritePeerSelections(w io.Writer, selections map[string]*model.PeerSelection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"target_key", "peer_key", "rank", "distance", "under_filled"}); err != nil {
		return eris.Wrap(err, "export: write header")
	}

	targets := make([]string, 0, len(selections))
	for key := range selections {
		targets = append(targets, key)
	}
	sort.Strings(targets)

	for _, target := range targets {
		sel := selections[target]
		for _, p := range sel.Peers {
			rec := []string{sel.TargetKey, p.RegionKey, strconv.Itoa(p.Rank),
				formatFloat(p.Distance), strconv.FormatBool(sel.UnderFilled)}
			if err := cw.Write(rec); err != nil {
				return eris.Wrap(err, "export: write peer row")
			}
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

// WriteMeasureScores writes the detailed score table.
func WriteMeasureScores(w io.Writer, scores []model.MeasureScore) error {
	cw := csv.NewWriter(w)
	header := []string{"target_key", "measure_id", "target_value", "score",
		"peer_mean", "peer_std_dev", "percentile", "peer_count", "inverted"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, sc := range scores {
		rec := []string{sc.TargetKey, sc.MeasureID, formatFloat(sc.TargetValue),
			formatFloat(sc.Score), formatFloat(sc.PeerMean), formatFloat(sc.PeerStdDev),
			formatFloat(sc.Percentile), strconv.Itoa(sc.PeerCount), strconv.FormatBool(sc.Inverted)}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "export: write score row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

// WriteComponentScores writes one row per target and component.
func WriteComponentScores(w io.Writer, scores []model.ComponentScore) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"target_key", "component", "score", "measure_count"}); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, sc := range scores {
		rec := []string{sc.TargetKey, string(sc.Component), formatFloat(sc.Score), strconv.Itoa(sc.MeasureCount)}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "export: write component row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

// WriteOverallScores writes the overall index, one row per target.
func WriteOverallScores(w io.Writer, scores []model.OverallScore) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"target_key", "score", "component_count"}); err != nil {
		return eris.Wrap(err, "export: write header")
	}
	for _, sc := range scores {
		rec := []string{sc.TargetKey, formatFloat(sc.Score), strconv.Itoa(sc.ComponentCount)}
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "export: write overall row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
