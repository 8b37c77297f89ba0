// Package scoring converts a target's aggregated measure values and its
// peer distribution into benchmarked scores, then rolls them up into
// component and overall indices. 100 always means "at peer average".
package scoring

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/thriving-index/internal/catalog"
	"github.com/sells-group/thriving-index/internal/model"
)

// ValueLookup resolves a (region, measure) cell produced by aggregation.
// The second return is false for undefined cells.
type ValueLookup func(regionKey, measureID string) (float64, bool)

// Engine derives measure scores and rollups for target regions.
type Engine struct {
	cat    *catalog.Catalog
	lookup ValueLookup
	log    *zap.Logger
}

// New creates a scoring engine over a measure catalog and a value lookup.
func New(cat *catalog.Catalog, lookup ValueLookup) *Engine {
	return &Engine{cat: cat, lookup: lookup, log: zap.L().Named("scoring")}
}

// Score benchmarks one (target, measure) cell against the target's peer
// set. Peers with no value for the measure are dropped; fewer than 2
// usable peer values is a reportable insufficiency, not a zero score.
func (e *Engine) Score(targetKey string, m model.Measure, sel *model.PeerSelection) (*model.MeasureScore, *model.Warning) {
	targetValue, ok := e.lookup(targetKey, m.ID)
	if !ok {
		w := model.Warningf(model.WarnNoCoverage, targetKey, m.ID, "target has no aggregated value")
		return nil, &w
	}

	var peerValues []float64
	for _, p := range sel.Peers {
		if v, ok := e.lookup(p.RegionKey, m.ID); ok {
			peerValues = append(peerValues, v)
		}
	}
	if len(peerValues) < 2 {
		w := model.Warningf(model.WarnFewPeerValues, targetKey, m.ID,
			"%d of %d peers carry a value, need 2 for a standard deviation", len(peerValues), len(sel.Peers))
		return nil, &w
	}

	peerMean := stat.Mean(peerValues, nil)
	peerStd := math.Sqrt(stat.Variance(peerValues, nil)) // sample variance, ddof=1

	// Zero spread means every peer is identical; the target scores at the
	// peer average.
	score := 100.0
	if peerStd != 0 {
		score = 100 + ((targetValue-peerMean)/peerStd)*100
	}

	// Percentile ranks the target within the sample of peers plus itself:
	// peers at or below the target, over the enlarged sample size.
	var atOrBelow int
	for _, v := range peerValues {
		if v <= targetValue {
			atOrBelow++
		}
	}
	percentile := 100 * float64(atOrBelow) / float64(len(peerValues)+1)

	// Polarity inversion happens once, after the base score. 100 stays the
	// center either way.
	if m.LowerIsBetter {
		score = 200 - score
	}

	return &model.MeasureScore{
		TargetKey:   targetKey,
		MeasureID:   m.ID,
		TargetValue: targetValue,
		Score:       score,
		PeerMean:    peerMean,
		PeerStdDev:  peerStd,
		Percentile:  percentile,
		PeerCount:   len(peerValues),
		Inverted:    m.LowerIsBetter,
	}, nil
}

// TargetResult holds every derived score for one target region.
type TargetResult struct {
	TargetKey       string
	MeasureScores   []model.MeasureScore
	ComponentScores []model.ComponentScore
	Overall         *model.OverallScore
	Warnings        []model.Warning
}

// ScoreTarget scores every catalog measure for one target and rolls the
// results into component and overall indices. Undefined cells are excluded
// from rollups, never treated as zero.
func (e *Engine) ScoreTarget(targetKey string, sel *model.PeerSelection) *TargetResult {
	res := &TargetResult{TargetKey: targetKey}

	byComponent := make(map[model.Component][]float64)
	for _, m := range e.cat.Measures {
		ms, warn := e.Score(targetKey, m, sel)
		if warn != nil {
			res.Warnings = append(res.Warnings, *warn)
			continue
		}
		res.MeasureScores = append(res.MeasureScores, *ms)
		byComponent[m.Component] = append(byComponent[m.Component], ms.Score)
	}

	var componentScores []float64
	for _, comp := range model.Components {
		scores, ok := byComponent[comp]
		if !ok {
			continue
		}
		cs := model.ComponentScore{
			TargetKey:    targetKey,
			Component:    comp,
			Score:        stat.Mean(scores, nil),
			MeasureCount: len(scores),
		}
		res.ComponentScores = append(res.ComponentScores, cs)
		componentScores = append(componentScores, cs.Score)
	}

	if len(componentScores) > 0 {
		res.Overall = &model.OverallScore{
			TargetKey:      targetKey,
			Score:          stat.Mean(componentScores, nil),
			ComponentCount: len(componentScores),
		}
	}
	return res
}

// ScoreAll scores every target concurrently. Each target depends only on
// the shared read-only lookup and its own peer selection.
func (e *Engine) ScoreAll(ctx context.Context, selections map[string]*model.PeerSelection, parallelism int) ([]TargetResult, error) {
	if len(selections) == 0 {
		return nil, eris.New("scoring: no peer selections to score")
	}
	if parallelism < 1 {
		parallelism = 4
	}

	targets := make([]string, 0, len(selections))
	for key := range selections {
		targets = append(targets, key)
	}
	sort.Strings(targets)

	var mu sync.Mutex
	results := make([]TargetResult, 0, len(targets))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, target := range targets {
		g.Go(func() error {
			res := e.ScoreTarget(target, selections[target])
			mu.Lock()
			results = append(results, *res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].TargetKey < results[j].TargetKey })

	e.log.Info("scoring complete",
		zap.Int("targets", len(results)),
		zap.Int("measures", len(e.cat.Measures)))

	return results, nil
}
