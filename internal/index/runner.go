// Package index orchestrates a full engine run: aggregation, peer
// matching (with cache reuse), scoring, and rollups.
package index

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/aggregate"
	"github.com/sells-group/thriving-index/internal/catalog"
	"github.com/sells-group/thriving-index/internal/match"
	"github.com/sells-group/thriving-index/internal/model"
	"github.com/sells-group/thriving-index/internal/region"
	"github.com/sells-group/thriving-index/internal/scoring"
	"github.com/sells-group/thriving-index/internal/store"
)

// Inputs holds the materialized tables a run consumes.
type Inputs struct {
	// Observations carries one normalized table per measure ID.
	Observations map[string]model.ObservationTable
	// Pool is the national candidate pool of matching-variable vectors.
	Pool []model.MatchingVector
	// Targets are the region keys being scored.
	Targets []string
	// PeerCount is the requested peer set size; 0 means the default.
	PeerCount int
}

// Result is the complete output of one run.
type Result struct {
	RunID           string
	RegionValues    []model.RegionValue
	Selections      map[string]*model.PeerSelection
	MeasureScores   []model.MeasureScore
	ComponentScores []model.ComponentScore
	OverallScores   []model.OverallScore
	Warnings        []model.Warning
	CacheHit        bool
}

// Runner executes the pipeline stages in order. The store is optional;
// without one, peer selections are recomputed every run.
type Runner struct {
	cat         *catalog.Catalog
	regions     *region.Directory
	st          store.Store
	parallelism int
	log         *zap.Logger
}

// NewRunner builds a runner over static reference data. st may be nil.
func NewRunner(cat *catalog.Catalog, regions *region.Directory, st store.Store, parallelism int) *Runner {
	return &Runner{
		cat:         cat,
		regions:     regions,
		st:          st,
		parallelism: parallelism,
		log:         zap.L().Named("index"),
	}
}

// Run executes aggregation, matching, and scoring over the inputs.
func (r *Runner) Run(ctx context.Context, in Inputs) (*Result, error) {
	if len(in.Targets) == 0 {
		return nil, eris.New("index: no target regions")
	}
	if err := r.regions.MarkTargetCohort(in.Targets); err != nil {
		return nil, err
	}

	peerCount := in.PeerCount
	if peerCount <= 0 {
		peerCount = match.DefaultPeerCount
	}
	fingerprint := store.Fingerprint(match.Variables, in.Targets, peerCount)

	res := &Result{}
	if r.st != nil {
		run, err := r.st.CreateRun(ctx, fingerprint)
		if err != nil {
			return nil, err
		}
		res.RunID = run.ID
	}

	// Stage 1: aggregation, parallel across measures.
	engine := aggregate.New(r.regions)
	aggResults, err := engine.AggregateAll(ctx, in.Observations, r.cat.Measures, r.parallelism)
	if err != nil {
		return nil, err
	}
	values := make(map[string]map[string]float64) // region -> measure -> value
	for _, ar := range aggResults {
		res.Warnings = append(res.Warnings, ar.Warnings...)
		for _, v := range ar.Values {
			res.RegionValues = append(res.RegionValues, v)
			byMeasure, ok := values[v.RegionKey]
			if !ok {
				byMeasure = make(map[string]float64)
				values[v.RegionKey] = byMeasure
			}
			byMeasure[v.MeasureID] = v.Value
		}
	}

	// Stage 2: peer matching, reusing cached selections for an identical
	// matching configuration.
	selections, cacheHit, warns, err := r.selectPeers(ctx, in, fingerprint, peerCount)
	if err != nil {
		return nil, err
	}
	res.Selections = selections
	res.CacheHit = cacheHit
	res.Warnings = append(res.Warnings, warns...)

	// Stage 3: scoring and rollups, parallel across targets.
	lookup := func(regionKey, measureID string) (float64, bool) {
		v, ok := values[regionKey][measureID]
		return v, ok
	}
	scorer := scoring.New(r.cat, lookup)
	targetResults, err := scorer.ScoreAll(ctx, selections, r.parallelism)
	if err != nil {
		return nil, err
	}
	for _, tr := range targetResults {
		res.MeasureScores = append(res.MeasureScores, tr.MeasureScores...)
		res.ComponentScores = append(res.ComponentScores, tr.ComponentScores...)
		if tr.Overall != nil {
			res.OverallScores = append(res.OverallScores, *tr.Overall)
		}
		res.Warnings = append(res.Warnings, tr.Warnings...)
	}

	if r.st != nil {
		if err := r.persist(ctx, fingerprint, res, cacheHit); err != nil {
			return nil, err
		}
	}

	r.log.Info("run complete",
		zap.String("run_id", res.RunID),
		zap.Int("targets", len(in.Targets)),
		zap.Int("region_values", len(res.RegionValues)),
		zap.Int("warnings", len(res.Warnings)),
		zap.Bool("cache_hit", cacheHit))

	return res, nil
}

func (r *Runner) selectPeers(ctx context.Context, in Inputs, fingerprint string, peerCount int) (map[string]*model.PeerSelection, bool, []model.Warning, error) {
	if r.st != nil {
		cached, err := r.st.LatestPeerSelections(ctx, fingerprint)
		if err != nil {
			return nil, false, nil, err
		}
		if cached != nil {
			r.log.Debug("reusing cached peer selections", zap.String("fingerprint", fingerprint))
			return cached, true, nil, nil
		}
	}

	space, err := match.Standardize(in.Pool)
	if err != nil {
		return nil, false, nil, err
	}
	matcher := match.NewMatcher(space)

	// Each target excludes every other target sharing its state: the
	// protected cohort is never offered as peers of one another.
	cohorts := make(map[string][]string, len(in.Targets))
	for _, target := range in.Targets {
		state, _ := model.SplitRegionKey(target)
		for _, other := range in.Targets {
			if other == target {
				continue
			}
			otherState, _ := model.SplitRegionKey(other)
			if otherState == state {
				cohorts[target] = append(cohorts[target], other)
			}
		}
	}

	selections, warns, err := matcher.SelectAll(ctx, in.Targets, cohorts, peerCount, r.parallelism)
	if err != nil {
		return nil, false, nil, err
	}
	return selections, false, warns, nil
}

func (r *Runner) persist(ctx context.Context, fingerprint string, res *Result, cacheHit bool) error {
	if err := r.st.SaveRegionValues(ctx, res.RunID, res.RegionValues); err != nil {
		return err
	}
	if !cacheHit {
		if err := r.st.SavePeerSelections(ctx, res.RunID, fingerprint, res.Selections); err != nil {
			return err
		}
	}
	if err := r.st.SaveMeasureScores(ctx, res.RunID, res.MeasureScores); err != nil {
		return err
	}
	if err := r.st.SaveComponentScores(ctx, res.RunID, res.ComponentScores); err != nil {
		return err
	}
	if err := r.st.SaveOverallScores(ctx, res.RunID, res.OverallScores); err != nil {
		return err
	}
	if err := r.st.SaveWarnings(ctx, res.RunID, res.Warnings); err != nil {
		return err
	}
	return r.st.FinishRun(ctx, res.RunID)
}
