// Package aggregate rolls county-level observations up to region values,
// dispatching on each measure's declared aggregation method.
package aggregate

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/thriving-index/internal/model"
	"github.com/sells-group/thriving-index/internal/region"
)

// Result holds one measure's aggregation output alongside the coverage
// gaps found while producing it.
type Result struct {
	MeasureID string
	Values    []model.RegionValue
	Warnings  []model.Warning
}

// Engine aggregates observation tables against a fixed region directory.
type Engine struct {
	dir *region.Directory
	log *zap.Logger
}

// New creates an aggregation engine over the given directory.
func New(dir *region.Directory) *Engine {
	return &Engine{dir: dir, log: zap.L().Named("aggregate")}
}

// Aggregate produces one value per region for a single measure. Regions
// with no usable member county data yield no row and are reported as
// coverage-gap warnings, never as zeros.
func (e *Engine) Aggregate(table model.ObservationTable, m model.Measure) (*Result, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	// Index observations by county, dropping counties outside any region.
	byCounty := make(map[string]model.CountyObservation, len(table.Rows))
	for _, row := range table.Rows {
		if e.dir.RegionFor(row.FIPS) == nil {
			continue
		}
		byCounty[row.FIPS] = row
	}

	// State-passthrough values are resolved once per state.
	var stateValues map[string]float64
	if m.Method == model.AggStatePassthrough {
		stateValues = statePassthroughValues(byCounty, m.ValueCol)
	}

	res := &Result{MeasureID: m.ID}
	for _, reg := range e.dir.AllRegions("") {
		var (
			val   float64
			count int
			ok    bool
			warn  *model.Warning
		)
		switch m.Method {
		case model.AggSum:
			val, count, ok = foldRegion(reg, byCounty, m.ValueCol, func(acc, v float64, n int) float64 { return acc + v })
		case model.AggSimpleMean:
			var total float64
			total, count, ok = foldRegion(reg, byCounty, m.ValueCol, func(acc, v float64, n int) float64 { return acc + v })
			if ok {
				val = total / float64(count)
			}
		case model.AggMax:
			val, count, ok = foldRegion(reg, byCounty, m.ValueCol, func(acc, v float64, n int) float64 {
				if n == 0 || v > acc {
					return v
				}
				return acc
			})
		case model.AggWeightedMean:
			val, count, ok, warn = weightedMean(reg, byCounty, m)
		case model.AggRatio:
			val, count, ok = ratio(reg, byCounty, m)
		case model.AggStatePassthrough:
			val, ok = stateValues[reg.StateFIPS]
			count = len(reg.CountyFIPS)
		default:
			return nil, eris.Errorf("aggregate: measure %s: unrecognized method %s", m.ID, m.Method)
		}

		if !ok {
			if warn == nil {
				w := model.Warningf(model.WarnNoCoverage, reg.Key, m.ID,
					"no usable county data among %d member counties", len(reg.CountyFIPS))
				warn = &w
			}
			res.Warnings = append(res.Warnings, *warn)
			continue
		}
		res.Values = append(res.Values, model.RegionValue{
			RegionKey:   reg.Key,
			MeasureID:   m.ID,
			Value:       val,
			CountyCount: count,
		})
	}

	e.log.Debug("aggregated measure",
		zap.String("measure", m.ID),
		zap.String("method", m.Method.String()),
		zap.Int("regions", len(res.Values)),
		zap.Int("gaps", len(res.Warnings)))

	return res, nil
}

// AggregateAll runs every measure's aggregation concurrently. Measures are
// independent of one another, so the only shared state is the read-only
// directory. Results come back keyed by measure ID.
func (e *Engine) AggregateAll(ctx context.Context, tables map[string]model.ObservationTable, measures []model.Measure, parallelism int) (map[string]*Result, error) {
	if parallelism < 1 {
		parallelism = 4
	}

	var mu sync.Mutex
	results := make(map[string]*Result, len(measures))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, m := range measures {
		g.Go(func() error {
			table, ok := tables[m.ID]
			if !ok {
				return eris.Errorf("aggregate: no observation table for measure %s", m.ID)
			}
			res, err := e.Aggregate(table, m)
			if err != nil {
				return err
			}
			mu.Lock()
			results[m.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// foldRegion folds a single column across a region's member counties,
// skipping missing values. ok is false when no county contributed.
func foldRegion(reg model.Region, byCounty map[string]model.CountyObservation, col string, fold func(acc, v float64, n int) float64) (float64, int, bool) {
	var acc float64
	var n int
	for _, fips := range reg.CountyFIPS {
		obs, ok := byCounty[fips]
		if !ok {
			continue
		}
		v, ok := obs.Value(col)
		if !ok {
			continue
		}
		acc = fold(acc, v, n)
		n++
	}
	return acc, n, n > 0
}

// weightedMean excludes counties missing either the value or the weight
// from both numerator and denominator. All-zero weights leave the region
// undefined, not zero.
func weightedMean(reg model.Region, byCounty map[string]model.CountyObservation, m model.Measure) (float64, int, bool, *model.Warning) {
	var num, den float64
	var n int
	for _, fips := range reg.CountyFIPS {
		obs, ok := byCounty[fips]
		if !ok {
			continue
		}
		v, vok := obs.Value(m.ValueCol)
		w, wok := obs.Value(m.WeightCol)
		if !vok || !wok {
			continue
		}
		num += v * w
		den += w
		n++
	}
	if n == 0 {
		return 0, 0, false, nil
	}
	if den == 0 {
		w := model.Warningf(model.WarnZeroWeights, reg.Key, m.ID,
			"all %d contributing counties have zero weight", n)
		return 0, 0, false, &w
	}
	return num / den, n, true, nil
}

// ratio sums numerator and denominator independently before dividing,
// so regional rates come from regional totals rather than an average of
// county rates. Rate-of-change measures apply the same discipline to the
// current and base period totals.
func ratio(reg model.Region, byCounty map[string]model.CountyObservation, m model.Measure) (float64, int, bool) {
	if m.RateOfChange() {
		current, n1, ok1 := foldRegion(reg, byCounty, m.NumerCol, sumFold)
		base, n2, ok2 := foldRegion(reg, byCounty, m.BaseCol, sumFold)
		if !ok1 || !ok2 || base == 0 {
			return 0, 0, false
		}
		return (current - base) / base, min(n1, n2), true
	}

	var num, den float64
	var n int
	for _, fips := range reg.CountyFIPS {
		obs, ok := byCounty[fips]
		if !ok {
			continue
		}
		nv, nok := obs.Value(m.NumerCol)
		dv, dok := obs.Value(m.DenomCol)
		if !nok || !dok {
			continue
		}
		num += nv
		den += dv
		n++
	}
	if n == 0 || den == 0 {
		return 0, 0, false
	}
	return num / den, n, true
}

// statePassthroughValues picks the per-state value from any county in the
// state; every region in that state receives it.
func statePassthroughValues(byCounty map[string]model.CountyObservation, col string) map[string]float64 {
	fipsList := make([]string, 0, len(byCounty))
	for fips := range byCounty {
		fipsList = append(fipsList, fips)
	}
	// Deterministic choice of representative county per state.
	sort.Strings(fipsList)

	out := make(map[string]float64)
	for _, fips := range fipsList {
		state := model.StateOf(fips)
		if _, done := out[state]; done {
			continue
		}
		if v, ok := byCounty[fips].Value(col); ok {
			out[state] = v
		}
	}
	return out
}

func sumFold(acc, v float64, n int) float64 { return acc + v }
