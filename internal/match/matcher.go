package match

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/thriving-index/internal/model"
)

// DefaultPeerCount is the number of peers selected per target.
const DefaultPeerCount = 8

// Matcher ranks candidate regions by Mahalanobis distance to a target
// within a pre-built standardized space.
type Matcher struct {
	space *Space
	log   *zap.Logger
}

// NewMatcher wraps a standardized space for peer selection.
func NewMatcher(space *Space) *Matcher {
	return &Matcher{space: space, log: zap.L().Named("match")}
}

// SelectPeers picks the n closest eligible candidates for a target.
// Excluded keys (the target's protected cohort) and the target itself are
// never offered as peers. Distance ties at the cutoff break by candidate
// key so reruns are deterministic. Fewer than n eligible candidates yields
// an under-filled selection, not an error; an empty pool is an error.
func (m *Matcher) SelectPeers(targetKey string, excluded map[string]bool, n int) (*model.PeerSelection, []model.Warning, error) {
	if n <= 0 {
		n = DefaultPeerCount
	}
	target, ok := m.space.Row(targetKey)
	if !ok {
		return nil, nil, eris.Errorf("match: target %s not in candidate pool", targetKey)
	}

	type scored struct {
		key  string
		dist float64
	}
	candidates := make([]scored, 0, len(m.space.Keys))
	for _, key := range m.space.Keys {
		if key == targetKey || excluded[key] {
			continue
		}
		row, _ := m.space.Row(key)
		candidates = append(candidates, scored{key: key, dist: m.space.Distance(target, row)})
	}
	if len(candidates) == 0 {
		return nil, nil, eris.Errorf("match: no eligible candidates for target %s", targetKey)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].key < candidates[j].key
	})

	sel := &model.PeerSelection{TargetKey: targetKey, Requested: n}
	var warnings []model.Warning
	if len(candidates) < n {
		sel.UnderFilled = true
		warnings = append(warnings, model.Warningf(model.WarnUnderFilled, targetKey, "",
			"only %d eligible candidates for %d requested peers", len(candidates), n))
	}
	limit := min(n, len(candidates))
	for i := 0; i < limit; i++ {
		sel.Peers = append(sel.Peers, model.Peer{
			RegionKey: candidates[i].key,
			Distance:  candidates[i].dist,
			Rank:      i + 1,
		})
	}
	return sel, warnings, nil
}

// SelectAll runs peer selection for every target concurrently. The
// standardized space is read-only, so targets share it without locking.
// Every target's cohort exclusion set is the full target cohort within the
// same state.
func (m *Matcher) SelectAll(ctx context.Context, targets []string, cohorts map[string][]string, n, parallelism int) (map[string]*model.PeerSelection, []model.Warning, error) {
	if parallelism < 1 {
		parallelism = 4
	}

	var mu sync.Mutex
	selections := make(map[string]*model.PeerSelection, len(targets))
	var warnings []model.Warning
	if m.space.PseudoInverse {
		warnings = append(warnings, model.Warningf(model.WarnSingularCovariance, "", "",
			"distances computed over covariance pseudo-inverse"))
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, target := range targets {
		g.Go(func() error {
			excluded := make(map[string]bool)
			for _, key := range cohorts[target] {
				excluded[key] = true
			}
			sel, warns, err := m.SelectPeers(target, excluded, n)
			if err != nil {
				return err
			}
			mu.Lock()
			selections[target] = sel
			warnings = append(warnings, warns...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	m.log.Info("peer selection complete",
		zap.Int("targets", len(selections)),
		zap.Int("pool", len(m.space.Keys)))

	return selections, warnings, nil
}
