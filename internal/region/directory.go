// Package region builds the static county-to-region directory from
// per-state definition tables and validates its completeness.
package region

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thriving-index/internal/model"
)

// Def is one row of a state's region-definition table.
type Def struct {
	CountyFIPS string
	Ordinal    int
	RegionName string
}

// Directory maps counties to regions and back. Immutable once built;
// multiple directories (e.g. parallel test runs with different region
// definitions) do not share state.
type Directory struct {
	counties map[string]*model.County // by 5-digit FIPS
	regions  map[string]*model.Region // by region key
	byState  map[string][]string      // state FIPS -> sorted region keys
}

// Build assembles a directory from per-state definition tables. Keys of
// defs are 2-digit state FIPS codes; states without a regional subdivision
// simply contribute no entry. Duplicate counties and conflicting region
// names fail loudly with the offending key.
func Build(defs map[string][]Def) (*Directory, error) {
	d := &Directory{
		counties: make(map[string]*model.County),
		regions:  make(map[string]*model.Region),
		byState:  make(map[string][]string),
	}

	states := make([]string, 0, len(defs))
	for state := range defs {
		states = append(states, state)
	}
	sort.Strings(states)

	for _, state := range states {
		for _, def := range defs[state] {
			if err := model.ValidateFIPS(def.CountyFIPS); err != nil {
				return nil, err
			}
			if model.StateOf(def.CountyFIPS) != state {
				return nil, eris.Errorf("region: county %s listed in state %s table", def.CountyFIPS, state)
			}
			if def.Ordinal < 1 {
				return nil, eris.Errorf("region: county %s: region ordinal %d must be >= 1", def.CountyFIPS, def.Ordinal)
			}
			if prev, dup := d.counties[def.CountyFIPS]; dup {
				return nil, eris.Errorf("region: county %s mapped to both %s and %s",
					def.CountyFIPS, prev.RegionKey, model.RegionKeyFor(state, def.Ordinal))
			}

			key := model.RegionKeyFor(state, def.Ordinal)
			reg, ok := d.regions[key]
			if !ok {
				reg = &model.Region{
					Key:       key,
					StateFIPS: state,
					Ordinal:   def.Ordinal,
					Name:      def.RegionName,
				}
				d.regions[key] = reg
				d.byState[state] = append(d.byState[state], key)
			} else if reg.Name != def.RegionName {
				return nil, eris.Errorf("region: %s named both %q and %q", key, reg.Name, def.RegionName)
			}

			reg.CountyFIPS = append(reg.CountyFIPS, def.CountyFIPS)
			d.counties[def.CountyFIPS] = &model.County{
				FIPS:      def.CountyFIPS,
				StateFIPS: state,
				RegionKey: key,
			}
		}
	}

	for _, reg := range d.regions {
		sort.Strings(reg.CountyFIPS)
	}
	for state := range d.byState {
		sort.Strings(d.byState[state])
	}

	zap.L().Debug("region directory built",
		zap.Int("states", len(d.byState)),
		zap.Int("regions", len(d.regions)),
		zap.Int("counties", len(d.counties)))

	return d, nil
}

// RegionFor returns the region a county belongs to, or nil when the county
// has no regional assignment.
func (d *Directory) RegionFor(countyFIPS string) *model.Region {
	c, ok := d.counties[countyFIPS]
	if !ok {
		return nil
	}
	return d.regions[c.RegionKey]
}

// Region returns the region with the given key, or nil.
func (d *Directory) Region(key string) *model.Region {
	return d.regions[key]
}

// CountiesIn returns the ordered member counties of a region, or nil for an
// unknown key.
func (d *Directory) CountiesIn(key string) []model.County {
	reg, ok := d.regions[key]
	if !ok {
		return nil
	}
	out := make([]model.County, 0, len(reg.CountyFIPS))
	for _, fips := range reg.CountyFIPS {
		out = append(out, *d.counties[fips])
	}
	return out
}

// AllRegions returns every region, optionally filtered to one state, sorted
// by key.
func (d *Directory) AllRegions(stateFilter string) []model.Region {
	var keys []string
	if stateFilter != "" {
		keys = d.byState[stateFilter]
	} else {
		for key := range d.regions {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}
	out := make([]model.Region, 0, len(keys))
	for _, key := range keys {
		out = append(out, *d.regions[key])
	}
	return out
}

// MarkTargetCohort flags the named regions as the scored target cohort.
// Unknown keys are an error: a misspelled target silently matching nothing
// would corrupt peer exclusion.
func (d *Directory) MarkTargetCohort(keys []string) error {
	for _, key := range keys {
		reg, ok := d.regions[key]
		if !ok {
			return eris.Errorf("region: unknown target region %s", key)
		}
		reg.TargetCohort = true
	}
	return nil
}

// TargetCohort returns the keys of every region flagged as a scoring
// target, sorted.
func (d *Directory) TargetCohort() []string {
	var keys []string
	for key, reg := range d.regions {
		if reg.TargetCohort {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Coverage reports how many of the given county FIPS codes resolve to a
// region. Run before aggregation to validate input completeness.
type Coverage struct {
	Resolved   int      `json:"resolved"`
	Unresolved int      `json:"unresolved"`
	Missing    []string `json:"missing,omitempty"` // FIPS codes with no region
}

// CheckCoverage resolves each county FIPS code against the directory.
func (d *Directory) CheckCoverage(countyFIPS []string) Coverage {
	var cov Coverage
	for _, fips := range countyFIPS {
		if _, ok := d.counties[fips]; ok {
			cov.Resolved++
		} else {
			cov.Unresolved++
			cov.Missing = append(cov.Missing, fips)
		}
	}
	sort.Strings(cov.Missing)
	return cov
}
