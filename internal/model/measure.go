// Package model defines the reference data and result types shared by the
// aggregation, matching, and scoring engines.
package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// AggMethod selects how county observations roll up to a region value.
type AggMethod int

const (
	AggUnknown AggMethod = iota
	AggSum
	AggSimpleMean
	AggWeightedMean
	AggMax
	AggRatio
	AggStatePassthrough
)

var aggMethodNames = map[AggMethod]string{
	AggSum:              "sum",
	AggSimpleMean:       "simple_mean",
	AggWeightedMean:     "weighted_mean",
	AggMax:              "max",
	AggRatio:            "ratio",
	AggStatePassthrough: "state_passthrough",
}

// String returns the catalog spelling of the method.
func (m AggMethod) String() string {
	if s, ok := aggMethodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("agg_method(%d)", int(m))
}

// ParseAggMethod maps a catalog string to an AggMethod. Unknown strings are
// a configuration error and must abort catalog construction.
func ParseAggMethod(s string) (AggMethod, error) {
	for m, name := range aggMethodNames {
		if name == s {
			return m, nil
		}
	}
	return AggUnknown, eris.Errorf("model: unknown aggregation method %q", s)
}

// Component is one of the eight index components measures roll up into.
type Component string

const (
	ComponentDemographics   Component = "demographics"
	ComponentEconomic       Component = "economic_strength"
	ComponentWorkforce      Component = "workforce"
	ComponentEducation      Component = "education"
	ComponentInfrastructure Component = "infrastructure"
	ComponentHealth         Component = "health"
	ComponentSafety         Component = "safety"
	ComponentCostOfLiving   Component = "cost_of_living_taxes"
)

// Components lists every component in rollup order.
var Components = []Component{
	ComponentDemographics,
	ComponentEconomic,
	ComponentWorkforce,
	ComponentEducation,
	ComponentInfrastructure,
	ComponentHealth,
	ComponentSafety,
	ComponentCostOfLiving,
}

// ValidComponent reports whether c is one of the eight known components.
func ValidComponent(c Component) bool {
	for _, known := range Components {
		if c == known {
			return true
		}
	}
	return false
}

// Measure describes one scored indicator: how its county observations
// aggregate, which component it belongs to, and which direction is
// favorable.
type Measure struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Component Component `json:"component" yaml:"component"`
	Method    AggMethod `json:"-" yaml:"-"`

	// Column bindings into the normalized observation table.
	ValueCol  string `json:"value_col" yaml:"value_col"`
	WeightCol string `json:"weight_col,omitempty" yaml:"weight_col,omitempty"` // weighted_mean only
	NumerCol  string `json:"numer_col,omitempty" yaml:"numer_col,omitempty"`   // ratio only
	DenomCol  string `json:"denom_col,omitempty" yaml:"denom_col,omitempty"`   // ratio only

	// Rate-of-change measures sum NumerCol (current period) and BaseCol
	// (base period) independently, then compute (current-base)/base.
	// DenomCol is unused when BaseCol is set.
	BaseCol string `json:"base_col,omitempty" yaml:"base_col,omitempty"`

	// LowerIsBetter flips the score around 100 after derivation (poverty,
	// crime, tax rates).
	LowerIsBetter bool `json:"lower_is_better" yaml:"lower_is_better"`
}

// Validate checks the column bindings required by the measure's method.
func (m Measure) Validate() error {
	if m.ID == "" {
		return eris.New("model: measure missing id")
	}
	if !ValidComponent(m.Component) {
		return eris.Errorf("model: measure %s: unknown component %q", m.ID, m.Component)
	}
	switch m.Method {
	case AggSum, AggSimpleMean, AggMax, AggStatePassthrough:
		if m.ValueCol == "" {
			return eris.Errorf("model: measure %s: method %s requires value_col", m.ID, m.Method)
		}
	case AggWeightedMean:
		if m.ValueCol == "" || m.WeightCol == "" {
			return eris.Errorf("model: measure %s: weighted_mean requires value_col and weight_col", m.ID)
		}
	case AggRatio:
		if m.BaseCol != "" {
			if m.NumerCol == "" {
				return eris.Errorf("model: measure %s: rate-of-change requires numer_col (current period)", m.ID)
			}
		} else if m.NumerCol == "" || m.DenomCol == "" {
			return eris.Errorf("model: measure %s: ratio requires numer_col and denom_col", m.ID)
		}
	default:
		return eris.Errorf("model: measure %s: method not set", m.ID)
	}
	return nil
}

// RateOfChange reports whether the measure compares two time periods.
func (m Measure) RateOfChange() bool {
	return m.Method == AggRatio && m.BaseCol != ""
}

// Columns lists every observation column the measure reads.
func (m Measure) Columns() []string {
	var cols []string
	for _, c := range []string{m.ValueCol, m.WeightCol, m.NumerCol, m.DenomCol, m.BaseCol} {
		if c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}
