package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// County is static reference data: a 5-digit FIPS code (2-digit state +
// 3-digit county) and the region it belongs to, if any. Counties in states
// without a regional subdivision carry an empty RegionKey.
type County struct {
	FIPS      string `json:"fips"`
	StateFIPS string `json:"state_fips"`
	RegionKey string `json:"region_key,omitempty"`
}

// ValidateFIPS checks the 5-digit county FIPS shape.
func ValidateFIPS(fips string) error {
	if len(fips) != 5 {
		return eris.Errorf("model: county fips %q: want 5 digits", fips)
	}
	for _, r := range fips {
		if r < '0' || r > '9' {
			return eris.Errorf("model: county fips %q: non-digit character", fips)
		}
	}
	return nil
}

// StateOf returns the 2-digit state prefix of a county FIPS code.
func StateOf(fips string) string {
	if len(fips) < 2 {
		return ""
	}
	return fips[:2]
}

// RegionKeyFor builds the composite region key, unique across all states.
func RegionKeyFor(stateFIPS string, ordinal int) string {
	return fmt.Sprintf("%s_%d", stateFIPS, ordinal)
}

// SplitRegionKey returns the state FIPS portion of a region key.
func SplitRegionKey(key string) (stateFIPS string, ok bool) {
	i := strings.IndexByte(key, '_')
	if i != 2 {
		return "", false
	}
	return key[:i], true
}

// Region is an aggregation of one or more counties, the unit of analysis.
// TargetCohort marks regions being scored in the current study; members of
// the same cohort are never offered to one another as peers.
type Region struct {
	Key          string   `json:"key"`
	StateFIPS    string   `json:"state_fips"`
	Ordinal      int      `json:"ordinal"`
	Name         string   `json:"name"`
	CountyFIPS   []string `json:"county_fips"`
	TargetCohort bool     `json:"target_cohort,omitempty"`
}
