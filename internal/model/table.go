package model

// CountyObservation is one normalized input row: a county FIPS code plus
// named numeric columns. Missing cells are absent from Cols, never zero.
// Source-specific column names are resolved at the loading boundary; the
// engines only ever see the names a Measure binds to.
type CountyObservation struct {
	FIPS string
	Cols map[string]float64
}

// Value returns the named column and whether it is present.
func (o CountyObservation) Value(col string) (float64, bool) {
	v, ok := o.Cols[col]
	return v, ok
}

// ObservationTable holds every county row for one measure's source table.
type ObservationTable struct {
	MeasureID string
	Rows      []CountyObservation
}

// RegionValue is the aggregated value of one measure for one region.
type RegionValue struct {
	RegionKey string  `json:"region_key"`
	MeasureID string  `json:"measure_id"`
	Value     float64 `json:"value"`
	// Counties contributing to the value, for coverage auditing.
	CountyCount int `json:"county_count"`
}

// MatchingVector holds the raw matching-variable values for one candidate
// region, in the fixed variable order of the run.
type MatchingVector struct {
	RegionKey string    `json:"region_key"`
	Values    []float64 `json:"values"`
}
