package model

import "fmt"

// WarningKind classifies recoverable issues surfaced on output records.
// Configuration errors are returned as errors instead and abort the run.
type WarningKind string

const (
	// WarnNoCoverage: a region resolved zero usable member counties for a
	// measure. The cell is left undefined, never defaulted.
	WarnNoCoverage WarningKind = "no_coverage"
	// WarnZeroWeights: every weight in a region was zero or missing under
	// weighted_mean aggregation.
	WarnZeroWeights WarningKind = "zero_weights"
	// WarnUnderFilled: fewer eligible peer candidates than requested.
	WarnUnderFilled WarningKind = "under_filled"
	// WarnFewPeerValues: fewer than 2 peers carried a value for a measure,
	// so no standard deviation (and no score) could be derived.
	WarnFewPeerValues WarningKind = "few_peer_values"
	// WarnSingularCovariance: the covariance matrix was singular and a
	// pseudo-inverse was used for distance computation.
	WarnSingularCovariance WarningKind = "singular_covariance"
)

// Warning attaches a recoverable issue to the region/measure it affects so
// completeness can be audited without failing the run.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	RegionKey string      `json:"region_key,omitempty"`
	MeasureID string      `json:"measure_id,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

func (w Warning) String() string {
	s := string(w.Kind)
	if w.RegionKey != "" {
		s += " region=" + w.RegionKey
	}
	if w.MeasureID != "" {
		s += " measure=" + w.MeasureID
	}
	if w.Detail != "" {
		s += ": " + w.Detail
	}
	return s
}

// Warningf builds a Warning with a formatted detail message.
func Warningf(kind WarningKind, regionKey, measureID, format string, args ...any) Warning {
	return Warning{
		Kind:      kind,
		RegionKey: regionKey,
		MeasureID: measureID,
		Detail:    fmt.Sprintf(format, args...),
	}
}
