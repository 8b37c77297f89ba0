package model

// Peer is one selected benchmark region with its distance to the target.
// Rank 1 is the closest peer.
type Peer struct {
	RegionKey string  `json:"region_key"`
	Distance  float64 `json:"distance"`
	Rank      int     `json:"rank"`
}

// PeerSelection is the ordered peer set for one target region, immutable
// once computed. UnderFilled marks selections where fewer eligible
// candidates remained than were requested.
type PeerSelection struct {
	TargetKey   string `json:"target_key"`
	Peers       []Peer `json:"peers"`
	Requested   int    `json:"requested"`
	UnderFilled bool   `json:"under_filled,omitempty"`
}

// PeerKeys returns the selected region keys in rank order.
func (s PeerSelection) PeerKeys() []string {
	keys := make([]string, len(s.Peers))
	for i, p := range s.Peers {
		keys[i] = p.RegionKey
	}
	return keys
}

// MeasureScore is the benchmarked result for one (target, measure) cell.
// Score is nominally 0-200 with 100 at the peer average; values outside
// that band are legitimate for extreme targets. Derived data, never
// mutated after creation.
type MeasureScore struct {
	TargetKey   string  `json:"target_key"`
	MeasureID   string  `json:"measure_id"`
	TargetValue float64 `json:"target_value"`
	Score       float64 `json:"score"`
	PeerMean    float64 `json:"peer_mean"`
	PeerStdDev  float64 `json:"peer_std_dev"`
	Percentile  float64 `json:"percentile"`
	PeerCount   int     `json:"peer_count"`
	Inverted    bool    `json:"inverted"`
}

// ComponentScore averages the defined measure scores within one component.
type ComponentScore struct {
	TargetKey    string    `json:"target_key"`
	Component    Component `json:"component"`
	Score        float64   `json:"score"`
	MeasureCount int       `json:"measure_count"`
}

// OverallScore averages a target's component scores.
type OverallScore struct {
	TargetKey      string  `json:"target_key"`
	Score          float64 `json:"score"`
	ComponentCount int     `json:"component_count"`
}
