// Package store persists run results and caches peer selections. Peer
// matching is the expensive stage; selections are keyed by a fingerprint
// of the matching-variable set and target cohort so a changed study
// invalidates the cache and an unchanged one reuses it.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/thriving-index/internal/model"
)

// Run records one engine invocation.
type Run struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Store is the persistence interface for engine outputs.
type Store interface {
	CreateRun(ctx context.Context, fingerprint string) (*Run, error)
	FinishRun(ctx context.Context, runID string) error

	SaveRegionValues(ctx context.Context, runID string, values []model.RegionValue) error
	SavePeerSelections(ctx context.Context, runID, fingerprint string, selections map[string]*model.PeerSelection) error
	// LatestPeerSelections returns the cached selections of the most recent
	// run with the same fingerprint, or nil when no run matches.
	LatestPeerSelections(ctx context.Context, fingerprint string) (map[string]*model.PeerSelection, error)

	SaveMeasureScores(ctx context.Context, runID string, scores []model.MeasureScore) error
	SaveComponentScores(ctx context.Context, runID string, scores []model.ComponentScore) error
	SaveOverallScores(ctx context.Context, runID string, scores []model.OverallScore) error
	SaveWarnings(ctx context.Context, runID string, warnings []model.Warning) error

	Migrate(ctx context.Context) error
	Close() error
}

// Fingerprint derives the cache key for a matching run: the matching
// variables in order, the target cohort, and the peer count.
func Fingerprint(variables []string, targets []string, peerCount int) string {
	sorted := make([]string, len(targets))
	copy(sorted, targets)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(strings.Join(variables, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(peerCount)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
