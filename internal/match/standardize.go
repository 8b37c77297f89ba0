// Package match selects statistically comparable peer regions: it z-scores
// the matching variables across the full candidate pool and ranks
// candidates by Mahalanobis distance in that shared standardized space.
package match

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/thriving-index/internal/model"
)

// Variables is the fixed matching-variable set, in column order. The
// candidate-pool table must supply all of them for every region.
var Variables = []string{
	"population",
	"pct_urban",
	"pct_manufacturing",
	"pct_services",
	"pct_farm",
	"pct_mining",
	"dist_metro_miles",
	"per_capita_income",
}

// Space is the standardized matching space shared by every target's
// distance computation. Built once per run; read-only afterwards so
// parallel matching needs no locking.
type Space struct {
	Keys    []string   // candidate region keys, row order
	rows    map[string]int
	z       *mat.Dense // standardized values, one row per candidate
	means   []float64
	stddevs []float64
	invCov  *mat.Dense

	// PseudoInverse marks that the covariance matrix was singular and a
	// Moore-Penrose pseudo-inverse was substituted.
	PseudoInverse bool
}

// Standardize builds the matching space from the raw candidate-pool
// vectors. Means and standard deviations are computed across the whole
// pool, never per target: peers must be judged against one fixed metric.
func Standardize(pool []model.MatchingVector) (*Space, error) {
	if len(pool) == 0 {
		return nil, eris.New("match: empty candidate pool")
	}
	dims := len(Variables)
	for _, v := range pool {
		if len(v.Values) != dims {
			return nil, eris.Errorf("match: region %s has %d matching variables, want %d",
				v.RegionKey, len(v.Values), dims)
		}
	}

	sp := &Space{
		Keys:    make([]string, len(pool)),
		rows:    make(map[string]int, len(pool)),
		means:   make([]float64, dims),
		stddevs: make([]float64, dims),
	}

	raw := mat.NewDense(len(pool), dims, nil)
	for i, v := range pool {
		sp.Keys[i] = v.RegionKey
		sp.rows[v.RegionKey] = i
		raw.SetRow(i, v.Values)
	}

	col := make([]float64, len(pool))
	for j := 0; j < dims; j++ {
		mat.Col(col, j, raw)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			// A constant variable carries no matching information; keep the
			// column at zero rather than dividing by zero.
			std = 1
		}
		sp.means[j] = mean
		sp.stddevs[j] = std
	}

	sp.z = mat.NewDense(len(pool), dims, nil)
	for i := 0; i < len(pool); i++ {
		for j := 0; j < dims; j++ {
			sp.z.Set(i, j, (raw.At(i, j)-sp.means[j])/sp.stddevs[j])
		}
	}

	cov := mat.NewSymDense(dims, nil)
	stat.CovarianceMatrix(cov, sp.z, nil)

	sp.invCov = mat.NewDense(dims, dims, nil)
	if err := sp.invCov.Inverse(cov); err != nil {
		// Singular: duplicated or perfectly collinear variables. Fall back
		// to the pseudo-inverse and flag the run for audit.
		var svd mat.SVD
		if !svd.Factorize(cov, mat.SVDFull) {
			return nil, eris.New("match: covariance SVD failed to factorize")
		}
		pinv(sp.invCov, &svd)
		sp.PseudoInverse = true
		zap.L().Named("match").Warn("covariance matrix singular, using pseudo-inverse",
			zap.Int("dims", dims), zap.Int("pool", len(pool)))
	}

	return sp, nil
}

// pinv writes the Moore-Penrose pseudo-inverse of the factorized matrix
// into dst, zeroing singular values below a relative tolerance.
func pinv(dst *mat.Dense, svd *mat.SVD) {
	values := svd.Values(nil)
	tol := 1e-12
	if len(values) > 0 {
		tol = 1e-12 * values[0] * float64(len(values))
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	n := len(values)
	sigmaInv := mat.NewDense(n, n, nil)
	for i, s := range values {
		if s > tol {
			sigmaInv.Set(i, i, 1/s)
		}
	}

	var tmp mat.Dense
	tmp.Mul(sigmaInv, u.T())
	dst.Mul(&v, &tmp)
}

// Row returns the standardized vector for a region and whether the region
// is in the pool.
func (s *Space) Row(regionKey string) ([]float64, bool) {
	i, ok := s.rows[regionKey]
	if !ok {
		return nil, false
	}
	return mat.Row(nil, i, s.z), true
}

// Means returns the pool means in variable order.
func (s *Space) Means() []float64 { return s.means }

// StdDevs returns the pool standard deviations in variable order.
func (s *Space) StdDevs() []float64 { return s.stddevs }

// Distance computes the Mahalanobis distance between two standardized
// vectors over the shared inverse covariance.
func (s *Space) Distance(a, b []float64) float64 {
	dims := len(a)
	diff := make([]float64, dims)
	for i := range diff {
		diff[i] = a[i] - b[i]
	}
	d := mat.NewVecDense(dims, diff)

	var tmp mat.VecDense
	tmp.MulVec(s.invCov, d)
	q := mat.Dot(d, &tmp)
	if q < 0 {
		// Pseudo-inverse rounding can push a near-zero form slightly
		// negative.
		q = 0
	}
	return math.Sqrt(q)
}
