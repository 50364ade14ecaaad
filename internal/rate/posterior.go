package rate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Posterior is the Gaussian belief over the spectral coefficients of one
// region. The coefficient dimension is fixed at construction. Only the
// engine mutates a Posterior, and every mutation is all-or-nothing: updates
// are computed on scratch copies and committed in one assignment.
type Posterior struct {
	mean         []float64
	cov          *mat.SymDense
	observations int
}

// NewPosterior builds a posterior from an initial mean and covariance. The
// covariance order must match the mean length.
func NewPosterior(mean []float64, cov *mat.SymDense) (*Posterior, error) {
	if len(mean) == 0 {
		return nil, fmt.Errorf("rate: posterior mean must not be empty")
	}
	if cov == nil || cov.SymmetricDim() != len(mean) {
		return nil, fmt.Errorf("rate: posterior covariance order must be %d", len(mean))
	}
	p := &Posterior{
		mean: append([]float64(nil), mean...),
		cov:  mat.NewSymDense(len(mean), nil),
	}
	p.cov.CopySym(cov)
	return p, nil
}

// newPriorPosterior builds the initial posterior from a validated config.
func newPriorPosterior(cfg Config) *Posterior {
	p, err := NewPosterior(cfg.priorMean(), cfg.priorCovariance())
	if err != nil {
		// Config.Validate guarantees matching dimensions.
		panic(err)
	}
	return p
}

// K returns the coefficient dimension.
func (p *Posterior) K() int { return len(p.mean) }

// Mean returns a copy of the posterior mean.
func (p *Posterior) Mean() []float64 {
	return append([]float64(nil), p.mean...)
}

// Covariance returns a copy of the posterior covariance.
func (p *Posterior) Covariance() *mat.SymDense {
	out := mat.NewSymDense(len(p.mean), nil)
	out.CopySym(p.cov)
	return out
}

// Observations returns how many observed records have been folded in. The
// counter never decreases.
func (p *Posterior) Observations() int { return p.observations }

// Clone returns an independent deep copy.
func (p *Posterior) Clone() *Posterior {
	out := &Posterior{
		mean:         append([]float64(nil), p.mean...),
		cov:          mat.NewSymDense(len(p.mean), nil),
		observations: p.observations,
	}
	out.cov.CopySym(p.cov)
	return out
}

// LogDetCovariance returns the log-determinant of the covariance, a scalar
// summary of posterior volume that shrinks as evidence accumulates.
func (p *Posterior) LogDetCovariance() float64 {
	var chol mat.Cholesky
	if chol.Factorize(p.cov) {
		return chol.LogDet()
	}
	// Fall back to an eigendecomposition when the covariance has drifted
	// to the PSD boundary.
	var eig mat.EigenSym
	if !eig.Factorize(p.cov, false) {
		return math.Inf(-1)
	}
	sum := 0.0
	for _, v := range eig.Values(nil) {
		if v < eigenFloor {
			v = eigenFloor
		}
		sum += math.Log(v)
	}
	return sum
}

// commit replaces the posterior contents in one step. mean and cov must not
// be retained by the caller afterwards.
func (p *Posterior) commit(mean []float64, cov *mat.SymDense, added int) {
	p.mean = mean
	p.cov = cov
	p.observations += added
}
