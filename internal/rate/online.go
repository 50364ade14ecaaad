package rate

import (
	"fmt"
	"math"

	"github.com/banshee-data/presence.report/internal/observe"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// UpdateOnline folds a single record into the posterior at O(K^2) cost
// without revisiting history. The previous posterior acts as the prior; the
// single-observation likelihood is collapsed onto the one-dimensional
// projection s = phiT·w, whose mode solves the scalar equation
//
//	s = a + q·(y - exp(s))
//
// with a = phiT·m and q = phiT·Sigma·phi. The mean moves along Sigma·phi and
// the covariance takes a Sherman-Morrison rank-one downdate, which keeps it
// positive-definite for any q >= 0. Unobserved records are an exact no-op.
func (e *Engine) UpdateOnline(post *Posterior, rec observe.Record) (FitResult, error) {
	if post.K() != e.binner.K() {
		return FitResult{}, fmt.Errorf("rate: posterior dimension %d does not match basis dimension %d",
			post.K(), e.binner.K())
	}
	if err := rec.Validate(); err != nil {
		return FitResult{}, err
	}
	if !rec.Observed {
		return FitResult{Converged: true, Skipped: 1}, nil
	}

	phi := e.binner.Bin(rec.Start).Phases
	y := float64(rec.CountValue())
	k := post.K()

	// v = Sigma·phi, q = phiT·v.
	v := make([]float64, k)
	for i := 0; i < k; i++ {
		sum := 0.0
		for j := 0; j < k; j++ {
			sum += post.cov.At(i, j) * phi[j]
		}
		v[i] = sum
	}
	a := floats.Dot(phi, post.mean)
	q := floats.Dot(phi, v)
	if q < 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return FitResult{}, ErrNumericalInstability
	}

	s, iterations, converged := solveProjectedMode(a, q, y, e.cfg.Tolerance, e.cfg.MaxIterations)
	mu := math.Exp(s)

	// Mean shift along v and rank-one covariance downdate.
	mean := append([]float64(nil), post.mean...)
	floats.AddScaled(mean, y-mu, v)

	shrink := mu / (1 + q*mu)
	cov := mat.NewSymDense(k, nil)
	cov.SymRankOne(post.cov, -shrink, mat.NewVecDense(k, v))

	if !allFinite(mean) || !symFinite(cov) {
		return FitResult{}, ErrNumericalInstability
	}
	if repaired, err := ensurePSD(cov); err != nil {
		return FitResult{}, ErrNumericalInstability
	} else {
		cov = repaired
	}

	post.commit(mean, cov, 1)
	return FitResult{Converged: converged, Iterations: iterations, Observed: 1}, nil
}

// solveProjectedMode finds the root of f(s) = s - a - q(y - exp(s)) by
// damped scalar Newton. f is strictly increasing, so the root is unique.
func solveProjectedMode(a, q, y, tol float64, maxIter int) (s float64, iterations int, converged bool) {
	s = a
	if s > maxLogRate {
		s = maxLogRate
	} else if s < -maxLogRate {
		s = -maxLogRate
	}
	for i := 0; i < maxIter; i++ {
		iterations = i + 1
		es := math.Exp(s)
		f := s - a - q*(y-es)
		fp := 1 + q*es
		step := f / fp
		// Halve oversized steps; exp() explodes quickly otherwise.
		for math.Abs(step) > 5 {
			step /= 2
		}
		s -= step
		if s > maxLogRate {
			s = maxLogRate
		} else if s < -maxLogRate {
			s = -maxLogRate
		}
		if math.Abs(step) < tol {
			return s, iterations, true
		}
	}
	return s, iterations, false
}

// ensurePSD verifies the covariance still factorises; if not, it rebuilds it
// with eigenvalues floored at eigenFloor.
func ensurePSD(s *mat.SymDense) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if chol.Factorize(s) {
		return s, nil
	}
	k := s.SymmetricDim()
	var eig mat.EigenSym
	if !eig.Factorize(s, true) {
		return nil, fmt.Errorf("rate: eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sum := 0.0
			for m := 0; m < k; m++ {
				v := vals[m]
				if v < eigenFloor {
					v = eigenFloor
				}
				sum += vecs.At(i, m) * vecs.At(j, m) * v
			}
			out.SetSym(i, j, sum)
		}
	}
	return out, nil
}
