// Package counting implements the conjugate Gamma-Poisson rate processes:
// a per-bin empirical rate with a Gamma posterior, a periodic process that
// folds time onto a fixed cycle, and a spectral smoother that rebuilds the
// cycle's rate curve from its dominant Fourier components. It serves as the
// empirical per-bin baseline next to the spectral coefficient model in
// internal/rate, and as the reference "naive" estimator the model is
// compared against when coverage is partial.
package counting

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"
)

// GammaRate is the rate parameter of a Poisson bin represented as a Gamma
// distribution in shape/rate (alpha/beta) form. The conjugate update for a
// batch of counts is alpha += sum(counts), beta += n·interval.
type GammaRate struct {
	Alpha float64
	Beta  float64

	// Interval is the exposure per count in bin-width units.
	Interval float64
}

// NewGammaRate returns a rate at the weakly informative default prior.
func NewGammaRate(interval float64) *GammaRate {
	if interval <= 0 {
		interval = 1
	}
	g := &GammaRate{Interval: interval}
	g.Reset()
	return g
}

// Reset restores the default prior.
func (g *GammaRate) Reset() {
	g.Alpha = 1.1
	g.Beta = 1.1
}

// Update performs the conjugate posterior update for a batch of counts.
func (g *GammaRate) Update(counts ...int) {
	for _, c := range counts {
		g.Alpha += float64(c)
	}
	g.Beta += float64(len(counts)) * g.Interval
}

// Mode returns the MAP point estimate, or -1 when the mode is undefined
// (alpha < 1).
func (g *GammaRate) Mode() float64 {
	if g.Alpha >= 1 {
		return (g.Alpha - 1) / g.Beta
	}
	return -1
}

// Mean returns the posterior mean alpha/beta.
func (g *GammaRate) Mean() float64 {
	return g.Alpha / g.Beta
}

// Percentile returns the rate at the given posterior percentile.
func (g *GammaRate) Percentile(p float64) float64 {
	return distuv.Gamma{Alpha: g.Alpha, Beta: g.Beta}.Quantile(p)
}

// Upper returns the upper bound of the central interval, default 0.95.
func (g *GammaRate) Upper() float64 { return g.Percentile(0.95) }

// Lower returns the lower bound of the central interval, default 0.05.
func (g *GammaRate) Lower() float64 { return g.Percentile(0.05) }

// SetRate overwrites the distribution from a point estimate, keeping or
// replacing beta. With mapEstimate the point is interpreted as the mode,
// otherwise as the mean. Negative rates are rejected.
func (g *GammaRate) SetRate(rate, beta float64, mapEstimate bool) error {
	if rate < 0 {
		return fmt.Errorf("counting: rate must be non-negative, got %f", rate)
	}
	if beta > 0 {
		g.Beta = beta
	}
	if mapEstimate {
		g.Alpha = rate*g.Beta + 1
	} else {
		g.Alpha = rate * g.Beta
	}
	return nil
}

// Clone returns an independent copy.
func (g *GammaRate) Clone() *GammaRate {
	out := *g
	return &out
}
