package rate

import (
	"math"
	"testing"
)

func TestRatePositive(t *testing.T) {
	coeffs := []float64{0.5, -1.2, 2.0}
	phases := []float64{1, 0.3, -0.7}
	if r := Rate(coeffs, phases); r <= 0 {
		t.Errorf("Rate = %g, want positive", r)
	}

	// Extreme coefficients stay finite through the log-rate clamp.
	huge := []float64{1e6, 1e6, 1e6}
	r := Rate(huge, phases)
	if math.IsInf(r, 0) || math.IsNaN(r) {
		t.Errorf("Rate with huge coefficients = %g, want finite", r)
	}
	if r != math.Exp(maxLogRate) {
		t.Errorf("Rate with huge coefficients = %g, want exp(%d)", r, maxLogRate)
	}

	tiny := []float64{-1e6, -1e6, -1e6}
	if r := Rate(tiny, phases); r <= 0 {
		t.Errorf("Rate with tiny coefficients = %g, want positive", r)
	}
}

func TestLogLikelihood(t *testing.T) {
	coeffs := []float64{0.2, 0.5}
	phases := []float64{1, 0.4}
	s := 0.2 + 0.5*0.4
	want := 3*s - math.Exp(s)
	if got := LogLikelihood(coeffs, phases, 3); math.Abs(got-want) > 1e-12 {
		t.Errorf("LogLikelihood = %g, want %g", got, want)
	}

	// A zero count only keeps the -exp(s) term.
	want = -math.Exp(s)
	if got := LogLikelihood(coeffs, phases, 0); math.Abs(got-want) > 1e-12 {
		t.Errorf("LogLikelihood(count=0) = %g, want %g", got, want)
	}
}

// TestScoreMatchesFiniteDifference checks the analytic gradient against a
// central difference of the log-likelihood.
func TestScoreMatchesFiniteDifference(t *testing.T) {
	coeffs := []float64{0.3, -0.8, 0.5}
	phases := []float64{1, 0.6, -0.2}
	count := 4

	grad := make([]float64, 3)
	ScoreInto(grad, coeffs, phases, count)

	const h = 1e-6
	for i := range coeffs {
		up := append([]float64(nil), coeffs...)
		dn := append([]float64(nil), coeffs...)
		up[i] += h
		dn[i] -= h
		numeric := (LogLikelihood(up, phases, count) - LogLikelihood(dn, phases, count)) / (2 * h)
		if math.Abs(grad[i]-numeric) > 1e-5 {
			t.Errorf("gradient[%d] = %g, finite difference %g", i, grad[i], numeric)
		}
	}
}

func TestScoreIntoAccumulates(t *testing.T) {
	coeffs := []float64{0.1, 0.2}
	phases := []float64{1, 0.5}
	grad := []float64{10, 20}
	before := append([]float64(nil), grad...)
	ScoreInto(grad, coeffs, phases, 1)
	mu := Rate(coeffs, phases)
	for i := range grad {
		want := before[i] + (1-mu)*phases[i]
		if math.Abs(grad[i]-want) > 1e-12 {
			t.Errorf("grad[%d] = %g, want %g", i, grad[i], want)
		}
	}
}

func TestCurvatureWeightIsRate(t *testing.T) {
	coeffs := []float64{0.3, -0.1}
	phases := []float64{1, 0.9}
	if got, want := CurvatureWeight(coeffs, phases), Rate(coeffs, phases); got != want {
		t.Errorf("CurvatureWeight = %g, want %g", got, want)
	}
	if CurvatureWeight(coeffs, phases) <= 0 {
		t.Error("curvature weight must be positive for concavity")
	}
}
