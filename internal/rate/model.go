package rate

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// maxLogRate clamps the log-rate before exponentiation. exp(30) is around
// 1e13 events per bin, far beyond anything physical, while keeping the rate
// and its derivatives finite during early Newton steps.
const maxLogRate = 30

// Rate evaluates the log-linear link: exp(coeffs · phases). The result is
// positive for any finite coefficient vector.
func Rate(coeffs, phases []float64) float64 {
	s := floats.Dot(coeffs, phases)
	if s > maxLogRate {
		s = maxLogRate
	} else if s < -maxLogRate {
		s = -maxLogRate
	}
	return math.Exp(s)
}

// LogLikelihood returns the Poisson log-likelihood of count at the given
// features, up to the count-only additive constant:
//
//	l(w) = y·(w·phi) - exp(w·phi)
//
// The dropped log(y!) term does not depend on the coefficients.
func LogLikelihood(coeffs, phases []float64, count int) float64 {
	s := floats.Dot(coeffs, phases)
	if s > maxLogRate {
		s = maxLogRate
	} else if s < -maxLogRate {
		s = -maxLogRate
	}
	return float64(count)*s - math.Exp(s)
}

// ScoreInto accumulates the gradient of the log-likelihood with respect to
// the coefficients into dst: (y - mu)·phi with mu the current rate.
func ScoreInto(dst, coeffs, phases []float64, count int) {
	mu := Rate(coeffs, phases)
	floats.AddScaled(dst, float64(count)-mu, phases)
}

// CurvatureWeight returns mu, the negative-Hessian weight of one likelihood
// term: the Hessian contribution is -mu·phi·phiT. Because mu > 0 always, the
// log-likelihood is concave in the coefficients.
func CurvatureWeight(coeffs, phases []float64) float64 {
	return Rate(coeffs, phases)
}
