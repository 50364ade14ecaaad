// Package timegrid maps raw detection timestamps onto a fixed grid of
// calendar-aligned time bins and evaluates the periodic feature basis used by
// the rate model. Both operations are pure: the same timestamp and
// configuration always produce the same bin and the same feature vector.
package timegrid

import (
	"fmt"
	"math"
)

// Basis is a harmonic feature basis over calendar phase. It combines a
// constant term with sin/cos pairs at the configured daily and weekly
// frequencies. Daily frequencies are in cycles per day, weekly frequencies in
// cycles per week.
type Basis struct {
	daily  []float64
	weekly []float64
}

// NewBasis validates the frequency sets and returns a Basis. At least one
// frequency must be configured and every frequency must be positive.
func NewBasis(daily, weekly []float64) (*Basis, error) {
	if len(daily)+len(weekly) == 0 {
		return nil, fmt.Errorf("basis: at least one frequency required")
	}
	for i, f := range daily {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("basis: daily frequency %d must be positive, got %v", i, f)
		}
	}
	for i, f := range weekly {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("basis: weekly frequency %d must be positive, got %v", i, f)
		}
	}
	return &Basis{
		daily:  append([]float64(nil), daily...),
		weekly: append([]float64(nil), weekly...),
	}, nil
}

// K returns the feature dimension: 1 + 2 per configured frequency.
func (b *Basis) K() int {
	return 1 + 2*(len(b.daily)+len(b.weekly))
}

// Features evaluates the basis at the given calendar phase. dayFrac is the
// fraction of the day elapsed in [0,1), weekFrac the fraction of the week.
// The first element is always the constant term.
func (b *Basis) Features(dayFrac, weekFrac float64) []float64 {
	phi := make([]float64, 0, b.K())
	phi = append(phi, 1)
	for _, f := range b.daily {
		theta := 2 * math.Pi * f * dayFrac
		phi = append(phi, math.Sin(theta), math.Cos(theta))
	}
	for _, f := range b.weekly {
		theta := 2 * math.Pi * f * weekFrac
		phi = append(phi, math.Sin(theta), math.Cos(theta))
	}
	return phi
}

// Frequencies returns copies of the configured daily and weekly frequency
// sets, mostly for reporting endpoints.
func (b *Basis) Frequencies() (daily, weekly []float64) {
	return append([]float64(nil), b.daily...), append([]float64(nil), b.weekly...)
}
