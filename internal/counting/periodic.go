package counting

import (
	"fmt"
	"sort"
	"time"
)

// PeriodicProcess is a nonhomogeneous Poisson process whose rate function
// repeats after a fixed cycle. Each increment-wide slot within the cycle
// carries its own GammaRate, updated conjugately from the counts that fold
// onto it. Slots nobody has observed answer with the prior.
type PeriodicProcess struct {
	increment time.Duration
	cycle     time.Duration
	rates     map[time.Duration]*GammaRate
}

// StampedRate is one slot of a retrieved rate curve.
type StampedRate struct {
	Start time.Time
	Rate  float64
}

// PointEstimate selects which scalar summary Retrieve reports.
type PointEstimate int

const (
	// MAP reports the posterior mode.
	MAP PointEstimate = iota
	// MeanEstimate reports the posterior mean.
	MeanEstimate
	// UpperBound reports the 95th percentile.
	UpperBound
	// LowerBound reports the 5th percentile.
	LowerBound
)

// NewPeriodicProcess builds a process with the given slot increment and
// cycle length. The cycle must be a multiple of the increment.
func NewPeriodicProcess(increment, cycle time.Duration) (*PeriodicProcess, error) {
	if increment <= 0 {
		return nil, fmt.Errorf("counting: increment must be positive, got %v", increment)
	}
	if cycle <= 0 || cycle%increment != 0 {
		return nil, fmt.Errorf("counting: cycle %v must be a positive multiple of increment %v", cycle, increment)
	}
	return &PeriodicProcess{
		increment: increment,
		cycle:     cycle,
		rates:     make(map[time.Duration]*GammaRate),
	}, nil
}

// Increment returns the slot width.
func (p *PeriodicProcess) Increment() time.Duration { return p.increment }

// Cycle returns the cycle length.
func (p *PeriodicProcess) Cycle() time.Duration { return p.cycle }

// slot folds a timestamp onto its offset within the cycle, truncated to the
// increment grid. The cycle is anchored at the Unix epoch.
func (p *PeriodicProcess) slot(t time.Time) time.Duration {
	offset := time.Duration(t.Truncate(p.increment).UnixNano()) % p.cycle
	if offset < 0 {
		offset += p.cycle
	}
	return offset
}

// Observe folds one count at the given time into its slot.
func (p *PeriodicProcess) Observe(t time.Time, count int) {
	s := p.slot(t)
	r, ok := p.rates[s]
	if !ok {
		r = NewGammaRate(1)
		p.rates[s] = r
	}
	r.Update(count)
}

// RateAt returns the GammaRate for the slot covering t. Slots without
// evidence answer with a fresh prior; the caller owns the returned value.
func (p *PeriodicProcess) RateAt(t time.Time) *GammaRate {
	if r, ok := p.rates[p.slot(t)]; ok {
		return r.Clone()
	}
	return NewGammaRate(1)
}

// SetRateAt overwrites the slot covering t.
func (p *PeriodicProcess) SetRateAt(t time.Time, r *GammaRate) {
	p.rates[p.slot(t)] = r.Clone()
}

// Slots returns the number of slots with recorded evidence.
func (p *PeriodicProcess) Slots() int { return len(p.rates) }

// Retrieve reports the chosen point estimate for every increment in
// [start, end), folding each slot through the cycle.
func (p *PeriodicProcess) Retrieve(start, end time.Time, est PointEstimate) []StampedRate {
	var out []StampedRate
	for cur := start.Truncate(p.increment); cur.Before(end); cur = cur.Add(p.increment) {
		out = append(out, StampedRate{Start: cur, Rate: p.estimate(p.RateAt(cur), est)})
	}
	return out
}

// FullCycle reports one complete cycle of point estimates anchored at the
// epoch-aligned cycle start, in slot order.
func (p *PeriodicProcess) FullCycle(est PointEstimate) []StampedRate {
	slots := make([]time.Duration, 0, int(p.cycle/p.increment))
	for s := time.Duration(0); s < p.cycle; s += p.increment {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	base := time.Unix(0, 0).UTC()
	out := make([]StampedRate, 0, len(slots))
	for _, s := range slots {
		var g *GammaRate
		if r, ok := p.rates[s]; ok {
			g = r
		} else {
			g = NewGammaRate(1)
		}
		out = append(out, StampedRate{Start: base.Add(s), Rate: p.estimate(g, est)})
	}
	return out
}

func (p *PeriodicProcess) estimate(g *GammaRate, est PointEstimate) float64 {
	switch est {
	case MeanEstimate:
		return g.Mean()
	case UpperBound:
		return g.Upper()
	case LowerBound:
		return g.Lower()
	default:
		return g.Mode()
	}
}
