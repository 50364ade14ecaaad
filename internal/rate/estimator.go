package rate

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Estimate is the on-demand answer to "how much activity do we expect in
// this window". Lo and Hi bound the expected count at the configured
// credible level. Estimates are derived from a posterior snapshot and never
// stored.
type Estimate struct {
	Region   string    `json:"region"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Bins     int       `json:"bins"`
	Expected float64   `json:"expected"`
	Lo       float64   `json:"lo"`
	Hi       float64   `json:"hi"`
	Level    float64   `json:"level"`
}

// AnomalyResult compares an observed count against the model's predictive
// interval for the same window.
type AnomalyResult struct {
	Estimate
	ObservedCount int     `json:"observed_count"`
	PredictiveLo  float64 `json:"predictive_lo"`
	PredictiveHi  float64 `json:"predictive_hi"`
	Anomalous     bool    `json:"anomalous"`
}

// Estimate integrates the rate over [from, to) at the posterior mean and
// propagates coefficient uncertainty through the delta method: the gradient
// of the window total with respect to the coefficients is g = sum(mu_i·phi_i),
// giving variance gT·Sigma·g. It queries the model, not raw data, so it works
// identically for windows the detector never covered.
func (e *Engine) Estimate(post *Posterior, region string, from, to time.Time) (Estimate, error) {
	if post.K() != e.binner.K() {
		return Estimate{}, fmt.Errorf("rate: posterior dimension %d does not match basis dimension %d",
			post.K(), e.binner.K())
	}
	if !from.Before(to) {
		return Estimate{}, fmt.Errorf("rate: estimate window must have from before to (%s >= %s)",
			from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	bins := e.binner.Bins(from, to)
	k := post.K()
	mean := post.mean
	total := 0.0
	g := make([]float64, k)
	for _, bin := range bins {
		mu := Rate(mean, bin.Phases)
		total += mu
		floats.AddScaled(g, mu, bin.Phases)
	}

	variance := quadFormVec(post.cov, g)
	if variance < 0 {
		variance = 0
	}
	z := distuv.UnitNormal.Quantile(1 - (1-e.cfg.CredibleLevel)/2)
	half := z * math.Sqrt(variance)

	lo := total - half
	if lo < 0 {
		lo = 0
	}
	return Estimate{
		Region:   region,
		From:     from,
		To:       to,
		Bins:     len(bins),
		Expected: total,
		Lo:       lo,
		Hi:       total + half,
		Level:    e.cfg.CredibleLevel,
	}, nil
}

// EstimateSampled is the Monte-Carlo variant: it draws coefficient vectors
// from the Gaussian posterior and reports empirical quantiles of the window
// total. More expensive than the delta method but exact in the large-draw
// limit for the skewed case.
func (e *Engine) EstimateSampled(post *Posterior, region string, from, to time.Time, draws int, seed uint64) (Estimate, error) {
	if draws < 2 {
		return Estimate{}, fmt.Errorf("rate: sampled estimate needs at least 2 draws, got %d", draws)
	}
	base, err := e.Estimate(post, region, from, to)
	if err != nil {
		return Estimate{}, err
	}

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	normal, ok := distmv.NewNormal(post.mean, post.cov, src)
	if !ok {
		return Estimate{}, ErrNumericalInstability
	}

	bins := e.binner.Bins(from, to)
	totals := make([]float64, draws)
	w := make([]float64, post.K())
	for d := 0; d < draws; d++ {
		normal.Rand(w)
		sum := 0.0
		for _, bin := range bins {
			sum += Rate(w, bin.Phases)
		}
		totals[d] = sum
	}
	sort.Float64s(totals)

	alpha := (1 - e.cfg.CredibleLevel) / 2
	base.Lo = quantileSorted(totals, alpha)
	base.Hi = quantileSorted(totals, 1-alpha)
	if base.Lo < 0 {
		base.Lo = 0
	}
	return base, nil
}

// CheckCount flags an observed window count that falls outside the model's
// predictive interval. The predictive variance adds the Poisson term to the
// coefficient-uncertainty term, since even a perfectly known rate scatters
// counts by sqrt(lambda).
func (e *Engine) CheckCount(post *Posterior, region string, from, to time.Time, observed int) (AnomalyResult, error) {
	if observed < 0 {
		return AnomalyResult{}, fmt.Errorf("rate: observed count must be non-negative, got %d", observed)
	}
	est, err := e.Estimate(post, region, from, to)
	if err != nil {
		return AnomalyResult{}, err
	}

	z := distuv.UnitNormal.Quantile(1 - (1-e.cfg.CredibleLevel)/2)
	coefHalf := est.Hi - est.Expected
	coefVar := 0.0
	if z > 0 {
		coefVar = (coefHalf / z) * (coefHalf / z)
	}
	predHalf := z * math.Sqrt(coefVar+est.Expected)

	lo := est.Expected - predHalf
	if lo < 0 {
		lo = 0
	}
	hi := est.Expected + predHalf
	obs := float64(observed)
	return AnomalyResult{
		Estimate:      est,
		ObservedCount: observed,
		PredictiveLo:  lo,
		PredictiveHi:  hi,
		Anomalous:     obs < lo || obs > hi,
	}, nil
}

func quantileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// quadFormVec computes gT·S·g.
func quadFormVec(s interface{ At(i, j int) float64 }, g []float64) float64 {
	sum := 0.0
	for i := range g {
		for j := range g {
			sum += g[i] * s.At(i, j) * g[j]
		}
	}
	return sum
}
