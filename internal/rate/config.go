// Package rate implements the spectral Poisson-rate estimator: a log-linear
// rate model over periodic basis features, a Bayesian engine that maintains a
// Gaussian posterior over the basis coefficients, and query helpers that turn
// the posterior into expected counts and credible intervals for arbitrary
// windows. Only bins the detector actually covered contribute likelihood
// terms; everything else is extrapolated through the model.
package rate

import (
	"fmt"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/timegrid"
	"gonum.org/v1/gonum/mat"
)

// Mode selects how the engine incorporates evidence.
type Mode string

const (
	// ModeBatch refits the posterior with an iterative Laplace
	// approximation over a full record set.
	ModeBatch Mode = "batch"
	// ModeOnline folds one record at a time into the posterior with a
	// constant-cost Gaussian update.
	ModeOnline Mode = "online"
)

// Config carries every knob the estimator core recognises. Zero values are
// filled in by Validate where a sane default exists.
type Config struct {
	// BinWidth is the grid resolution. Must be positive and at most 24h.
	BinWidth time.Duration

	// Daily and Weekly are the harmonic frequencies of the basis, in
	// cycles per day and cycles per week. At least one is required.
	Daily  []float64
	Weekly []float64

	// PriorMean is the prior coefficient mean. Nil means the zero vector.
	// When set, its length must equal K().
	PriorMean []float64

	// PriorVariance scales an identity prior covariance. Ignored when
	// PriorCovariance is set.
	PriorVariance float64

	// PriorCovariance optionally supplies a full prior covariance. Its
	// order must equal K().
	PriorCovariance *mat.SymDense

	// Tolerance is the Newton convergence threshold on the coefficient
	// step (infinity norm).
	Tolerance float64

	// MaxIterations caps Newton iterations per batch fit.
	MaxIterations int

	// CredibleLevel is the two-sided credible interval mass, e.g. 0.95.
	CredibleLevel float64

	// UpdateMode selects batch or online evidence handling.
	UpdateMode Mode

	// Location fixes where midnight falls for the phase computation.
	// Nil means UTC.
	Location *time.Location
}

// K returns the coefficient dimension implied by the frequency sets.
func (c Config) K() int {
	return 1 + 2*(len(c.Daily)+len(c.Weekly))
}

// Validate checks the configuration and fills defaults in place. It fails
// fast on anything that would make the model ill-defined.
func (c *Config) Validate() error {
	if c.BinWidth <= 0 {
		return fmt.Errorf("rate: bin width must be positive, got %v", c.BinWidth)
	}
	if c.BinWidth > 24*time.Hour {
		return fmt.Errorf("rate: bin width must not exceed 24h, got %v", c.BinWidth)
	}
	if len(c.Daily)+len(c.Weekly) == 0 {
		return fmt.Errorf("rate: at least one basis frequency required")
	}
	k := c.K()
	if c.PriorMean != nil && len(c.PriorMean) != k {
		return fmt.Errorf("rate: prior mean has dimension %d, want %d", len(c.PriorMean), k)
	}
	if c.PriorCovariance != nil {
		if n := c.PriorCovariance.SymmetricDim(); n != k {
			return fmt.Errorf("rate: prior covariance has order %d, want %d", n, k)
		}
	} else {
		if c.PriorVariance == 0 {
			c.PriorVariance = 1.0
		}
		if c.PriorVariance <= 0 {
			return fmt.Errorf("rate: prior variance must be positive, got %v", c.PriorVariance)
		}
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1e-6
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("rate: convergence tolerance must be positive, got %v", c.Tolerance)
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 50
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("rate: max iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.CredibleLevel == 0 {
		c.CredibleLevel = 0.95
	}
	if c.CredibleLevel <= 0 || c.CredibleLevel >= 1 {
		return fmt.Errorf("rate: credible level must be in (0,1), got %v", c.CredibleLevel)
	}
	switch c.UpdateMode {
	case "":
		c.UpdateMode = ModeBatch
	case ModeBatch, ModeOnline:
	default:
		return fmt.Errorf("rate: unknown update mode %q", c.UpdateMode)
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return nil
}

// priorCovariance materialises the prior covariance matrix.
func (c Config) priorCovariance() *mat.SymDense {
	k := c.K()
	if c.PriorCovariance != nil {
		out := mat.NewSymDense(k, nil)
		out.CopySym(c.PriorCovariance)
		return out
	}
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		out.SetSym(i, i, c.PriorVariance)
	}
	return out
}

// priorMean materialises the prior mean vector.
func (c Config) priorMean() []float64 {
	k := c.K()
	out := make([]float64, k)
	copy(out, c.PriorMean)
	return out
}

// newBinner builds the time grid implied by the configuration.
func (c Config) newBinner() (*timegrid.Binner, error) {
	basis, err := timegrid.NewBasis(c.Daily, c.Weekly)
	if err != nil {
		return nil, err
	}
	return timegrid.NewBinner(c.BinWidth, basis, c.Location)
}

// ConfigFromTuning bridges the JSON tuning layer into the core config, the
// same way the rest of the stack builds component configs from TuningConfig.
func ConfigFromTuning(t *config.TuningConfig) (Config, error) {
	loc, err := time.LoadLocation(t.GetTimezone())
	if err != nil {
		return Config{}, fmt.Errorf("rate: invalid timezone %q: %w", t.GetTimezone(), err)
	}
	cfg := Config{
		BinWidth:      time.Duration(t.GetBinWidthMinutes()) * time.Minute,
		Daily:         t.GetDailyFrequencies(),
		Weekly:        t.GetWeeklyFrequencies(),
		PriorMean:     t.GetPriorMean(),
		PriorVariance: t.GetPriorVariance(),
		Tolerance:     t.GetConvergenceTolerance(),
		MaxIterations: t.GetMaxIterations(),
		CredibleLevel: t.GetCredibleLevel(),
		UpdateMode:    Mode(t.GetUpdateMode()),
		Location:      loc,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
