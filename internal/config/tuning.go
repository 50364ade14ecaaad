package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/presence.report/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/config endpoint so the same JSON can be used
// for both startup configuration and inspection at runtime.
type TuningConfig struct {
	// Time grid and basis params
	BinWidthMinutes   *int       `json:"bin_width_minutes,omitempty"`
	DailyFrequencies  *[]float64 `json:"daily_frequencies,omitempty"`  // cycles per day
	WeeklyFrequencies *[]float64 `json:"weekly_frequencies,omitempty"` // cycles per week
	Timezone          *string    `json:"timezone,omitempty"`

	// Prior params
	PriorMean     *[]float64 `json:"prior_mean,omitempty"`
	PriorVariance *float64   `json:"prior_variance,omitempty"`

	// Inference params
	ConvergenceTolerance *float64 `json:"convergence_tolerance,omitempty"`
	MaxIterations        *int     `json:"max_iterations,omitempty"`
	CredibleLevel        *float64 `json:"credible_level,omitempty"`
	UpdateMode           *string  `json:"update_mode,omitempty"` // "batch" or "online"

	// Coverage params
	MinCoverageFraction *float64 `json:"min_coverage_fraction,omitempty"`

	// Server params
	SnapshotInterval *string `json:"snapshot_interval,omitempty"` // duration string like "5m"
	RateUnits        *string `json:"rate_units,omitempty"`        // per_minute, per_hour, per_day
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64    { return &v }
func ptrInt(v int) *int                { return &v }
func ptrString(v string) *string       { return &v }
func ptrFloats(v []float64) *[]float64 { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig populated with the canonical
// defaults. Prefer LoadTuningConfig(DefaultConfigPath) in binaries; this is
// the in-code fallback the tests compare against.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		BinWidthMinutes:      ptrInt(1),
		DailyFrequencies:     ptrFloats([]float64{1, 2}),
		WeeklyFrequencies:    ptrFloats([]float64{1}),
		Timezone:             ptrString("UTC"),
		PriorVariance:        ptrFloat64(1.0),
		ConvergenceTolerance: ptrFloat64(1e-6),
		MaxIterations:        ptrInt(50),
		CredibleLevel:        ptrFloat64(0.95),
		UpdateMode:           ptrString("batch"),
		MinCoverageFraction:  ptrFloat64(1.0),
		SnapshotInterval:     ptrString("5m"),
		RateUnits:            ptrString(units.PerHour),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/*/... packages
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.BinWidthMinutes != nil {
		if *c.BinWidthMinutes < 1 || *c.BinWidthMinutes > 1440 {
			return fmt.Errorf("bin_width_minutes must be between 1 and 1440, got %d", *c.BinWidthMinutes)
		}
	}
	if c.DailyFrequencies != nil {
		for _, f := range *c.DailyFrequencies {
			if f <= 0 {
				return fmt.Errorf("daily_frequencies must all be positive, got %f", f)
			}
		}
	}
	if c.WeeklyFrequencies != nil {
		for _, f := range *c.WeeklyFrequencies {
			if f <= 0 {
				return fmt.Errorf("weekly_frequencies must all be positive, got %f", f)
			}
		}
	}
	if c.PriorVariance != nil && *c.PriorVariance <= 0 {
		return fmt.Errorf("prior_variance must be positive, got %f", *c.PriorVariance)
	}
	if c.ConvergenceTolerance != nil && *c.ConvergenceTolerance <= 0 {
		return fmt.Errorf("convergence_tolerance must be positive, got %g", *c.ConvergenceTolerance)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.CredibleLevel != nil {
		if *c.CredibleLevel <= 0 || *c.CredibleLevel >= 1 {
			return fmt.Errorf("credible_level must be between 0 and 1 exclusive, got %f", *c.CredibleLevel)
		}
	}
	if c.UpdateMode != nil {
		if *c.UpdateMode != "batch" && *c.UpdateMode != "online" {
			return fmt.Errorf("update_mode must be 'batch' or 'online', got %q", *c.UpdateMode)
		}
	}
	if c.MinCoverageFraction != nil {
		if *c.MinCoverageFraction <= 0 || *c.MinCoverageFraction > 1 {
			return fmt.Errorf("min_coverage_fraction must be in (0,1], got %f", *c.MinCoverageFraction)
		}
	}
	if c.Timezone != nil && !units.IsTimezoneValid(*c.Timezone) {
		return fmt.Errorf("invalid timezone %q", *c.Timezone)
	}
	if c.SnapshotInterval != nil && *c.SnapshotInterval != "" {
		if _, err := time.ParseDuration(*c.SnapshotInterval); err != nil {
			return fmt.Errorf("invalid snapshot_interval '%s': %w", *c.SnapshotInterval, err)
		}
	}
	if c.RateUnits != nil && !units.IsValid(*c.RateUnits) {
		return fmt.Errorf("rate_units must be one of %s, got %q", units.GetValidUnitsString(), *c.RateUnits)
	}
	return nil
}

// GetBinWidthMinutes returns the bin_width_minutes value or the default.
func (c *TuningConfig) GetBinWidthMinutes() int {
	if c.BinWidthMinutes == nil {
		return 1
	}
	return *c.BinWidthMinutes
}

// GetDailyFrequencies returns the daily_frequencies value or the default.
func (c *TuningConfig) GetDailyFrequencies() []float64 {
	if c.DailyFrequencies == nil {
		return []float64{1, 2}
	}
	return append([]float64(nil), (*c.DailyFrequencies)...)
}

// GetWeeklyFrequencies returns the weekly_frequencies value or the default.
func (c *TuningConfig) GetWeeklyFrequencies() []float64 {
	if c.WeeklyFrequencies == nil {
		return []float64{1}
	}
	return append([]float64(nil), (*c.WeeklyFrequencies)...)
}

// GetTimezone returns the timezone value or the default.
func (c *TuningConfig) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return "UTC"
	}
	return *c.Timezone
}

// GetPriorMean returns the prior_mean value, or nil for the zero vector.
func (c *TuningConfig) GetPriorMean() []float64 {
	if c.PriorMean == nil {
		return nil
	}
	return append([]float64(nil), (*c.PriorMean)...)
}

// GetPriorVariance returns the prior_variance value or the default.
func (c *TuningConfig) GetPriorVariance() float64 {
	if c.PriorVariance == nil {
		return 1.0
	}
	return *c.PriorVariance
}

// GetConvergenceTolerance returns the convergence_tolerance value or the default.
func (c *TuningConfig) GetConvergenceTolerance() float64 {
	if c.ConvergenceTolerance == nil {
		return 1e-6
	}
	return *c.ConvergenceTolerance
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 50
	}
	return *c.MaxIterations
}

// GetCredibleLevel returns the credible_level value or the default.
func (c *TuningConfig) GetCredibleLevel() float64 {
	if c.CredibleLevel == nil {
		return 0.95
	}
	return *c.CredibleLevel
}

// GetUpdateMode returns the update_mode value or the default.
func (c *TuningConfig) GetUpdateMode() string {
	if c.UpdateMode == nil || *c.UpdateMode == "" {
		return "batch"
	}
	return *c.UpdateMode
}

// GetMinCoverageFraction returns the min_coverage_fraction value or the default.
func (c *TuningConfig) GetMinCoverageFraction() float64 {
	if c.MinCoverageFraction == nil {
		return 1.0
	}
	return *c.MinCoverageFraction
}

// GetSnapshotInterval parses and returns the SnapshotInterval as a time.Duration.
func (c *TuningConfig) GetSnapshotInterval() time.Duration {
	if c.SnapshotInterval == nil || *c.SnapshotInterval == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(*c.SnapshotInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetRateUnits returns the rate_units value or the default.
func (c *TuningConfig) GetRateUnits() string {
	if c.RateUnits == nil || *c.RateUnits == "" {
		return units.PerHour
	}
	return *c.RateUnits
}
