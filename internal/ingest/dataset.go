// Package ingest owns the on-disk dataset schema: JSON files holding
// per-region timestamped count samples and the patrol coverage intervals
// that say when each region's detector was actually running. The loader
// guarantees what the inference core assumes: samples time-ordered per
// region, observedness derived from coverage alone, and no counted sample
// outside coverage.
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/banshee-data/presence.report/internal/observe"
	"github.com/banshee-data/presence.report/internal/security"
	"github.com/banshee-data/presence.report/internal/timegrid"
)

// SchemaVersion is the dataset schema this loader understands.
const SchemaVersion = 1

// maxDatasetSize caps dataset files at 256MB; a 69-day minute-resolution
// deployment across a handful of regions stays well under that.
const maxDatasetSize = 256 * 1024 * 1024

// Sample is one observed count at a timestamp.
type Sample struct {
	Time  time.Time `json:"time"`
	Count int       `json:"count"`
}

// Dataset is the parsed on-disk form of a detection log.
type Dataset struct {
	SchemaVersion int                           `json:"schema_version"`
	Regions       []string                      `json:"regions"`
	Coverage      map[string][]observe.Interval `json:"coverage"`
	Samples       map[string][]Sample           `json:"samples"`
}

// LoadDataset reads and validates a dataset file. Samples are sorted in
// place per region so downstream consumers always see time order.
func LoadDataset(path string) (*Dataset, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("dataset file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat dataset file: %w", err)
	}
	if info.Size() > maxDatasetSize {
		return nil, fmt.Errorf("dataset file too large: %d bytes (max %d)", info.Size(), maxDatasetSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset JSON: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dataset %s: %w", cleanPath, err)
	}
	return &ds, nil
}

// LoadDatasetWithin loads a dataset after checking the path stays inside
// safeDir, for callers that accept dataset paths from the network.
func LoadDatasetWithin(safeDir, path string) (*Dataset, error) {
	if err := security.ValidatePathWithinDirectory(path, safeDir); err != nil {
		return nil, err
	}
	return LoadDataset(path)
}

// Validate checks the dataset invariants and sorts samples per region.
func (d *Dataset) Validate() error {
	if d.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %d, want %d", d.SchemaVersion, SchemaVersion)
	}
	if len(d.Regions) == 0 {
		return fmt.Errorf("dataset declares no regions")
	}
	declared := make(map[string]bool, len(d.Regions))
	for _, r := range d.Regions {
		if r == "" {
			return fmt.Errorf("empty region name")
		}
		if declared[r] {
			return fmt.Errorf("duplicate region %q", r)
		}
		declared[r] = true
	}
	for region := range d.Coverage {
		if !declared[region] {
			return fmt.Errorf("coverage references undeclared region %q", region)
		}
	}
	for region, samples := range d.Samples {
		if !declared[region] {
			return fmt.Errorf("samples reference undeclared region %q", region)
		}
		for i, s := range samples {
			if s.Count < 0 {
				return fmt.Errorf("region %q sample %d has negative count %d", region, i, s.Count)
			}
			if s.Time.IsZero() {
				return fmt.Errorf("region %q sample %d has no timestamp", region, i)
			}
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })
	}
	return nil
}

// NewCoverage builds the observability mask from the dataset's coverage log.
func (d *Dataset) NewCoverage(minFraction float64) (*observe.Coverage, error) {
	return observe.NewCoverage(d.Coverage, minFraction)
}

// Records bins the dataset onto the grid and returns per-region record
// streams spanning each region's coverage window. Bins inside coverage
// become observed records (zero-filled when no sample landed in them); bins
// outside coverage become unobserved records with no count. A counted
// sample falling outside coverage is a contract violation and is rejected
// with its location.
func (d *Dataset) Records(binner *timegrid.Binner, cov *observe.Coverage) (map[string][]observe.Record, error) {
	out := make(map[string][]observe.Record, len(d.Regions))
	for _, region := range d.Regions {
		first, last, ok := cov.Span(region)
		if !ok {
			// A region with no coverage contributes no evidence.
			out[region] = nil
			continue
		}

		counts := make(map[time.Time]int)
		for i, s := range d.Samples[region] {
			bin := binner.Bin(s.Time)
			if !cov.Observed(region, bin.Start, bin.Width) {
				return nil, fmt.Errorf("region %q sample %d at %s has a count outside coverage",
					region, i, s.Time.Format(time.RFC3339))
			}
			counts[bin.Start] += s.Count
		}

		var recs []observe.Record
		for _, bin := range binner.Bins(first, last) {
			if cov.Observed(region, bin.Start, bin.Width) {
				recs = append(recs, observe.NewObserved(region, bin.Start, counts[bin.Start]))
			} else {
				recs = append(recs, observe.NewUnobserved(region, bin.Start))
			}
		}
		out[region] = recs
	}
	return out, nil
}

// Stream returns a restartable iterator over one region's records, for
// feeding the online update path.
func (d *Dataset) Stream(region string, binner *timegrid.Binner, cov *observe.Coverage) (*observe.Stream, error) {
	byRegion, err := d.Records(binner, cov)
	if err != nil {
		return nil, err
	}
	recs, ok := byRegion[region]
	if !ok {
		return nil, fmt.Errorf("unknown region %q", region)
	}
	return observe.NewStream(recs), nil
}
