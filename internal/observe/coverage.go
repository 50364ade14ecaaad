package observe

import (
	"fmt"
	"sort"
	"time"
)

// Interval is a half-open [Start, End) span during which a region's detector
// was active.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Coverage answers "was this region being watched during this bin" from a
// per-region observation-history interval log. Intervals are merged and
// sorted at construction so each query is a binary search, not a scan: the
// inference engine asks once per incoming bin and histories run to tens of
// thousands of intervals over a deployment.
type Coverage struct {
	byRegion map[string][]Interval

	// minFraction is the portion of a bin that must be covered for the bin
	// to count as observed. 1.0 demands full coverage.
	minFraction float64
}

// NewCoverage merges and sorts the supplied interval log. Every interval
// must have End after Start. minFraction must be in (0, 1]; passing 0 selects
// full coverage.
func NewCoverage(intervals map[string][]Interval, minFraction float64) (*Coverage, error) {
	if minFraction == 0 {
		minFraction = 1.0
	}
	if minFraction < 0 || minFraction > 1 {
		return nil, fmt.Errorf("coverage: min fraction must be in (0,1], got %v", minFraction)
	}
	merged := make(map[string][]Interval, len(intervals))
	for region, ivs := range intervals {
		for _, iv := range ivs {
			if !iv.End.After(iv.Start) {
				return nil, fmt.Errorf("coverage: region %q interval ends at or before start (%s >= %s)",
					region, iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
			}
		}
		merged[region] = mergeIntervals(ivs)
	}
	return &Coverage{byRegion: merged, minFraction: minFraction}, nil
}

func mergeIntervals(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	sorted := append([]Interval(nil), ivs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	out := sorted[:1]
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Regions returns the regions with any recorded coverage, sorted.
func (c *Coverage) Regions() []string {
	regions := make([]string, 0, len(c.byRegion))
	for r := range c.byRegion {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}

// Intervals returns the merged interval list for a region.
func (c *Coverage) Intervals(region string) []Interval {
	return append([]Interval(nil), c.byRegion[region]...)
}

// Span returns the earliest start and latest end of a region's coverage, and
// whether the region has any coverage at all.
func (c *Coverage) Span(region string) (time.Time, time.Time, bool) {
	ivs := c.byRegion[region]
	if len(ivs) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return ivs[0].Start, ivs[len(ivs)-1].End, true
}

// Observed reports whether the detector covered at least the configured
// fraction of the bin [start, start+width) for the region.
func (c *Coverage) Observed(region string, start time.Time, width time.Duration) bool {
	return c.CoveredFraction(region, start, width) >= c.minFraction
}

// CoveredFraction returns the fraction of [start, start+width) that falls
// inside the region's coverage intervals.
func (c *Coverage) CoveredFraction(region string, start time.Time, width time.Duration) float64 {
	ivs := c.byRegion[region]
	if len(ivs) == 0 || width <= 0 {
		return 0
	}
	end := start.Add(width)

	// First interval whose End is after the bin start. Intervals are sorted
	// and disjoint, so everything before it cannot overlap.
	i := sort.Search(len(ivs), func(i int) bool { return ivs[i].End.After(start) })

	var covered time.Duration
	for ; i < len(ivs) && ivs[i].Start.Before(end); i++ {
		lo := ivs[i].Start
		if lo.Before(start) {
			lo = start
		}
		hi := ivs[i].End
		if hi.After(end) {
			hi = end
		}
		covered += hi.Sub(lo)
	}
	return float64(covered) / float64(width)
}
