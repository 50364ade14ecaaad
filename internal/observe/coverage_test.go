package observe

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func mustCoverage(t *testing.T, ivs map[string][]Interval, minFraction float64) *Coverage {
	t.Helper()
	cov, err := NewCoverage(ivs, minFraction)
	if err != nil {
		t.Fatal(err)
	}
	return cov
}

func TestNewCoverageValidation(t *testing.T) {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	if _, err := NewCoverage(map[string][]Interval{
		"atrium": {{Start: start, End: start}},
	}, 1.0); err == nil {
		t.Error("expected error for empty interval")
	}
	if _, err := NewCoverage(map[string][]Interval{
		"atrium": {{Start: start, End: start.Add(-time.Hour)}},
	}, 1.0); err == nil {
		t.Error("expected error for inverted interval")
	}
	if _, err := NewCoverage(nil, 1.5); err == nil {
		t.Error("expected error for min fraction above 1")
	}
	if _, err := NewCoverage(nil, -0.1); err == nil {
		t.Error("expected error for negative min fraction")
	}
}

func TestMergeOverlappingIntervals(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cov := mustCoverage(t, map[string][]Interval{
		"atrium": {
			{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)},
			{Start: base, End: base.Add(time.Hour)},
			{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)},
			// adjacent intervals merge too
			{Start: base.Add(90 * time.Minute), End: base.Add(100 * time.Minute)},
		},
	}, 1.0)

	want := []Interval{
		{Start: base, End: base.Add(100 * time.Minute)},
		{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)},
	}
	if diff := cmp.Diff(want, cov.Intervals("atrium")); diff != "" {
		t.Errorf("merged intervals mismatch (-want +got):\n%s", diff)
	}
}

func TestSpan(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cov := mustCoverage(t, map[string][]Interval{
		"atrium": {
			{Start: base.Add(4 * time.Hour), End: base.Add(5 * time.Hour)},
			{Start: base, End: base.Add(time.Hour)},
		},
	}, 1.0)

	from, to, ok := cov.Span("atrium")
	if !ok {
		t.Fatal("Span reported no coverage")
	}
	if !from.Equal(base) || !to.Equal(base.Add(5*time.Hour)) {
		t.Errorf("Span = [%v, %v], want [%v, %v]", from, to, base, base.Add(5*time.Hour))
	}

	if _, _, ok := cov.Span("basement"); ok {
		t.Error("Span reported coverage for unknown region")
	}
}

func TestObservedFullCoverage(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cov := mustCoverage(t, map[string][]Interval{
		"atrium": {{Start: base, End: base.Add(time.Hour)}},
	}, 1.0)

	if !cov.Observed("atrium", base, time.Minute) {
		t.Error("bin at interval start should be observed")
	}
	if !cov.Observed("atrium", base.Add(59*time.Minute), time.Minute) {
		t.Error("last full bin should be observed")
	}
	// The bin starting at the interval end is entirely outside.
	if cov.Observed("atrium", base.Add(time.Hour), time.Minute) {
		t.Error("bin at interval end should not be observed")
	}
	// Half in, half out fails a full-coverage requirement.
	if cov.Observed("atrium", base.Add(time.Hour-30*time.Second), time.Minute) {
		t.Error("partially covered bin should not be observed at minFraction 1")
	}
	if cov.Observed("basement", base, time.Minute) {
		t.Error("unknown region should never be observed")
	}
}

func TestObservedPartialThreshold(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cov := mustCoverage(t, map[string][]Interval{
		"atrium": {{Start: base, End: base.Add(30 * time.Second)}},
	}, 0.5)

	// Exactly half the bin is covered, which meets the 0.5 threshold.
	if !cov.Observed("atrium", base, time.Minute) {
		t.Error("half-covered bin should be observed at minFraction 0.5")
	}
	if got := cov.CoveredFraction("atrium", base, time.Minute); got != 0.5 {
		t.Errorf("CoveredFraction = %f, want 0.5", got)
	}
}

func TestCoveredFractionAcrossGaps(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cov := mustCoverage(t, map[string][]Interval{
		"atrium": {
			{Start: base, End: base.Add(10 * time.Minute)},
			{Start: base.Add(20 * time.Minute), End: base.Add(30 * time.Minute)},
		},
	}, 1.0)

	// A one-hour bin overlapping both intervals and the gap: 20 of 60 minutes.
	got := cov.CoveredFraction("atrium", base, time.Hour)
	want := 20.0 / 60.0
	if diff := got - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("CoveredFraction = %f, want %f", got, want)
	}

	if got := cov.CoveredFraction("atrium", base.Add(-time.Hour), time.Hour); got != 0 {
		t.Errorf("CoveredFraction before coverage = %f, want 0", got)
	}
	if got := cov.CoveredFraction("atrium", base, 0); got != 0 {
		t.Errorf("CoveredFraction with zero width = %f, want 0", got)
	}
}

func TestRegionsSorted(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	iv := []Interval{{Start: base, End: base.Add(time.Hour)}}
	cov := mustCoverage(t, map[string][]Interval{
		"loading-dock": iv, "atrium": iv, "garage": iv,
	}, 1.0)

	want := []string{"atrium", "garage", "loading-dock"}
	if diff := cmp.Diff(want, cov.Regions()); diff != "" {
		t.Errorf("Regions mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamIterator(t *testing.T) {
	recs := []Record{
		NewObserved("atrium", binStart, 1),
		NewUnobserved("atrium", binStart.Add(time.Minute)),
		NewObserved("atrium", binStart.Add(2*time.Minute), 0),
	}
	s := NewStream(recs)
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}

	var seen []Record
	for s.Next() {
		seen = append(seen, s.Record())
	}
	if s.Err() != nil {
		t.Fatalf("Err() = %v", s.Err())
	}
	if len(seen) != 3 {
		t.Fatalf("iterated %d records, want 3", len(seen))
	}

	s.Reset()
	if !s.Next() {
		t.Fatal("Next() after Reset returned false")
	}
	if got := s.Record(); !got.Start.Equal(recs[0].Start) {
		t.Errorf("first record after Reset starts at %v, want %v", got.Start, recs[0].Start)
	}
}
