package timegrid

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testBinner(t *testing.T, width time.Duration) *Binner {
	t.Helper()
	basis, err := NewBasis([]float64{1, 2}, []float64{1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBinner(width, basis, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewBinnerValidation(t *testing.T) {
	basis, err := NewBasis([]float64{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewBinner(0, basis, time.UTC); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := NewBinner(-time.Minute, basis, time.UTC); err == nil {
		t.Error("expected error for negative width")
	}
	if _, err := NewBinner(25*time.Hour, basis, time.UTC); err == nil {
		t.Error("expected error for width over 24h")
	}
	if _, err := NewBinner(time.Minute, nil, time.UTC); err == nil {
		t.Error("expected error for nil basis")
	}
	if _, err := NewBinner(time.Minute, basis, nil); err != nil {
		t.Errorf("nil location should default to UTC: %v", err)
	}
}

func TestBinBoundariesHalfOpen(t *testing.T) {
	b := testBinner(t, time.Minute)
	boundary := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

	// A timestamp exactly on a boundary starts its own bin.
	bin := b.Bin(boundary)
	if !bin.Start.Equal(boundary) {
		t.Errorf("Bin(%v).Start = %v, want %v", boundary, bin.Start, boundary)
	}

	// One nanosecond earlier belongs to the previous bin.
	prev := b.Bin(boundary.Add(-time.Nanosecond))
	if !prev.Start.Equal(boundary.Add(-time.Minute)) {
		t.Errorf("Bin just before boundary started at %v, want %v",
			prev.Start, boundary.Add(-time.Minute))
	}

	// The last instant inside the bin still maps to it.
	last := b.Bin(boundary.Add(time.Minute - time.Nanosecond))
	if !last.Start.Equal(boundary) {
		t.Errorf("Bin at end of interval started at %v, want %v", last.Start, boundary)
	}

	if !bin.End().Equal(boundary.Add(time.Minute)) {
		t.Errorf("End() = %v, want %v", bin.End(), boundary.Add(time.Minute))
	}
}

func TestBinDeterministic(t *testing.T) {
	b := testBinner(t, 5*time.Minute)
	ts := time.Date(2026, 3, 2, 10, 33, 17, 123456, time.UTC)

	first := b.Bin(ts)
	second := b.Bin(ts)
	if !first.Start.Equal(second.Start) {
		t.Error("same timestamp mapped to different bins")
	}
	if diff := cmp.Diff(first.Phases, second.Phases); diff != "" {
		t.Errorf("phases differ between calls (-first +second):\n%s", diff)
	}
	if len(first.Phases) != b.K() {
		t.Errorf("phases have dimension %d, want %d", len(first.Phases), b.K())
	}
}

func TestBinsCoverWindow(t *testing.T) {
	b := testBinner(t, time.Minute)
	from := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	to := from.Add(10 * time.Minute)

	bins := b.Bins(from, to)
	if len(bins) != 10 {
		t.Fatalf("got %d bins, want 10", len(bins))
	}
	for i, bin := range bins {
		want := from.Add(time.Duration(i) * time.Minute)
		if !bin.Start.Equal(want) {
			t.Errorf("bin %d starts at %v, want %v", i, bin.Start, want)
		}
	}

	// Unaligned window: the first bin starts before from and the window end
	// is exclusive.
	bins = b.Bins(from.Add(30*time.Second), to)
	if len(bins) != 10 {
		t.Errorf("unaligned window produced %d bins, want 10", len(bins))
	}
	if !bins[0].Start.Equal(from) {
		t.Errorf("first bin starts at %v, want %v", bins[0].Start, from)
	}

	if got := b.Bins(to, from); got != nil {
		t.Errorf("inverted window produced %d bins, want none", len(got))
	}
	if got := b.Bins(from, from); got != nil {
		t.Errorf("empty window produced %d bins, want none", len(got))
	}
}

func TestPhaseMidnightAndNoon(t *testing.T) {
	b := testBinner(t, time.Minute)

	// 2026-03-02 is a Monday, so week phase is zero at midnight.
	midnight := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	bin := b.Bin(midnight)
	// Basis is [1, sin/cos d1, sin/cos d2, sin/cos w1]; all sin terms are 0
	// and all cos terms are 1 at phase zero.
	want := []float64{1, 0, 1, 0, 1, 0, 1}
	for i := range want {
		if math.Abs(bin.Phases[i]-want[i]) > 1e-9 {
			t.Errorf("midnight Monday phase[%d] = %g, want %g", i, bin.Phases[i], want[i])
		}
	}

	// Noon: daily frequency 1 is at half cycle, sin=0 cos=-1.
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	bin = b.Bin(noon)
	if math.Abs(bin.Phases[1]) > 1e-9 || math.Abs(bin.Phases[2]+1) > 1e-9 {
		t.Errorf("noon daily harmonic = (%g, %g), want (0, -1)", bin.Phases[1], bin.Phases[2])
	}
}

func TestPhaseRespectsLocation(t *testing.T) {
	basis, err := NewBasis([]float64{1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	utcBinner, err := NewBinner(time.Minute, basis, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	nyBinner, err := NewBinner(time.Minute, basis, ny)
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	utcBin := utcBinner.Bin(ts)
	nyBin := nyBinner.Bin(ts)

	// Same instant, same grid position, different wall clock so different
	// phase features.
	if !utcBin.Start.Equal(nyBin.Start) {
		t.Error("bin boundaries must not depend on location")
	}
	if math.Abs(utcBin.Phases[1]-nyBin.Phases[1]) < 1e-9 {
		t.Error("expected different daily phase in a different timezone")
	}
}

func TestWeekAnchoredOnMonday(t *testing.T) {
	b := testBinner(t, time.Minute)

	// Sunday 23:59 is the end of the week; Monday 00:00 wraps to zero.
	sunday := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	_, sundayWeek := b.phase(sunday)
	_, mondayWeek := b.phase(monday)

	if sundayWeek < 0.99 {
		t.Errorf("Sunday night week fraction = %f, want near 1", sundayWeek)
	}
	if mondayWeek != 0 {
		t.Errorf("Monday midnight week fraction = %f, want 0", mondayWeek)
	}
}
