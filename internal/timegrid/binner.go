package timegrid

import (
	"fmt"
	"time"
)

const (
	secondsPerDay  = 24 * 60 * 60
	secondsPerWeek = 7 * secondsPerDay
)

// TimeBin is one cell of the time grid. Bins are half-open intervals
// [Start, Start+Width): a timestamp exactly on a boundary belongs to the bin
// it initiates. Phases holds the basis feature vector evaluated at Start.
type TimeBin struct {
	Start  time.Time
	Width  time.Duration
	Phases []float64
}

// End returns the exclusive end of the bin.
func (tb TimeBin) End() time.Time {
	return tb.Start.Add(tb.Width)
}

// Binner discretises timestamps into fixed-width bins and attaches the
// calendar-phase features for each bin. Width is constant for the life of the
// Binner so the grid is homogeneous.
type Binner struct {
	width time.Duration
	basis *Basis
	loc   *time.Location
}

// NewBinner validates the bin width and returns a Binner. Width must be
// positive and no longer than one day. The location determines where
// midnight falls for the daily and weekly phase.
func NewBinner(width time.Duration, basis *Basis, loc *time.Location) (*Binner, error) {
	if basis == nil {
		return nil, fmt.Errorf("binner: basis required")
	}
	if width <= 0 {
		return nil, fmt.Errorf("binner: bin width must be positive, got %v", width)
	}
	if width > 24*time.Hour {
		return nil, fmt.Errorf("binner: bin width must not exceed 24h, got %v", width)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Binner{width: width, basis: basis, loc: loc}, nil
}

// Width returns the configured bin width.
func (b *Binner) Width() time.Duration { return b.width }

// K returns the feature dimension of the attached basis.
func (b *Binner) K() int { return b.basis.K() }

// Basis returns the attached basis.
func (b *Binner) Basis() *Basis { return b.basis }

// Bin returns the TimeBin covering t. The grid is anchored at the Unix epoch
// so bins are stable across restarts.
func (b *Binner) Bin(t time.Time) TimeBin {
	start := t.Truncate(b.width)
	day, week := b.phase(start)
	return TimeBin{
		Start:  start,
		Width:  b.width,
		Phases: b.basis.Features(day, week),
	}
}

// Bins returns every bin overlapping the half-open window [from, to).
func (b *Binner) Bins(from, to time.Time) []TimeBin {
	if !from.Before(to) {
		return nil
	}
	var bins []TimeBin
	for cur := from.Truncate(b.width); cur.Before(to); cur = cur.Add(b.width) {
		bins = append(bins, b.Bin(cur))
	}
	return bins
}

// phase computes the fraction of the day and of the week elapsed at t in the
// binner's location. Weeks are anchored on Monday.
func (b *Binner) phase(t time.Time) (dayFrac, weekFrac float64) {
	lt := t.In(b.loc)
	secOfDay := float64(lt.Hour()*3600+lt.Minute()*60+lt.Second()) +
		float64(lt.Nanosecond())/1e9
	dayFrac = secOfDay / secondsPerDay

	// time.Weekday starts on Sunday; shift so Monday is day zero.
	dayIdx := (int(lt.Weekday()) + 6) % 7
	weekFrac = (float64(dayIdx)*secondsPerDay + secOfDay) / secondsPerWeek
	return dayFrac, weekFrac
}
