// Package observe holds the observation data model for the rate estimator:
// per-bin count records and the detector coverage mask that says when a
// region was actually being watched. The distinction matters because an
// unobserved bin carries no evidence at all, while an observed bin with no
// detections is a true zero count.
package observe

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedRecord is returned when a record's observed flag and count
// disagree. Records like this are rejected at the boundary rather than
// silently repaired.
var ErrMalformedRecord = errors.New("observe: malformed record")

// Record is one (bin, region) observation. Start identifies the bin; the
// bin width comes from the grid the record is fed into. Count must be nil
// when Observed is false and non-nil (and non-negative) when it is true.
type Record struct {
	Region   string    `json:"region"`
	Start    time.Time `json:"start"`
	Observed bool      `json:"observed"`
	Count    *int      `json:"count,omitempty"`
}

// NewObserved builds an observed record with the given count.
func NewObserved(region string, start time.Time, count int) Record {
	return Record{Region: region, Start: start, Observed: true, Count: &count}
}

// NewUnobserved builds a record for a bin the detector did not cover.
func NewUnobserved(region string, start time.Time) Record {
	return Record{Region: region, Start: start, Observed: false}
}

// Validate checks the observed/count invariant. The returned error wraps
// ErrMalformedRecord and carries enough context to locate the record.
func (r Record) Validate() error {
	if r.Region == "" {
		return fmt.Errorf("%w: empty region at %s", ErrMalformedRecord, r.Start.Format(time.RFC3339))
	}
	if r.Observed {
		if r.Count == nil {
			return fmt.Errorf("%w: region %q at %s observed without a count",
				ErrMalformedRecord, r.Region, r.Start.Format(time.RFC3339))
		}
		if *r.Count < 0 {
			return fmt.Errorf("%w: region %q at %s has negative count %d",
				ErrMalformedRecord, r.Region, r.Start.Format(time.RFC3339), *r.Count)
		}
		return nil
	}
	if r.Count != nil {
		return fmt.Errorf("%w: region %q at %s carries count %d but was not observed",
			ErrMalformedRecord, r.Region, r.Start.Format(time.RFC3339), *r.Count)
	}
	return nil
}

// CountValue returns the count for an observed record, or zero. Callers must
// check Observed first; an unobserved record's zero is not evidence.
func (r Record) CountValue() int {
	if r.Count == nil {
		return 0
	}
	return *r.Count
}
