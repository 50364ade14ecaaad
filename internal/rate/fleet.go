package rate

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/observe"
)

// ErrOutOfOrder is returned when an online record arrives before the last
// one applied for its region. The ingest layer promises non-decreasing time
// order per region; violating it would double-count evidence.
var ErrOutOfOrder = errors.New("rate: observation out of time order")

// Fleet owns one Posterior per region and serialises updates to each.
// Distinct regions are fully independent, so batch fits fan out across a
// bounded worker pool while a per-region mutex protects the read-modify-write
// on each posterior.
type Fleet struct {
	engine *Engine

	mu      sync.Mutex
	regions map[string]*regionState
}

type regionState struct {
	mu   sync.Mutex
	post *Posterior
	last time.Time
}

// NewFleet validates cfg and returns an empty fleet. Regions are created on
// first use, starting from the configured prior.
func NewFleet(cfg Config) (*Fleet, error) {
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Fleet{engine: engine, regions: make(map[string]*regionState)}, nil
}

// Engine returns the fleet's shared engine.
func (f *Fleet) Engine() *Engine { return f.engine }

// Regions returns the known region names, sorted.
func (f *Fleet) Regions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.regions))
	for name := range f.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Fleet) region(name string) *regionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs, ok := f.regions[name]
	if !ok {
		rs = &regionState{post: f.engine.NewPosterior()}
		f.regions[name] = rs
	}
	return rs
}

// Posterior returns a snapshot clone of a region's posterior. Unknown
// regions answer with the prior.
func (f *Fleet) Posterior(region string) *Posterior {
	rs := f.region(region)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.post.Clone()
}

// Restore replaces a region's posterior, e.g. when reloading a snapshot from
// the store at startup.
func (f *Fleet) Restore(region string, post *Posterior) error {
	if post.K() != f.engine.binner.K() {
		return fmt.Errorf("rate: snapshot dimension %d does not match basis dimension %d",
			post.K(), f.engine.binner.K())
	}
	rs := f.region(region)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.post = post.Clone()
	rs.last = time.Time{}
	return nil
}

// Apply folds a single record into its region's posterior using the online
// update, enforcing per-region time order.
func (f *Fleet) Apply(rec observe.Record) (FitResult, error) {
	if err := rec.Validate(); err != nil {
		return FitResult{}, err
	}
	rs := f.region(rec.Region)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !rs.last.IsZero() && rec.Start.Before(rs.last) {
		return FitResult{}, fmt.Errorf("%w: region %q at %s, last applied %s",
			ErrOutOfOrder, rec.Region, rec.Start.Format(time.RFC3339), rs.last.Format(time.RFC3339))
	}
	res, err := f.engine.UpdateOnline(rs.post, rec)
	if err != nil {
		return res, err
	}
	rs.last = rec.Start
	return res, nil
}

// ApplyStream drains an iterator through Apply, stopping on the first error.
func (f *Fleet) ApplyStream(it observe.Iterator) (FitResult, error) {
	var total FitResult
	total.Converged = true
	for it.Next() {
		res, err := f.Apply(it.Record())
		if err != nil {
			return total, err
		}
		total.Iterations += res.Iterations
		total.Observed += res.Observed
		total.Skipped += res.Skipped
		total.Converged = total.Converged && res.Converged
	}
	if err := it.Err(); err != nil {
		return total, err
	}
	return total, nil
}

// FitBatch runs a batch Laplace fit for one region.
func (f *Fleet) FitBatch(region string, recs []observe.Record) (FitResult, error) {
	rs := f.region(region)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	res, err := f.engine.FitBatch(rs.post, recs)
	if err != nil {
		return res, err
	}
	for _, rec := range recs {
		if rec.Start.After(rs.last) {
			rs.last = rec.Start
		}
	}
	return res, nil
}

// FitAll batch-fits every region in byRegion on a bounded worker pool.
// workers <= 0 selects GOMAXPROCS. The returned map carries one result per
// region; the first error encountered is returned alongside the partial
// results, with unaffected regions still committed.
func (f *Fleet) FitAll(byRegion map[string][]observe.Record, workers int) (map[string]FitResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	type job struct {
		region string
		recs   []observe.Record
	}
	type outcome struct {
		region string
		res    FitResult
		err    error
	}

	jobs := make(chan job)
	outcomes := make(chan outcome)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res, err := f.FitBatch(j.region, j.recs)
				outcomes <- outcome{region: j.region, res: res, err: err}
			}
		}()
	}
	go func() {
		for region, recs := range byRegion {
			jobs <- job{region: region, recs: recs}
		}
		close(jobs)
		wg.Wait()
		close(outcomes)
	}()

	results := make(map[string]FitResult, len(byRegion))
	var firstErr error
	for o := range outcomes {
		results[o.region] = o.res
		if o.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("region %q: %w", o.region, o.err)
		}
	}
	return results, firstErr
}

// Estimate answers a window query against a snapshot of the region's
// posterior. The region lock is held only long enough to clone.
func (f *Fleet) Estimate(region string, from, to time.Time) (Estimate, error) {
	return f.engine.Estimate(f.Posterior(region), region, from, to)
}

// EstimateSampled is the Monte-Carlo window query.
func (f *Fleet) EstimateSampled(region string, from, to time.Time, draws int, seed uint64) (Estimate, error) {
	return f.engine.EstimateSampled(f.Posterior(region), region, from, to, draws, seed)
}

// CheckCount runs the anomaly comparison for a region window.
func (f *Fleet) CheckCount(region string, from, to time.Time, observed int) (AnomalyResult, error) {
	return f.engine.CheckCount(f.Posterior(region), region, from, to, observed)
}

// Snapshot returns clones of every region's posterior, keyed by region.
func (f *Fleet) Snapshot() map[string]*Posterior {
	out := make(map[string]*Posterior)
	for _, name := range f.Regions() {
		out[name] = f.Posterior(name)
	}
	return out
}
