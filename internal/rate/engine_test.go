package rate

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/presence.report/internal/observe"
)

// testConfig keeps the coefficient dimension small: constant plus two daily
// harmonics, K = 5.
func testConfig() Config {
	return Config{
		BinWidth:      5 * time.Minute,
		Daily:         []float64{1, 2},
		PriorVariance: 1.0,
	}
}

var testStart = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// wTrue describes a strong day/night pattern: roughly 8 events per bin at
// noon and 0.7 at midnight.
var wTrue = []float64{0.7, 0, -1.2, 0.3, 0.2}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// synthRecords draws Poisson counts from the true rate for every bin over
// the given number of days.
func synthRecords(t *testing.T, e *Engine, region string, days int, seed uint64) []observe.Record {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var recs []observe.Record
	end := testStart.AddDate(0, 0, days)
	for _, bin := range e.Binner().Bins(testStart, end) {
		lambda := Rate(wTrue, bin.Phases)
		p := distuv.Poisson{Lambda: lambda, Src: rng}
		recs = append(recs, observe.NewObserved(region, bin.Start, int(p.Rand())))
	}
	return recs
}

func TestFitBatchRecoversCoefficients(t *testing.T) {
	e := testEngine(t)
	post := e.NewPosterior()
	recs := synthRecords(t, e, "atrium", 3, 11)

	res, err := e.FitBatch(post, recs)
	if err != nil {
		t.Fatalf("FitBatch failed: %v", err)
	}
	if !res.Converged {
		t.Errorf("fit did not converge in %d iterations", res.Iterations)
	}
	if res.Observed != len(recs) {
		t.Errorf("Observed = %d, want %d", res.Observed, len(recs))
	}
	if res.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", res.Skipped)
	}

	mean := post.Mean()
	for i := range wTrue {
		if d := math.Abs(mean[i] - wTrue[i]); d > 0.15 {
			t.Errorf("coefficient %d = %f, want %f (off by %f)", i, mean[i], wTrue[i], d)
		}
	}
	if post.Observations() != len(recs) {
		t.Errorf("Observations = %d, want %d", post.Observations(), len(recs))
	}
}

// TestFitBatchIgnoresUnobserved is the core partial-observability contract:
// interleaving any number of unobserved records must not change the result
// at all.
func TestFitBatchIgnoresUnobserved(t *testing.T) {
	e := testEngine(t)
	recs := synthRecords(t, e, "atrium", 2, 7)

	clean := e.NewPosterior()
	if _, err := e.FitBatch(clean, recs); err != nil {
		t.Fatal(err)
	}

	// The same evidence with gaps marked unobserved in between.
	var padded []observe.Record
	for i, rec := range recs {
		padded = append(padded, rec)
		padded = append(padded, observe.NewUnobserved("atrium", rec.Start.Add(time.Duration(i)*time.Hour+30*time.Second)))
	}
	mixed := e.NewPosterior()
	res, err := e.FitBatch(mixed, padded)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != len(recs) {
		t.Errorf("Skipped = %d, want %d", res.Skipped, len(recs))
	}

	if diff := cmp.Diff(clean.Mean(), mixed.Mean()); diff != "" {
		t.Errorf("unobserved records changed the posterior mean:\n%s", diff)
	}
	if clean.LogDetCovariance() != mixed.LogDetCovariance() {
		t.Errorf("unobserved records changed the posterior covariance: logdet %f vs %f",
			clean.LogDetCovariance(), mixed.LogDetCovariance())
	}
}

func TestFitBatchEmptyBatchLeavesPrior(t *testing.T) {
	e := testEngine(t)

	for _, recs := range [][]observe.Record{
		nil,
		{
			observe.NewUnobserved("atrium", testStart),
			observe.NewUnobserved("atrium", testStart.Add(5*time.Minute)),
		},
	} {
		post := e.NewPosterior()
		priorMean := post.Mean()
		priorLogDet := post.LogDetCovariance()

		res, err := e.FitBatch(post, recs)
		if err != nil {
			t.Fatalf("FitBatch failed: %v", err)
		}
		if !res.Converged {
			t.Error("empty batch should report converged")
		}
		if res.Observed != 0 {
			t.Errorf("Observed = %d, want 0", res.Observed)
		}
		if diff := cmp.Diff(priorMean, post.Mean()); diff != "" {
			t.Errorf("empty batch moved the mean:\n%s", diff)
		}
		if post.LogDetCovariance() != priorLogDet {
			t.Error("empty batch changed the covariance")
		}
		if post.Observations() != 0 {
			t.Errorf("Observations = %d, want 0", post.Observations())
		}
	}
}

func TestFitBatchRejectsMalformed(t *testing.T) {
	e := testEngine(t)
	post := e.NewPosterior()
	priorMean := post.Mean()

	count := 3
	bad := []observe.Record{
		observe.NewObserved("atrium", testStart, 5),
		{Region: "atrium", Start: testStart.Add(5 * time.Minute), Observed: false, Count: &count},
	}
	_, err := e.FitBatch(post, bad)
	if err == nil {
		t.Fatal("expected error for malformed record")
	}
	if !errors.Is(err, observe.ErrMalformedRecord) {
		t.Errorf("error %v does not wrap ErrMalformedRecord", err)
	}
	if diff := cmp.Diff(priorMean, post.Mean()); diff != "" {
		t.Errorf("failed fit mutated the posterior:\n%s", diff)
	}
	if post.Observations() != 0 {
		t.Error("failed fit advanced the observation counter")
	}
}

func TestFitBatchDimensionMismatch(t *testing.T) {
	e := testEngine(t)

	other, err := NewEngine(Config{BinWidth: 5 * time.Minute, Daily: []float64{1}})
	if err != nil {
		t.Fatal(err)
	}
	post := other.NewPosterior()
	if _, err := e.FitBatch(post, nil); err == nil {
		t.Error("expected error for posterior dimension mismatch")
	}
}

// TestPosteriorContracts: evidence must shrink posterior volume.
func TestPosteriorContracts(t *testing.T) {
	e := testEngine(t)
	post := e.NewPosterior()
	priorLogDet := post.LogDetCovariance()

	if _, err := e.FitBatch(post, synthRecords(t, e, "atrium", 1, 3)); err != nil {
		t.Fatal(err)
	}
	if post.LogDetCovariance() >= priorLogDet {
		t.Errorf("posterior volume did not shrink: logdet %f -> %f",
			priorLogDet, post.LogDetCovariance())
	}
}

func TestSequentialBatchesAccumulate(t *testing.T) {
	e := testEngine(t)
	post := e.NewPosterior()

	day1 := synthRecords(t, e, "atrium", 1, 21)
	if _, err := e.FitBatch(post, day1); err != nil {
		t.Fatal(err)
	}
	afterOne := post.LogDetCovariance()

	// Second batch uses the first posterior as its prior and tightens it.
	rng := rand.New(rand.NewPCG(22, 99))
	var day2 []observe.Record
	for _, bin := range e.Binner().Bins(testStart.AddDate(0, 0, 1), testStart.AddDate(0, 0, 2)) {
		p := distuv.Poisson{Lambda: Rate(wTrue, bin.Phases), Src: rng}
		day2 = append(day2, observe.NewObserved("atrium", bin.Start, int(p.Rand())))
	}
	if _, err := e.FitBatch(post, day2); err != nil {
		t.Fatal(err)
	}
	if post.LogDetCovariance() >= afterOne {
		t.Error("second batch did not tighten the posterior")
	}
	if post.Observations() != len(day1)+len(day2) {
		t.Errorf("Observations = %d, want %d", post.Observations(), len(day1)+len(day2))
	}
}

func TestUpdateDispatchesOnMode(t *testing.T) {
	cfg := testConfig()
	cfg.UpdateMode = ModeOnline
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}
	post := e.NewPosterior()
	recs := []observe.Record{
		observe.NewObserved("atrium", testStart, 2),
		observe.NewUnobserved("atrium", testStart.Add(5*time.Minute)),
		observe.NewObserved("atrium", testStart.Add(10*time.Minute), 0),
	}
	res, err := e.Update(post, recs)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if res.Observed != 2 || res.Skipped != 1 {
		t.Errorf("Observed/Skipped = %d/%d, want 2/1", res.Observed, res.Skipped)
	}
	if post.Observations() != 2 {
		t.Errorf("Observations = %d, want 2", post.Observations())
	}
}
