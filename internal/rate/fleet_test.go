package rate

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/presence.report/internal/observe"
)

func testFleet(t *testing.T) *Fleet {
	t.Helper()
	f, err := NewFleet(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFleetUnknownRegionAnswersWithPrior(t *testing.T) {
	f := testFleet(t)
	post := f.Posterior("never-seen")
	prior := f.Engine().NewPosterior()
	if diff := cmp.Diff(prior.Mean(), post.Mean()); diff != "" {
		t.Errorf("unknown region posterior is not the prior:\n%s", diff)
	}
	if post.Observations() != 0 {
		t.Errorf("Observations = %d, want 0", post.Observations())
	}

	// Asking created the region.
	if got := f.Regions(); len(got) != 1 || got[0] != "never-seen" {
		t.Errorf("Regions() = %v, want [never-seen]", got)
	}
}

func TestFleetApplyEnforcesTimeOrder(t *testing.T) {
	f := testFleet(t)

	if _, err := f.Apply(observe.NewObserved("atrium", testStart.Add(time.Hour), 1)); err != nil {
		t.Fatal(err)
	}
	// Equal timestamps are allowed; strictly earlier ones are not.
	if _, err := f.Apply(observe.NewObserved("atrium", testStart.Add(time.Hour), 2)); err != nil {
		t.Errorf("equal timestamp rejected: %v", err)
	}
	_, err := f.Apply(observe.NewObserved("atrium", testStart, 1))
	if !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder, got %v", err)
	}

	// Other regions are independent clocks.
	if _, err := f.Apply(observe.NewObserved("garage", testStart, 1)); err != nil {
		t.Errorf("other region rejected: %v", err)
	}
}

func TestFleetApplyStream(t *testing.T) {
	f := testFleet(t)
	recs := []observe.Record{
		observe.NewObserved("atrium", testStart, 1),
		observe.NewUnobserved("atrium", testStart.Add(5*time.Minute)),
		observe.NewObserved("atrium", testStart.Add(10*time.Minute), 3),
	}
	res, err := f.ApplyStream(observe.NewStream(recs))
	if err != nil {
		t.Fatalf("ApplyStream failed: %v", err)
	}
	if res.Observed != 2 || res.Skipped != 1 {
		t.Errorf("Observed/Skipped = %d/%d, want 2/1", res.Observed, res.Skipped)
	}
	if got := f.Posterior("atrium").Observations(); got != 2 {
		t.Errorf("Observations = %d, want 2", got)
	}
}

func TestFitAllRegionsIndependent(t *testing.T) {
	f := testFleet(t)
	e := f.Engine()

	byRegion := map[string][]observe.Record{
		"atrium": synthRecords(t, e, "atrium", 1, 41),
		"garage": synthRecords(t, e, "garage", 1, 43),
		"quiet":  nil,
	}
	results, err := f.FitAll(byRegion, 4)
	if err != nil {
		t.Fatalf("FitAll failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, region := range []string{"atrium", "garage"} {
		if !results[region].Converged {
			t.Errorf("region %s did not converge", region)
		}
		if results[region].Observed == 0 {
			t.Errorf("region %s reports no observations", region)
		}
	}
	if results["quiet"].Observed != 0 {
		t.Error("empty region reports observations")
	}

	// An identical single-region fit gives the same posterior: regions do
	// not leak into each other.
	solo := testFleet(t)
	if _, err := solo.FitBatch("atrium", byRegion["atrium"]); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(solo.Posterior("atrium").Mean(), f.Posterior("atrium").Mean()); diff != "" {
		t.Errorf("parallel fit differs from solo fit:\n%s", diff)
	}
}

func TestFitAllPartialFailure(t *testing.T) {
	f := testFleet(t)
	e := f.Engine()

	count := 1
	byRegion := map[string][]observe.Record{
		"good": synthRecords(t, e, "good", 1, 47),
		"bad": {
			{Region: "bad", Start: testStart, Observed: false, Count: &count},
		},
	}
	results, err := f.FitAll(byRegion, 2)
	if err == nil {
		t.Fatal("expected error from malformed region")
	}
	if !errors.Is(err, observe.ErrMalformedRecord) {
		t.Errorf("error %v does not wrap ErrMalformedRecord", err)
	}
	// The healthy region still committed.
	if !results["good"].Converged {
		t.Error("healthy region result missing after partial failure")
	}
	if f.Posterior("good").Observations() == 0 {
		t.Error("healthy region posterior not committed")
	}
	if f.Posterior("bad").Observations() != 0 {
		t.Error("failed region posterior was mutated")
	}
}

func TestFleetSnapshotIsolation(t *testing.T) {
	f := testFleet(t)
	if _, err := f.Apply(observe.NewObserved("atrium", testStart, 2)); err != nil {
		t.Fatal(err)
	}

	snap := f.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot has %d regions, want 1", len(snap))
	}
	// Mutating the snapshot must not reach the fleet.
	snap["atrium"].mean[0] = 999
	if f.Posterior("atrium").Mean()[0] == 999 {
		t.Error("snapshot shares state with the fleet")
	}
}

func TestFleetRestore(t *testing.T) {
	f := testFleet(t)
	e := f.Engine()

	donor := e.NewPosterior()
	if _, err := e.FitBatch(donor, synthRecords(t, e, "atrium", 1, 53)); err != nil {
		t.Fatal(err)
	}
	if err := f.Restore("atrium", donor); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if diff := cmp.Diff(donor.Mean(), f.Posterior("atrium").Mean()); diff != "" {
		t.Errorf("restored posterior differs:\n%s", diff)
	}

	// Restore clears the time-order watermark.
	if _, err := f.Apply(observe.NewObserved("atrium", testStart, 1)); err != nil {
		t.Errorf("apply after restore failed: %v", err)
	}

	// Dimension mismatches are rejected.
	other, err := NewEngine(Config{BinWidth: 5 * time.Minute, Daily: []float64{1}})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Restore("atrium", other.NewPosterior()); err == nil {
		t.Error("expected error restoring mismatched posterior")
	}
}

func TestFleetEstimateDelegates(t *testing.T) {
	f := testFleet(t)
	if _, err := f.FitBatch("atrium", synthRecords(t, f.Engine(), "atrium", 2, 59)); err != nil {
		t.Fatal(err)
	}
	day := testStart.AddDate(0, 0, 2)
	est, err := f.Estimate("atrium", day.Add(11*time.Hour), day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if est.Expected <= 0 {
		t.Errorf("Expected = %f, want positive", est.Expected)
	}
	if est.Region != "atrium" {
		t.Errorf("Region = %q, want atrium", est.Region)
	}

	res, err := f.CheckCount("atrium", day.Add(11*time.Hour), day.Add(12*time.Hour), int(est.Expected))
	if err != nil {
		t.Fatalf("CheckCount failed: %v", err)
	}
	if res.Anomalous {
		t.Error("expectation-sized count flagged as anomalous")
	}
}
