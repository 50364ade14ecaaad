package main

import (
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/ingest"
	"github.com/banshee-data/presence.report/internal/rate"
	"github.com/banshee-data/presence.report/internal/store"
)

// preloadDataset batch-fits a patrol dataset into the fleet before serving
// and records the coverage log and fit outcomes in the store.
func preloadDataset(fleet *rate.Fleet, db *store.Store, tuning *config.TuningConfig, path string) error {
	ds, err := ingest.LoadDataset(path)
	if err != nil {
		return err
	}
	cov, err := ds.NewCoverage(tuning.GetMinCoverageFraction())
	if err != nil {
		return err
	}
	byRegion, err := ds.Records(fleet.Engine().Binner(), cov)
	if err != nil {
		return err
	}

	started := time.Now()
	results, err := fleet.FitAll(byRegion, 0)
	if err != nil {
		return fmt.Errorf("batch fit failed: %w", err)
	}
	finished := time.Now()

	for region, res := range results {
		log.Printf("fitted %s: converged=%v iterations=%d observed=%d skipped=%d",
			region, res.Converged, res.Iterations, res.Observed, res.Skipped)
		if _, err := db.RecordFitRun(region, string(rate.ModeBatch), res, started, finished); err != nil {
			log.Printf("failed to record fit run for %s: %v", region, err)
		}
		for _, iv := range cov.Intervals(region) {
			if err := db.RecordCoverage(region, iv); err != nil {
				log.Printf("failed to record coverage for %s: %v", region, err)
			}
		}
	}
	return nil
}
