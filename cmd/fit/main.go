// fit runs a one-shot batch fit over a patrol dataset and prints a summary
// table. Posteriors can be persisted to sqlite and rendered as PNG rate
// curves for inspection.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/ingest"
	"github.com/banshee-data/presence.report/internal/monitor"
	"github.com/banshee-data/presence.report/internal/observe"
	"github.com/banshee-data/presence.report/internal/rate"
	"github.com/banshee-data/presence.report/internal/store"
)

var (
	dataPath      = flag.String("data", "", "Patrol dataset (JSON) to fit (required)")
	configPath    = flag.String("config", "", "Path to tuning config JSON (default: built-in search path)")
	dbPath        = flag.String("db", "", "Optional sqlite database to persist posteriors into")
	migrationsDir = flag.String("migrations", "migrations", "Path to migration files")
	plotDir       = flag.String("plots", "", "Optional directory for PNG rate curves")
	workers       = flag.Int("workers", 0, "Parallel region fits (0 = GOMAXPROCS)")
)

func main() {
	flag.Parse()

	if *dataPath == "" {
		log.Fatal("-data is required")
	}

	var tuning *config.TuningConfig
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	} else {
		tuning = config.MustLoadDefaultConfig()
	}

	cfg, err := rate.ConfigFromTuning(tuning)
	if err != nil {
		log.Fatalf("invalid tuning config: %v", err)
	}
	fleet, err := rate.NewFleet(cfg)
	if err != nil {
		log.Fatalf("failed to build fleet: %v", err)
	}

	ds, err := ingest.LoadDataset(*dataPath)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	cov, err := ds.NewCoverage(tuning.GetMinCoverageFraction())
	if err != nil {
		log.Fatalf("failed to build coverage: %v", err)
	}
	byRegion, err := ds.Records(fleet.Engine().Binner(), cov)
	if err != nil {
		log.Fatalf("failed to bin dataset: %v", err)
	}

	started := time.Now()
	results, err := fleet.FitAll(byRegion, *workers)
	if err != nil {
		log.Fatalf("batch fit failed: %v", err)
	}
	finished := time.Now()

	printResults(results, finished.Sub(started))

	if *dbPath != "" {
		persistResults(fleet, results, started, finished)
	}

	if *plotDir != "" {
		renderPlots(fleet, cov)
	}
}

func printResults(results map[string]rate.FitResult, elapsed time.Duration) {
	regions := make([]string, 0, len(results))
	for region := range results {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGION\tCONVERGED\tITER\tOBSERVED\tSKIPPED\tOBJECTIVE")
	for _, region := range regions {
		res := results[region]
		fmt.Fprintf(tw, "%s\t%v\t%d\t%d\t%d\t%.4f\n",
			region, res.Converged, res.Iterations, res.Observed, res.Skipped, res.Objective)
	}
	tw.Flush()
	fmt.Printf("fitted %d regions in %v\n", len(regions), elapsed.Round(time.Millisecond))
}

func persistResults(fleet *rate.Fleet, results map[string]rate.FitResult, started, finished time.Time) {
	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	for region, res := range results {
		if _, err := db.SavePosterior(region, fleet.Posterior(region)); err != nil {
			log.Printf("failed to save posterior for %s: %v", region, err)
			continue
		}
		if _, err := db.RecordFitRun(region, string(rate.ModeBatch), res, started, finished); err != nil {
			log.Printf("failed to record fit run for %s: %v", region, err)
		}
	}
}

func renderPlots(fleet *rate.Fleet, cov *observe.Coverage) {
	outDir := monitor.MakePlotOutputDir(*plotDir, *dataPath)
	rp, err := monitor.NewRatePlotter(outDir)
	if err != nil {
		log.Fatalf("failed to create plotter: %v", err)
	}
	engine := fleet.Engine()
	loc := engine.Config().Location

	for _, region := range fleet.Regions() {
		from, _, ok := cov.Span(region)
		if !ok {
			continue
		}
		day := from.In(loc)
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
		file, err := rp.SaveRateCurve(engine, fleet.Posterior(region), region, dayStart)
		if err != nil {
			log.Printf("failed to plot %s: %v", region, err)
			continue
		}
		log.Printf("wrote %s", file)
	}
}
