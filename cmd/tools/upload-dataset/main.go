// upload-dataset replays a patrol dataset into a running estimation service
// through the observation API, the same path a live robot uses. Records go
// up per region in time order so the service's ordering checks hold.
package main

import (
	"flag"
	"log"

	"github.com/banshee-data/presence.report/internal/api"
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/ingest"
	"github.com/banshee-data/presence.report/internal/rate"
)

var (
	server     = flag.String("server", "http://localhost:8080", "Estimation service base URL")
	dataPath   = flag.String("data", "", "Patrol dataset (JSON) to upload")
	configPath = flag.String("config", "", "Path to tuning config JSON (default: built-in search path)")
	batchSize  = flag.Int("batch", 500, "Records per upload request")
)

func main() {
	flag.Parse()

	if *dataPath == "" {
		log.Fatal("-data is required")
	}
	if *batchSize <= 0 {
		log.Fatal("-batch must be positive")
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
	engine, err := rate.NewEngine(cfg)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	ds, err := ingest.LoadDataset(*dataPath)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	cov, err := ds.NewCoverage(tuning.GetMinCoverageFraction())
	if err != nil {
		log.Fatalf("failed to build coverage: %v", err)
	}
	byRegion, err := ds.Records(engine.Binner(), cov)
	if err != nil {
		log.Fatalf("failed to bin dataset: %v", err)
	}

	client := api.NewClient(*server, nil)
	for _, region := range ds.Regions {
		recs := byRegion[region]
		if len(recs) == 0 {
			log.Printf("%s: no coverage, skipping", region)
			continue
		}
		total := 0
		for lo := 0; lo < len(recs); lo += *batchSize {
			hi := lo + *batchSize
			if hi > len(recs) {
				hi = len(recs)
			}
			applied, err := client.PostObservations(recs[lo:hi])
			if err != nil {
				log.Fatalf("%s: upload failed at record %d: %v", region, lo, err)
			}
			total += applied
		}
		log.Printf("%s: uploaded %d records", region, total)
	}
}
