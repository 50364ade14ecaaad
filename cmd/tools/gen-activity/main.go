// gen-activity writes a synthetic patrol dataset: per-region Poisson
// activity with a strong day/night profile, observed only during randomly
// placed patrol windows. Useful for exercising the batch fitter and the API
// without real detector logs.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/presence.report/internal/ingest"
	"github.com/banshee-data/presence.report/internal/observe"
)

var (
	outPath    = flag.String("out", "activity.json", "Output dataset path")
	regionList = flag.String("regions", "atrium,loading-dock", "Comma-separated region names")
	days       = flag.Int("days", 7, "Number of days to simulate")
	startDate  = flag.String("start", "", "Simulation start date (YYYY-MM-DD, default: days ago from today)")
	coverage   = flag.Float64("coverage", 0.3, "Fraction of each day covered by patrols")
	visitMins  = flag.Int("visit", 30, "Patrol visit length in minutes")
	dayRate    = flag.Float64("day-rate", 5.0, "Activity rate per hour during the day (08:00-18:00)")
	nightRate  = flag.Float64("night-rate", 0.05, "Activity rate per hour at night")
	seed       = flag.Uint64("seed", 1, "RNG seed")
)

func main() {
	flag.Parse()

	regions := splitRegions(*regionList)
	if len(regions) == 0 {
		log.Fatal("at least one region is required")
	}
	if *days < 1 {
		log.Fatal("-days must be at least 1")
	}
	if *coverage <= 0 || *coverage > 1 {
		log.Fatal("-coverage must be in (0, 1]")
	}

	start, err := simulationStart()
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	ds := &ingest.Dataset{
		SchemaVersion: ingest.SchemaVersion,
		Regions:       regions,
		Coverage:      make(map[string][]observe.Interval),
		Samples:       make(map[string][]ingest.Sample),
	}

	visit := time.Duration(*visitMins) * time.Minute
	for _, region := range regions {
		ivs := patrolWindows(rng, start, *days, visit, *coverage)
		ds.Coverage[region] = ivs
		ds.Samples[region] = drawActivity(rng, ivs)
	}

	if err := ds.Validate(); err != nil {
		log.Fatalf("generated dataset failed validation: %v", err)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ds); err != nil {
		log.Fatalf("failed to write dataset: %v", err)
	}

	total := 0
	for _, samples := range ds.Samples {
		total += len(samples)
	}
	log.Printf("wrote %s: %d regions, %d days, %d counted samples", *outPath, len(regions), *days, total)
}

func splitRegions(list string) []string {
	var regions []string
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			regions = append(regions, name)
		}
	}
	return regions
}

func simulationStart() (time.Time, error) {
	if *startDate != "" {
		return time.Parse("2006-01-02", *startDate)
	}
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -*days), nil
}

// patrolWindows places visit-length windows uniformly through each day until
// the requested coverage fraction is reached.
func patrolWindows(rng *rand.Rand, start time.Time, days int, visit time.Duration, fraction float64) []observe.Interval {
	perDay := int(fraction * float64(24*time.Hour) / float64(visit))
	if perDay < 1 {
		perDay = 1
	}
	var ivs []observe.Interval
	for d := 0; d < days; d++ {
		dayStart := start.AddDate(0, 0, d)
		for v := 0; v < perDay; v++ {
			offset := time.Duration(rng.Int64N(int64(24*time.Hour - visit)))
			// snap to whole minutes so windows align with minute bins
			offset = offset.Truncate(time.Minute)
			ivs = append(ivs, observe.Interval{
				Start: dayStart.Add(offset),
				End:   dayStart.Add(offset + visit),
			})
		}
	}
	return ivs
}

// hourlyRate is the ground-truth profile: high during working hours, near
// zero at night, halved on weekends.
func hourlyRate(t time.Time) float64 {
	r := *nightRate
	if h := t.Hour(); h >= 8 && h < 18 {
		r = *dayRate
	}
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		r /= 2
	}
	return r
}

// drawActivity samples per-minute Poisson counts inside the patrol windows.
// Only nonzero counts are emitted; the loader zero-fills the rest of the
// covered bins.
func drawActivity(rng *rand.Rand, ivs []observe.Interval) []ingest.Sample {
	var samples []ingest.Sample
	for _, iv := range ivs {
		for cur := iv.Start; cur.Before(iv.End); cur = cur.Add(time.Minute) {
			lambda := hourlyRate(cur) / 60.0
			if lambda <= 0 {
				continue
			}
			p := distuv.Poisson{Lambda: lambda, Src: rng}
			if count := int(p.Rand()); count > 0 {
				samples = append(samples, ingest.Sample{Time: cur, Count: count})
			}
		}
	}
	return samples
}
