// presence runs the activity-rate estimation service: it restores regional
// posteriors from sqlite, optionally preloads a patrol dataset, serves the
// estimation API and debug charts over HTTP, and periodically snapshots
// posteriors back to the database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/presence.report/internal/api"
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/monitor"
	"github.com/banshee-data/presence.report/internal/rate"
	"github.com/banshee-data/presence.report/internal/store"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db", "presence.db", "Path to sqlite database")
	migrationsDir = flag.String("migrations", "migrations", "Path to migration files")
	dataPath      = flag.String("data", "", "Optional patrol dataset (JSON) to batch-fit on startup")
	configPath    = flag.String("config", "", "Path to tuning config JSON (default: built-in search path)")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("presence %s (%s) built %s\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("presence %s starting", version.Version)

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

	db, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	restorePosteriors(fleet, db)

	if *dataPath != "" {
		if err := preloadDataset(fleet, db, tuning, *dataPath); err != nil {
			log.Fatalf("failed to preload dataset: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// snapshot flusher: periodically persist every region's posterior so a
	// restart resumes from recent state instead of the prior
	wg.Add(1)
	go func() {
		defer wg.Done()
		runSnapshotFlusher(ctx, fleet, db, timeutil.RealClock{}, tuning.GetSnapshotInterval())
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(fleet, db, tuning).ServeMux()
		monitor.NewWebServer(fleet, nil).AttachRoutes(mux)
		db.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// final flush so nothing observed since the last tick is lost
	flushSnapshots(fleet, db)
	log.Printf("Graceful shutdown complete")
}

// restorePosteriors loads the most recent stored posterior for every known
// region. A dimension mismatch (basis config changed since the snapshot) is
// logged and skipped; the region restarts from the prior.
func restorePosteriors(fleet *rate.Fleet, db *store.Store) {
	regions, err := db.SnapshotRegions()
	if err != nil {
		log.Printf("failed to list snapshot regions: %v", err)
		return
	}
	for _, region := range regions {
		post, err := db.LatestPosterior(region)
		if errors.Is(err, store.ErrNoSnapshot) {
			continue
		}
		if err != nil {
			log.Printf("failed to restore posterior for %s: %v", region, err)
			continue
		}
		if err := fleet.Restore(region, post); err != nil {
			log.Printf("stale snapshot for %s, starting from prior: %v", region, err)
			continue
		}
		log.Printf("restored posterior for %s (%d observations)", region, post.Observations())
	}
}

func runSnapshotFlusher(ctx context.Context, fleet *rate.Fleet, db *store.Store, clock timeutil.Clock, interval time.Duration) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			flushSnapshots(fleet, db)
		case <-ctx.Done():
			log.Printf("snapshot flusher terminated")
			return
		}
	}
}

func flushSnapshots(fleet *rate.Fleet, db *store.Store) {
	for region, post := range fleet.Snapshot() {
		if post.Observations() == 0 {
			continue
		}
		if _, err := db.SavePosterior(region, post); err != nil {
			log.Printf("failed to snapshot posterior for %s: %v", region, err)
		}
	}
}
