// Package store persists observations, coverage intervals, posterior
// snapshots and fit-run records in sqlite. The inference core never touches
// the store; binaries wire the two together.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/presence.report/internal/observe"
	"github.com/banshee-data/presence.report/internal/rate"
	"gonum.org/v1/gonum/mat"
)

// ErrNoSnapshot is returned when a region has no stored posterior.
var ErrNoSnapshot = errors.New("store: no posterior snapshot")

type Store struct {
	*sql.DB
	path string
}

// Open opens (or creates) the sqlite database at path. Run MigrateUp before
// first use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, path: path}, nil
}

// RecordObservation appends one observation record. Malformed records are
// rejected before touching the database.
func (s *Store) RecordObservation(rec observe.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	var count interface{}
	if rec.Observed {
		count = rec.CountValue()
	}
	_, err := s.Exec(
		`INSERT INTO observations (region, bin_start, observed, count) VALUES (?, ?, ?, ?)`,
		rec.Region, rec.Start.UTC().Format(time.RFC3339Nano), rec.Observed, count,
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}
	return nil
}

// Observations returns a region's records with bin start in [from, to),
// oldest first.
func (s *Store) Observations(region string, from, to time.Time) ([]observe.Record, error) {
	rows, err := s.Query(
		`SELECT region, bin_start, observed, count FROM observations
		 WHERE region = ? AND bin_start >= ? AND bin_start < ?
		 ORDER BY bin_start ASC`,
		region, from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []observe.Record
	for rows.Next() {
		var (
			rec      observe.Record
			binStart string
			count    sql.NullInt64
		)
		if err := rows.Scan(&rec.Region, &binStart, &rec.Observed, &count); err != nil {
			return nil, err
		}
		rec.Start, err = time.Parse(time.RFC3339Nano, binStart)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bin_start %q: %w", binStart, err)
		}
		if count.Valid {
			c := int(count.Int64)
			rec.Count = &c
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// RecordCoverage appends one coverage interval for a region.
func (s *Store) RecordCoverage(region string, iv observe.Interval) error {
	if !iv.End.After(iv.Start) {
		return fmt.Errorf("store: coverage interval ends at or before start")
	}
	_, err := s.Exec(
		`INSERT INTO coverage (region, start_time, end_time) VALUES (?, ?, ?)`,
		region, iv.Start.UTC().Format(time.RFC3339Nano), iv.End.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert coverage interval: %w", err)
	}
	return nil
}

// CoverageIntervals returns a region's raw coverage log, oldest first.
func (s *Store) CoverageIntervals(region string) ([]observe.Interval, error) {
	rows, err := s.Query(
		`SELECT start_time, end_time FROM coverage WHERE region = ? ORDER BY start_time ASC`, region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ivs []observe.Interval
	for rows.Next() {
		var startStr, endStr string
		if err := rows.Scan(&startStr, &endStr); err != nil {
			return nil, err
		}
		start, err := time.Parse(time.RFC3339Nano, startStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start_time %q: %w", startStr, err)
		}
		end, err := time.Parse(time.RFC3339Nano, endStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end_time %q: %w", endStr, err)
		}
		ivs = append(ivs, observe.Interval{Start: start, End: end})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ivs, nil
}

// SavePosterior stores a snapshot of a region's posterior and returns its id.
func (s *Store) SavePosterior(region string, post *rate.Posterior) (string, error) {
	id := uuid.NewString()
	k := post.K()

	meanJSON, err := json.Marshal(post.Mean())
	if err != nil {
		return "", fmt.Errorf("failed to marshal mean: %w", err)
	}
	cov := post.Covariance()
	rows := make([][]float64, k)
	for i := 0; i < k; i++ {
		rows[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			rows[i][j] = cov.At(i, j)
		}
	}
	covJSON, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to marshal covariance: %w", err)
	}

	_, err = s.Exec(
		`INSERT INTO posterior_snapshots (id, region, k, mean, covariance, observations)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, region, k, string(meanJSON), string(covJSON), post.Observations(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert posterior snapshot: %w", err)
	}
	return id, nil
}

// LatestPosterior reconstructs a region's most recent snapshot. Returns
// ErrNoSnapshot when the region has none.
func (s *Store) LatestPosterior(region string) (*rate.Posterior, error) {
	var (
		k                 int
		meanJSON, covJSON string
	)
	err := s.QueryRow(
		`SELECT k, mean, covariance FROM posterior_snapshots
		 WHERE region = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, region,
	).Scan(&k, &meanJSON, &covJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: region %q", ErrNoSnapshot, region)
	}
	if err != nil {
		return nil, err
	}

	var mean []float64
	if err := json.Unmarshal([]byte(meanJSON), &mean); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mean: %w", err)
	}
	var covRows [][]float64
	if err := json.Unmarshal([]byte(covJSON), &covRows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal covariance: %w", err)
	}
	if len(mean) != k || len(covRows) != k {
		return nil, fmt.Errorf("snapshot dimension mismatch for region %q", region)
	}
	cov := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		if len(covRows[i]) != k {
			return nil, fmt.Errorf("snapshot covariance row %d has %d entries, want %d", i, len(covRows[i]), k)
		}
		for j := i; j < k; j++ {
			cov.SetSym(i, j, covRows[i][j])
		}
	}
	return rate.NewPosterior(mean, cov)
}

// SnapshotRegions returns the regions with at least one stored posterior.
func (s *Store) SnapshotRegions() ([]string, error) {
	rows, err := s.Query(`SELECT DISTINCT region FROM posterior_snapshots ORDER BY region ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []string
	for rows.Next() {
		var region string
		if err := rows.Scan(&region); err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

// RecordFitRun logs one fit's outcome and returns the run id.
func (s *Store) RecordFitRun(region, mode string, res rate.FitResult, started, finished time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.Exec(
		`INSERT INTO fit_runs (id, region, mode, converged, iterations, observed, skipped, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, region, mode, res.Converged, res.Iterations, res.Observed, res.Skipped,
		started.UTC().Format(time.RFC3339Nano), finished.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert fit run: %w", err)
	}
	return id, nil
}
