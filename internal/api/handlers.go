package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/observe"
	"github.com/banshee-data/presence.report/internal/rate"
	"github.com/banshee-data/presence.report/internal/store"
	"github.com/banshee-data/presence.report/internal/units"
)

// Server wires the fleet, the optional store and the tuning config into an
// HTTP surface.
type Server struct {
	fleet  *rate.Fleet
	db     *store.Store
	tuning *config.TuningConfig
}

// NewServer builds a Server. db may be nil; ingestion then skips
// persistence.
func NewServer(fleet *rate.Fleet, db *store.Store, tuning *config.TuningConfig) *Server {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Server{fleet: fleet, db: db, tuning: tuning}
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/regions", s.listRegions)
	mux.HandleFunc("/api/estimate", s.estimateWindow)
	mux.HandleFunc("/api/posterior", s.showPosterior)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/observations", s.ingestObservations)
	mux.HandleFunc("/api/anomaly", s.checkAnomaly)
	return mux
}

func (s *Server) listRegions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string][]string{"regions": s.fleet.Regions()})
}

// estimateResponse wraps a rate.Estimate with a display-unit rate. The core
// reports expected counts per window; the rate fields rescale to the
// configured units for dashboards.
type estimateResponse struct {
	rate.Estimate
	RateUnits   string  `json:"rate_units"`
	AverageRate float64 `json:"average_rate"`
}

func (s *Server) toResponse(est rate.Estimate) estimateResponse {
	perMinute := 0.0
	if mins := est.To.Sub(est.From).Minutes(); mins > 0 {
		perMinute = est.Expected / mins
	}
	u := s.tuning.GetRateUnits()
	return estimateResponse{
		Estimate:    est,
		RateUnits:   u,
		AverageRate: units.ConvertRate(perMinute, u),
	}
}

func (s *Server) estimateWindow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	region := r.URL.Query().Get("region")
	if region == "" {
		httputil.BadRequest(w, "missing 'region' parameter")
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var est rate.Estimate
	if d := r.URL.Query().Get("draws"); d != "" {
		draws, convErr := strconv.Atoi(d)
		if convErr != nil || draws < 2 {
			httputil.BadRequest(w, "invalid 'draws' parameter")
			return
		}
		est, err = s.fleet.EstimateSampled(region, from, to, draws, uint64(time.Now().UnixNano()))
	} else {
		est, err = s.fleet.Estimate(region, from, to)
	}
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to estimate: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.toResponse(est))
}

// posteriorResponse is the wire form of a posterior snapshot.
type posteriorResponse struct {
	Region       string      `json:"region"`
	K            int         `json:"k"`
	Mean         []float64   `json:"mean"`
	Covariance   [][]float64 `json:"covariance"`
	Observations int         `json:"observations"`
}

func (s *Server) showPosterior(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	region := r.URL.Query().Get("region")
	if region == "" {
		httputil.BadRequest(w, "missing 'region' parameter")
		return
	}
	post := s.fleet.Posterior(region)
	k := post.K()
	cov := post.Covariance()
	covRows := make([][]float64, k)
	for i := 0; i < k; i++ {
		covRows[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			covRows[i][j] = cov.At(i, j)
		}
	}
	httputil.WriteJSONOK(w, posteriorResponse{
		Region:       region,
		K:            k,
		Mean:         post.Mean(),
		Covariance:   covRows,
		Observations: post.Observations(),
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.tuning)
}

func (s *Server) ingestObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var recs []observe.Record
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid observation payload: %v", err))
		return
	}

	applied := 0
	for _, rec := range recs {
		if _, err := s.fleet.Apply(rec); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("record %d: %v", applied, err))
			return
		}
		if s.db != nil {
			if err := s.db.RecordObservation(rec); err != nil {
				httputil.InternalServerError(w, fmt.Sprintf("failed to persist record: %v", err))
				return
			}
		}
		applied++
	}
	httputil.WriteJSONOK(w, map[string]int{"applied": applied})
}

type anomalyRequest struct {
	Region string    `json:"region"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Count  int       `json:"count"`
}

func (s *Server) checkAnomaly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req anomalyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid anomaly payload: %v", err))
		return
	}
	if req.Region == "" {
		httputil.BadRequest(w, "missing 'region' field")
		return
	}
	res, err := s.fleet.CheckCount(req.Region, req.From, req.To, req.Count)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("failed to check count: %v", err))
		return
	}
	httputil.WriteJSONOK(w, res)
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("missing 'from' or 'to' parameter")
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid 'from' timestamp: %v", err)
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid 'to' timestamp: %v", err)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("'from' must be before 'to'")
	}
	return from, to, nil
}
