package api

import (
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/observe"
	"github.com/banshee-data/presence.report/internal/testutil"
)

func TestClientRegions(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"regions": ["atrium", "garage"]}`)
	c := NewClient("http://estimator:8080/", mock)

	regions, err := c.Regions()
	testutil.AssertNoError(t, err)
	if len(regions) != 2 || regions[0] != "atrium" {
		t.Errorf("regions = %v", regions)
	}

	req := mock.GetRequest(0)
	if req == nil || req.URL.String() != "http://estimator:8080/api/regions" {
		t.Errorf("request URL = %v", req.URL)
	}
}

func TestClientPostObservations(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"applied": 2}`)
	c := NewClient("http://estimator:8080", mock)

	recs := []observe.Record{
		observe.NewObserved("atrium", apiStart, 3),
		observe.NewUnobserved("atrium", apiStart.Add(5*time.Minute)),
	}
	applied, err := c.PostObservations(recs)
	testutil.AssertNoError(t, err)
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}

	req := mock.GetRequest(0)
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(req.Body)
	if len(body) == 0 {
		t.Error("empty request body")
	}
}

func TestClientEstimate(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"region": "atrium", "expected": 24.5, "lo": 20.1, "hi": 29.3}`)
	c := NewClient("http://estimator:8080", mock)

	est, err := c.Estimate("atrium", apiStart, apiStart.Add(time.Hour))
	testutil.AssertNoError(t, err)
	if est.Expected != 24.5 || est.Lo != 20.1 || est.Hi != 29.3 {
		t.Errorf("estimate = %+v", est)
	}

	req := mock.GetRequest(0)
	q := req.URL.Query()
	if q.Get("region") != "atrium" || q.Get("from") == "" || q.Get("to") == "" {
		t.Errorf("query = %v", q)
	}
}

func TestClientServerError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusBadRequest, `{"error": "missing 'region' parameter"}`)
	c := NewClient("http://estimator:8080", mock)

	_, err := c.Regions()
	testutil.AssertError(t, err)
	if got := err.Error(); got != "server returned 400: missing 'region' parameter" {
		t.Errorf("error = %q", got)
	}
}

func TestClientTransportError(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(errors.New("connection refused"))
	c := NewClient("http://estimator:8080", mock)

	if _, err := c.Regions(); err == nil {
		t.Error("expected transport error")
	}
}
