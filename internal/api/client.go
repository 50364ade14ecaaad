package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/observe"
	"github.com/banshee-data/presence.report/internal/rate"
)

// Client talks to a running estimation service. Patrol robots use it to
// upload observation records; tooling uses it to pull estimates.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient builds a client for the service at base (e.g. http://host:8080).
// hc may be nil, in which case the default HTTP client is used.
func NewClient(base string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// Regions lists the regions the service knows about.
func (c *Client) Regions() ([]string, error) {
	resp, err := c.http.Get(c.base + "/api/regions")
	if err != nil {
		return nil, err
	}
	var out struct {
		Regions []string `json:"regions"`
	}
	if err := c.decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Regions, nil
}

// PostObservations uploads records in order and returns how many the service
// applied.
func (c *Client) PostObservations(recs []observe.Record) (int, error) {
	body, err := json.Marshal(recs)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Post(c.base+"/api/observations", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	var out struct {
		Applied int `json:"applied"`
	}
	if err := c.decode(resp, &out); err != nil {
		return 0, err
	}
	return out.Applied, nil
}

// Estimate fetches the expected count for a region over [from, to).
func (c *Client) Estimate(region string, from, to time.Time) (rate.Estimate, error) {
	q := url.Values{}
	q.Set("region", region)
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", to.Format(time.RFC3339))
	resp, err := c.http.Get(c.base + "/api/estimate?" + q.Encode())
	if err != nil {
		return rate.Estimate{}, err
	}
	var out rate.Estimate
	if err := c.decode(resp, &out); err != nil {
		return rate.Estimate{}, err
	}
	return out, nil
}

// decode reads a JSON body, turning non-2xx statuses into errors carrying
// the server's error message.
func (c *Client) decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
