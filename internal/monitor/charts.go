package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/rate"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WebServer serves debugging chart pages for the fitted rate curves.
// These endpoints are unauthenticated HTML views intended for operators
// poking at a running estimator, not for the dashboard UI.
type WebServer struct {
	fleet *rate.Fleet
	clock timeutil.Clock
}

// NewWebServer builds a chart server over the fleet. clock may be nil, in
// which case wall-clock time is used.
func NewWebServer(fleet *rate.Fleet, clock timeutil.Clock) *WebServer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &WebServer{fleet: fleet, clock: clock}
}

// AttachRoutes registers the chart endpoints on mux.
func (ws *WebServer) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/charts/rate", ws.handleRateChart)
	mux.HandleFunc("/debug/charts/uncertainty", ws.handleUncertaintyChart)
}

// dayStart returns midnight of the requested day in the engine's timezone.
// Query param "day" takes YYYY-MM-DD; default is today.
func (ws *WebServer) dayStart(r *http.Request) (time.Time, error) {
	loc := ws.fleet.Engine().Config().Location
	if loc == nil {
		loc = time.UTC
	}
	if d := r.URL.Query().Get("day"); d != "" {
		day, err := time.ParseInLocation("2006-01-02", d, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid 'day' parameter: %v", err)
		}
		return day, nil
	}
	now := ws.clock.Now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
}

// handleRateChart renders the fitted daily rate curve for one region as an
// HTML line chart. Two series: posterior mean and the credible upper bound.
func (ws *WebServer) handleRateChart(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region == "" {
		httputil.BadRequest(w, "missing 'region' parameter")
		return
	}

	dayStart, err := ws.dayStart(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	engine := ws.fleet.Engine()
	post := ws.fleet.Posterior(region)
	curve, err := RateCurve(engine, post, region, dayStart)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to evaluate rate curve: %v", err))
		return
	}

	labels := make([]string, 0, len(curve))
	meanData := make([]opts.LineData, 0, len(curve))
	upperData := make([]opts.LineData, 0, len(curve))
	for _, pt := range curve {
		labels = append(labels, dayStart.Add(pt.Offset).Format("15:04"))
		meanData = append(meanData, opts.LineData{Value: pt.Mean})
		upperData = append(upperData, opts.LineData{Value: pt.Upper})
	}

	level := engine.Config().CredibleLevel

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Activity Rate", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Expected activity per bin: %s", region),
			Subtitle: fmt.Sprintf("day=%s observations=%d level=%.2f", dayStart.Format("2006-01-02"), post.Observations(), level),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time of day"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Expected count"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(labels).
		AddSeries("mean", meanData, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})).
		AddSeries(fmt.Sprintf("upper %.0f%%", level*100), upperData, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleUncertaintyChart renders the credible interval width over the day,
// which shows where patrol coverage has actually constrained the posterior.
func (ws *WebServer) handleUncertaintyChart(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	if region == "" {
		httputil.BadRequest(w, "missing 'region' parameter")
		return
	}

	dayStart, err := ws.dayStart(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	engine := ws.fleet.Engine()
	post := ws.fleet.Posterior(region)
	curve, err := RateCurve(engine, post, region, dayStart)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to evaluate rate curve: %v", err))
		return
	}

	labels := make([]string, 0, len(curve))
	widthData := make([]opts.LineData, 0, len(curve))
	for _, pt := range curve {
		labels = append(labels, dayStart.Add(pt.Offset).Format("15:04"))
		widthData = append(widthData, opts.LineData{Value: pt.Upper - pt.Mean})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Rate Uncertainty", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Credible interval half-width: %s", region),
			Subtitle: fmt.Sprintf("day=%s observations=%d", dayStart.Format("2006-01-02"), post.Observations()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time of day"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Upper bound minus mean"}),
	)
	line.SetXAxis(labels).
		AddSeries("interval width", widthData, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
