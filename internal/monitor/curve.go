// Package monitor renders the fitted rate curves for humans: live echarts
// debug pages on the service and PNG dumps after batch fits. It reads
// posterior snapshots only; nothing here mutates the fleet.
package monitor

import (
	"time"

	"github.com/banshee-data/presence.report/internal/rate"
)

// CurvePoint is one bin of a rendered rate curve. Mean and Upper are
// expected counts per bin at the posterior mean and at the credible upper
// bound.
type CurvePoint struct {
	Offset time.Duration
	Mean   float64
	Upper  float64
}

// RateCurve evaluates a region's fitted rate over one day starting at
// dayStart, one point per bin.
func RateCurve(engine *rate.Engine, post *rate.Posterior, region string, dayStart time.Time) ([]CurvePoint, error) {
	width := engine.Binner().Width()
	end := dayStart.Add(24 * time.Hour)
	var curve []CurvePoint
	for cur := dayStart; cur.Before(end); cur = cur.Add(width) {
		est, err := engine.Estimate(post, region, cur, cur.Add(width))
		if err != nil {
			return nil, err
		}
		curve = append(curve, CurvePoint{
			Offset: cur.Sub(dayStart),
			Mean:   est.Expected,
			Upper:  est.Hi,
		})
	}
	return curve, nil
}
