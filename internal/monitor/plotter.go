package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/presence.report/internal/rate"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// RatePlotter writes PNG rate curves after batch fits. One file per region
// per day, mean line plus the credible upper bound.
type RatePlotter struct {
	outputDir string
}

// NewRatePlotter creates the output directory if needed.
func NewRatePlotter(outputDir string) (*RatePlotter, error) {
	if outputDir == "" {
		return nil, fmt.Errorf("no output directory configured")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &RatePlotter{outputDir: outputDir}, nil
}

// OutputDir returns the directory plots are written to.
func (rp *RatePlotter) OutputDir() string { return rp.outputDir }

// SaveRateCurve evaluates and renders one region's daily rate curve.
// Returns the written file path.
func (rp *RatePlotter) SaveRateCurve(engine *rate.Engine, post *rate.Posterior, region string, dayStart time.Time) (string, error) {
	curve, err := RateCurve(engine, post, region, dayStart)
	if err != nil {
		return "", fmt.Errorf("region %s: %w", region, err)
	}
	if len(curve) == 0 {
		return "", fmt.Errorf("region %s: empty rate curve", region)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Activity rate: %s (%s)", region, dayStart.Format("2006-01-02"))
	p.X.Label.Text = "Hour of day"
	p.Y.Label.Text = "Expected count per bin"

	meanPts := make(plotter.XYs, 0, len(curve))
	upperPts := make(plotter.XYs, 0, len(curve))
	for _, pt := range curve {
		hour := pt.Offset.Hours()
		meanPts = append(meanPts, plotter.XY{X: hour, Y: pt.Mean})
		upperPts = append(upperPts, plotter.XY{X: hour, Y: pt.Upper})
	}

	meanLine, err := plotter.NewLine(meanPts)
	if err != nil {
		return "", err
	}
	meanLine.Color = color.RGBA{R: 217, G: 72, B: 47, A: 255}
	meanLine.Width = vg.Points(1.5)
	p.Add(meanLine)
	p.Legend.Add("mean", meanLine)

	upperLine, err := plotter.NewLine(upperPts)
	if err != nil {
		return "", err
	}
	upperLine.Color = color.RGBA{R: 67, G: 110, B: 238, A: 255}
	upperLine.Width = vg.Points(1)
	upperLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(upperLine)
	p.Legend.Add(fmt.Sprintf("upper %.0f%%", engine.Config().CredibleLevel*100), upperLine)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.X.Min = 0
	p.X.Max = 24
	p.Y.Min = 0

	file := filepath.Join(rp.outputDir, fmt.Sprintf("rate_%s_%s.png", sanitizeName(region), dayStart.Format("20060102")))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return "", fmt.Errorf("save rate plot: %w", err)
	}
	return file, nil
}

// SaveObservations renders the raw binned counts for a region as a scatter
// overlaid on the fitted mean, which is the quickest way to eyeball a fit.
func (rp *RatePlotter) SaveObservations(engine *rate.Engine, post *rate.Posterior, region string, dayStart time.Time, counts map[time.Time]int) (string, error) {
	curve, err := RateCurve(engine, post, region, dayStart)
	if err != nil {
		return "", fmt.Errorf("region %s: %w", region, err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Fit vs observations: %s (%s)", region, dayStart.Format("2006-01-02"))
	p.X.Label.Text = "Hour of day"
	p.Y.Label.Text = "Count per bin"

	meanPts := make(plotter.XYs, 0, len(curve))
	for _, pt := range curve {
		meanPts = append(meanPts, plotter.XY{X: pt.Offset.Hours(), Y: pt.Mean})
	}
	meanLine, err := plotter.NewLine(meanPts)
	if err != nil {
		return "", err
	}
	meanLine.Color = color.RGBA{R: 217, G: 72, B: 47, A: 255}
	meanLine.Width = vg.Points(1.5)
	p.Add(meanLine)
	p.Legend.Add("fitted mean", meanLine)

	obsPts := make(plotter.XYs, 0, len(counts))
	for start, count := range counts {
		off := start.Sub(dayStart)
		if off < 0 || off >= 24*time.Hour {
			continue
		}
		obsPts = append(obsPts, plotter.XY{X: off.Hours(), Y: float64(count)})
	}
	if len(obsPts) > 0 {
		scatter, err := plotter.NewScatter(obsPts)
		if err != nil {
			return "", err
		}
		scatter.GlyphStyle.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
		scatter.GlyphStyle.Radius = vg.Points(1.5)
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(scatter)
		p.Legend.Add("observed", scatter)
	}

	p.Legend.Top = true
	p.X.Min = 0
	p.X.Max = 24
	p.Y.Min = 0

	file := filepath.Join(rp.outputDir, fmt.Sprintf("obs_%s_%s.png", sanitizeName(region), dayStart.Format("20060102")))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return "", fmt.Errorf("save observation plot: %w", err)
	}
	return file, nil
}

// sanitizeName makes a region name safe for a filename.
func sanitizeName(region string) string {
	out := make([]rune, 0, len(region))
	for _, r := range region {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// MakePlotOutputDir returns a timestamped directory for one plotting run,
// plots/<dataset_basename>/<timestamp> when a dataset path is given.
func MakePlotOutputDir(baseDir, datasetFile string) string {
	ts := time.Now().Format("20060102_150405")
	if datasetFile != "" {
		base := filepath.Base(datasetFile)
		ext := filepath.Ext(base)
		name := base[:len(base)-len(ext)]
		return filepath.Join(baseDir, name, ts)
	}
	return filepath.Join(baseDir, "run_"+ts)
}
