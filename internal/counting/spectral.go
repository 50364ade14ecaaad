package counting

import (
	"math"
	"math/cmplx"
	"sort"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum is one Fourier component of a rate signal: an amplitude, a phase
// and a frequency in whole cycles per signal length.
type Spectrum struct {
	Amplitude float64
	Phase     float64
	Freq      int
}

// Rectify clamps every sample of signal into [lo, hi] in place and returns
// the slice.
func Rectify(signal []float64, lo, hi float64) []float64 {
	for i, v := range signal {
		if v < lo {
			signal[i] = lo
		}
		if v > hi {
			signal[i] = hi
		}
	}
	return signal
}

// TopSpectra runs one FFT over the signal and returns the n components with
// the largest amplitudes, the l-BAM ("best amplitude") selection.
func TopSpectra(signal []float64, n int) []Spectrum {
	N := len(signal)
	if N == 0 || n <= 0 {
		return nil
	}
	fft := fourier.NewFFT(N)
	coeffs := fft.Coefficients(nil, signal)

	spectra := make([]Spectrum, 0, len(coeffs))
	for i, c := range coeffs {
		spectra = append(spectra, Spectrum{
			Amplitude: cmplx.Abs(c) / float64(N),
			Phase:     cmplx.Phase(c),
			Freq:      i,
		})
	}
	sort.Slice(spectra, func(i, j int) bool { return spectra[i].Amplitude > spectra[j].Amplitude })
	if n > len(spectra) {
		n = len(spectra)
	}
	return spectra[:n]
}

// AccumulatedSpectra extracts components with the l-AAM ("addition
// amplitude") technique: repeatedly take the strongest non-DC component,
// subtract its wave from the working signal, and accumulate amplitude (and
// average phase) per frequency until numFreqs distinct frequencies are
// found. maxAddition caps how often one frequency may accumulate;
// maxIterations bounds the loop. Returns the components and the residue
// signal.
func AccumulatedSpectra(signal []float64, numFreqs, maxAddition, maxIterations int) ([]Spectrum, []float64) {
	N := len(signal)
	if N == 0 || numFreqs <= 0 {
		return nil, nil
	}
	work := append([]float64(nil), signal...)

	// Seed with the overall strongest component, typically DC.
	var spectra []Spectrum
	if top := TopSpectra(work, 1); len(top) > 0 {
		spectra = append(spectra, top[0])
	}
	additions := map[int]int{}
	for _, s := range spectra {
		additions[s.Freq] = 1
	}

	for iter := 0; iter < maxIterations && len(spectra) < numFreqs; iter++ {
		top := TopSpectra(work, 2)
		if len(top) == 0 {
			break
		}
		// The strongest component is usually the DC remainder; prefer
		// the second unless it is absent.
		pick := top[0]
		if len(top) > 1 && top[1].Freq != 0 {
			pick = top[1]
		}

		subtractWave(work, pick)

		found := false
		for i := range spectra {
			if spectra[i].Freq != pick.Freq {
				continue
			}
			found = true
			if additions[pick.Freq] < maxAddition {
				n := float64(additions[pick.Freq])
				spectra[i].Amplitude += pick.Amplitude
				spectra[i].Phase = (n*spectra[i].Phase + pick.Phase) / (n + 1)
				additions[pick.Freq]++
			}
			break
		}
		if !found {
			spectra = append(spectra, pick)
			additions[pick.Freq] = 1
		}
	}
	return spectra, work
}

// Reconstruct sums the component waves over n samples.
func Reconstruct(spectra []Spectrum, n int) []float64 {
	out := make([]float64, n)
	for _, s := range spectra {
		addWave(out, s, 1)
	}
	return out
}

// ReconstructSignal smooths a rate signal by keeping its dominant Fourier
// components: at most min(len/10, 15) frequencies, extracted with l-AAM when
// additionMethod is set and l-BAM otherwise. Returns the reconstruction and
// the residue.
func ReconstructSignal(signal []float64, additionMethod bool) (reconstruction, residue []float64) {
	numFreqs := len(signal) / 10
	if numFreqs > 15 {
		numFreqs = 15
	}
	if numFreqs < 1 {
		numFreqs = 1
	}
	var spectra []Spectrum
	if additionMethod {
		spectra, residue = AccumulatedSpectra(signal, numFreqs*2, 10, 1000)
		if len(spectra) > numFreqs {
			spectra = spectra[:numFreqs]
		}
	} else {
		spectra = TopSpectra(signal, numFreqs)
		residue = append([]float64(nil), signal...)
		for _, s := range spectra {
			addWave(residue, s, -1)
		}
	}
	return Reconstruct(spectra, len(signal)), residue
}

func subtractWave(signal []float64, s Spectrum) {
	addWave(signal, s, -1)
}

// addWave accumulates sign * amp·cos(2·pi·f·t/N + phase) into signal, where
// frequency f counts whole cycles over the signal length.
func addWave(signal []float64, s Spectrum, sign float64) {
	N := float64(len(signal))
	for t := range signal {
		signal[t] += sign * s.Amplitude * math.Cos(2*math.Pi*float64(s.Freq)*float64(t)/N+s.Phase)
	}
}

// SpectralProcess is a PeriodicProcess whose retrieval path goes through a
// Fourier-smoothed copy of the rate curve instead of the raw per-slot
// posteriors. Smoothing shares evidence across neighbouring slots, which the
// raw conjugate process cannot do.
type SpectralProcess struct {
	*PeriodicProcess
	smoothed map[time.Duration]*GammaRate
	dirty    bool
}

// NewSpectralProcess builds a spectral process over the given grid.
func NewSpectralProcess(increment, cycle time.Duration) (*SpectralProcess, error) {
	pp, err := NewPeriodicProcess(increment, cycle)
	if err != nil {
		return nil, err
	}
	return &SpectralProcess{
		PeriodicProcess: pp,
		smoothed:        make(map[time.Duration]*GammaRate),
	}, nil
}

// Observe folds a count into the underlying process and marks the smoothed
// curve stale.
func (sp *SpectralProcess) Observe(t time.Time, count int) {
	sp.PeriodicProcess.Observe(t, count)
	sp.dirty = true
}

// Transform rebuilds the smoothed rate curve from the current posterior
// means. Rates are floored just above zero after reconstruction since a
// Fourier sum can dip negative.
func (sp *SpectralProcess) Transform() {
	curve := sp.PeriodicProcess.FullCycle(MeanEstimate)
	signal := make([]float64, len(curve))
	for i, c := range curve {
		signal[i] = c.Rate
	}
	recon, _ := ReconstructSignal(signal, true)
	Rectify(recon, 0.001, math.Inf(1))

	sp.smoothed = make(map[time.Duration]*GammaRate, len(curve))
	for i, c := range curve {
		g := sp.PeriodicProcess.RateAt(c.Start)
		// Keep the slot's evidence weight, move the mean onto the
		// smoothed curve.
		_ = g.SetRate(recon[i], g.Beta, false)
		sp.smoothed[sp.slot(c.Start)] = g
	}
	sp.dirty = false
}

// Retrieve reports point estimates from the smoothed curve for every
// increment in [start, end), transforming first if stale.
func (sp *SpectralProcess) Retrieve(start, end time.Time, est PointEstimate) []StampedRate {
	if sp.dirty || len(sp.smoothed) == 0 {
		sp.Transform()
	}
	var out []StampedRate
	for cur := start.Truncate(sp.increment); cur.Before(end); cur = cur.Add(sp.increment) {
		g, ok := sp.smoothed[sp.slot(cur)]
		if !ok {
			g = NewGammaRate(1)
		}
		out = append(out, StampedRate{Start: cur, Rate: sp.estimate(g, est)})
	}
	return out
}
