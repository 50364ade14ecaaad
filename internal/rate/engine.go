package rate

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/presence.report/internal/observe"
	"github.com/banshee-data/presence.report/internal/timegrid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNumericalInstability is returned when an update produced NaN or Inf
// that damping could not recover from. The posterior is left untouched.
var ErrNumericalInstability = errors.New("rate: numerical instability in posterior update")

// eigenFloor is the smallest eigenvalue allowed in a covariance after the
// PSD repair path.
const eigenFloor = 1e-10

// FitResult reports how an update went. Non-convergence is a flag, not an
// error: the committed posterior is still the best iterate found.
type FitResult struct {
	Converged  bool    `json:"converged"`
	Iterations int     `json:"iterations"`
	Observed   int     `json:"observed"`
	Skipped    int     `json:"skipped"`
	Objective  float64 `json:"objective"`
}

// Engine updates posteriors from observation records. It is stateless apart
// from its configuration, so one engine can serve many regions; what it is
// not safe for is concurrent updates of the same Posterior.
type Engine struct {
	cfg    Config
	binner *timegrid.Binner
}

// NewEngine validates cfg and builds the engine and its time grid.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	binner, err := cfg.newBinner()
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, binner: binner}, nil
}

// Config returns the validated configuration.
func (e *Engine) Config() Config { return e.cfg }

// Binner returns the engine's time grid.
func (e *Engine) Binner() *timegrid.Binner { return e.binner }

// NewPosterior returns a fresh posterior at the configured prior.
func (e *Engine) NewPosterior() *Posterior { return newPriorPosterior(e.cfg) }

// Update folds records into the posterior according to the configured mode.
func (e *Engine) Update(post *Posterior, recs []observe.Record) (FitResult, error) {
	if e.cfg.UpdateMode == ModeOnline {
		var total FitResult
		total.Converged = true
		for _, rec := range recs {
			res, err := e.UpdateOnline(post, rec)
			if err != nil {
				return total, err
			}
			total.Iterations += res.Iterations
			total.Observed += res.Observed
			total.Skipped += res.Skipped
			total.Converged = total.Converged && res.Converged
		}
		return total, nil
	}
	return e.FitBatch(post, recs)
}

// FitBatch runs the iterative Laplace approximation over a record set.
// Starting from the posterior's current belief as the prior, it Newton-steps
// on the penalised Poisson log-likelihood until the step falls below the
// tolerance or the iteration cap is hit. Only observed records contribute;
// a batch with none leaves the posterior untouched. The posterior is
// committed in one step at the end, so a failed fit changes nothing.
func (e *Engine) FitBatch(post *Posterior, recs []observe.Record) (FitResult, error) {
	if post.K() != e.binner.K() {
		return FitResult{}, fmt.Errorf("rate: posterior dimension %d does not match basis dimension %d",
			post.K(), e.binner.K())
	}

	phis, counts, skipped, err := e.evidence(recs)
	if err != nil {
		return FitResult{}, err
	}
	res := FitResult{Observed: len(counts), Skipped: skipped}
	if len(counts) == 0 {
		res.Converged = true
		return res, nil
	}

	k := post.K()
	priorMean := post.Mean()
	precision, err := invertSPD(post.cov)
	if err != nil {
		return res, fmt.Errorf("rate: prior covariance is not invertible: %w", err)
	}

	objective := func(w []float64) float64 {
		obj := 0.0
		for i, phi := range phis {
			obj += LogLikelihood(w, phi, counts[i])
		}
		return obj - 0.5*quadForm(precision, w, priorMean)
	}

	w := append([]float64(nil), priorMean...)
	obj := objective(w)
	if math.IsNaN(obj) || math.IsInf(obj, 0) {
		return res, ErrNumericalInstability
	}

	grad := make([]float64, k)
	hess := mat.NewSymDense(k, nil)
	for iter := 0; iter < e.cfg.MaxIterations; iter++ {
		res.Iterations = iter + 1

		// Gradient and negative Hessian of the penalised objective.
		for i := range grad {
			grad[i] = 0
		}
		hess.CopySym(precision)
		for i, phi := range phis {
			ScoreInto(grad, w, phi, counts[i])
			mu := CurvatureWeight(w, phi)
			addOuter(hess, mu, phi)
		}
		subMulVec(grad, precision, w, priorMean)

		step, ok := solveSPD(hess, grad)
		if !ok {
			// Damped gradient fallback when the Newton system cannot
			// be factorised even with jitter.
			step = dampedGradient(grad)
		}
		if floats.Norm(step, math.Inf(1)) < e.cfg.Tolerance {
			// Already at the mode; nothing left to gain from a search.
			res.Converged = true
			break
		}

		next, nextObj, improved := lineSearch(objective, w, step, obj)
		if !improved {
			step = dampedGradient(grad)
			next, nextObj, improved = lineSearch(objective, w, step, obj)
			if !improved {
				break
			}
		}

		stepNorm := 0.0
		for i := range next {
			if d := math.Abs(next[i] - w[i]); d > stepNorm {
				stepNorm = d
			}
		}
		copy(w, next)
		obj = nextObj
		if stepNorm < e.cfg.Tolerance {
			res.Converged = true
			break
		}
	}
	res.Objective = obj

	// Covariance from the inverse negative Hessian at the mode.
	hess.CopySym(precision)
	for _, phi := range phis {
		addOuter(hess, CurvatureWeight(w, phi), phi)
	}
	cov, err := invertSPD(hess)
	if err != nil {
		return res, ErrNumericalInstability
	}
	if !allFinite(w) || !symFinite(cov) {
		return res, ErrNumericalInstability
	}

	post.commit(w, cov, len(counts))
	return res, nil
}

// evidence validates records and extracts feature vectors and counts for the
// observed ones. Unobserved records are skipped, never zero-filled.
func (e *Engine) evidence(recs []observe.Record) (phis [][]float64, counts []int, skipped int, err error) {
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return nil, nil, 0, err
		}
		if !rec.Observed {
			skipped++
			continue
		}
		bin := e.binner.Bin(rec.Start)
		phis = append(phis, bin.Phases)
		counts = append(counts, rec.CountValue())
	}
	return phis, counts, skipped, nil
}

// lineSearch backtracks along step until the objective improves, halving the
// step up to 30 times. Returns the accepted point, its objective and whether
// any improvement was found.
func lineSearch(objective func([]float64) float64, w, step []float64, obj float64) ([]float64, float64, bool) {
	cand := make([]float64, len(w))
	t := 1.0
	for try := 0; try < 30; try++ {
		copy(cand, w)
		floats.AddScaled(cand, t, step)
		candObj := objective(cand)
		if !math.IsNaN(candObj) && !math.IsInf(candObj, 0) && candObj > obj {
			return cand, candObj, true
		}
		t /= 2
	}
	return nil, obj, false
}

// dampedGradient scales the gradient to unit-ish length so a fallback step
// cannot overshoot wildly.
func dampedGradient(grad []float64) []float64 {
	norm := floats.Norm(grad, 2)
	scale := 1.0 / (1.0 + norm)
	out := make([]float64, len(grad))
	floats.AddScaled(out, scale, grad)
	return out
}

// solveSPD solves H·x = g for symmetric positive-definite H, retrying with
// escalating diagonal jitter when the factorisation fails.
func solveSPD(h *mat.SymDense, g []float64) ([]float64, bool) {
	k := h.SymmetricDim()
	work := mat.NewSymDense(k, nil)
	work.CopySym(h)
	jitter := 0.0
	for attempt := 0; attempt < 6; attempt++ {
		if jitter > 0 {
			for i := 0; i < k; i++ {
				work.SetSym(i, i, h.At(i, i)+jitter)
			}
		}
		var chol mat.Cholesky
		if chol.Factorize(work) {
			dst := mat.NewVecDense(k, nil)
			if err := chol.SolveVecTo(dst, mat.NewVecDense(k, g)); err == nil {
				out := make([]float64, k)
				copy(out, dst.RawVector().Data)
				if allFinite(out) {
					return out, true
				}
			}
		}
		if jitter == 0 {
			jitter = 1e-8
		} else {
			jitter *= 10
		}
	}
	return nil, false
}

// invertSPD inverts a symmetric positive-definite matrix via Cholesky,
// falling back to an eigenvalue-floored inverse when the matrix sits on the
// PSD boundary. The result is always symmetric positive-definite.
func invertSPD(s *mat.SymDense) (*mat.SymDense, error) {
	k := s.SymmetricDim()
	var chol mat.Cholesky
	if chol.Factorize(s) {
		out := mat.NewSymDense(k, nil)
		if err := chol.InverseTo(out); err == nil && symFinite(out) {
			return out, nil
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(s, true) {
		return nil, fmt.Errorf("rate: eigendecomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	out := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			sum := 0.0
			for m := 0; m < k; m++ {
				v := vals[m]
				if v < eigenFloor {
					v = eigenFloor
				}
				sum += vecs.At(i, m) * vecs.At(j, m) / v
			}
			out.SetSym(i, j, sum)
		}
	}
	if !symFinite(out) {
		return nil, fmt.Errorf("rate: inverse is not finite")
	}
	return out, nil
}

// addOuter accumulates alpha * phi * phiT into s.
func addOuter(s *mat.SymDense, alpha float64, phi []float64) {
	k := len(phi)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			s.SetSym(i, j, s.At(i, j)+alpha*phi[i]*phi[j])
		}
	}
}

// quadForm computes (w-m)T · P · (w-m).
func quadForm(p *mat.SymDense, w, m []float64) float64 {
	k := len(w)
	sum := 0.0
	for i := 0; i < k; i++ {
		di := w[i] - m[i]
		for j := 0; j < k; j++ {
			sum += di * p.At(i, j) * (w[j] - m[j])
		}
	}
	return sum
}

// subMulVec subtracts P·(w-m) from grad.
func subMulVec(grad []float64, p *mat.SymDense, w, m []float64) {
	k := len(grad)
	for i := 0; i < k; i++ {
		sum := 0.0
		for j := 0; j < k; j++ {
			sum += p.At(i, j) * (w[j] - m[j])
		}
		grad[i] -= sum
	}
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func symFinite(s *mat.SymDense) bool {
	k := s.SymmetricDim()
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := s.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
