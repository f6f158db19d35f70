package gyrocal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotReady reports a calibration attempt without enough
	// measurements or with missing/mis-sized quality scores.
	ErrNotReady = errors.New("estimator not ready")
	// ErrLocked reports a mutation or calibration attempt while a run is
	// in progress.
	ErrLocked = errors.New("estimator is running")
	// ErrNoSolution reports that the iteration budget ended without a
	// single scored candidate.
	ErrNoSolution = errors.New("no solution found")
)

// chanceOfRandomInlier is the assumed probability that a measurement
// consistent with an incorrect model lands inside the inlier threshold;
// it parameterizes the PROSAC non-randomness early-termination bound.
const chanceOfRandomInlier = 0.05

// Estimator runs the robust consensus calibration. A single instance is
// reusable across runs; all mutators and Calibrate itself reject reentrant
// use while a run is in progress. Calibrate is synchronous and CPU-bound:
// it spawns no goroutines and blocks until it returns a model or an error.
type Estimator struct {
	cfg          Config
	measurements []Measurement
	bias         [3]float64

	running atomic.Bool

	model      *Model
	inliers    *Inliers
	iterations int

	subsetIdx  []int
	subsetMeas []Measurement
}

// New builds an estimator from cfg, supplying the built-in kinematics
// predictor and least-squares fitters for any nil collaborator.
func New(cfg Config) (*Estimator, error) {
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg}, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Predictor == nil {
		cfg.Predictor = AttitudePredictor{}
	}
	if cfg.Linear == nil {
		cfg.Linear = LeastSquaresFitter{}
	}
	if cfg.NonLinear == nil {
		cfg.NonLinear = LeastSquaresFitter{}
	}
}

// SetMeasurements installs the measurement set for the next run. The slice
// is retained and must not be mutated until calibration completes.
func (e *Estimator) SetMeasurements(meas []Measurement) error {
	if e.running.Load() {
		return ErrLocked
	}
	e.measurements = meas
	return nil
}

// SetBias installs the known, fixed gyroscope bias (rad/s).
func (e *Estimator) SetBias(bias [3]float64) error {
	if e.running.Load() {
		return ErrLocked
	}
	e.bias = bias
	return nil
}

// SetQualityScores installs the per-measurement scores used by the
// quality-guided methods.
func (e *Estimator) SetQualityScores(scores []float64) error {
	if e.running.Load() {
		return ErrLocked
	}
	e.cfg.QualityScores = scores
	return nil
}

// SetConfig replaces the whole configuration. The new configuration is
// validated before anything changes, so a rejected config leaves the
// estimator untouched.
func (e *Estimator) SetConfig(cfg Config) error {
	if e.running.Load() {
		return ErrLocked
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// Config returns a copy of the active configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Bias returns the configured gyroscope bias.
func (e *Estimator) Bias() [3]float64 { return e.bias }

// NumMeasurements returns the size of the installed measurement set.
func (e *Estimator) NumMeasurements() int { return len(e.measurements) }

// Measurement returns the measurement at index i.
func (e *Estimator) Measurement(i int) Measurement { return e.measurements[i] }

// Running reports whether a calibration run is in progress.
func (e *Estimator) Running() bool { return e.running.Load() }

// Ready reports whether Calibrate would pass its entry guard.
func (e *Estimator) Ready() bool { return e.readyErr() == nil }

// Model returns the result of the last successful run, nil before one.
func (e *Estimator) Model() *Model { return e.model }

// InlierData returns the consensus set of the last successful run.
func (e *Estimator) InlierData() *Inliers { return e.inliers }

// Iterations returns the number of consensus iterations the last run used.
func (e *Estimator) Iterations() int { return e.iterations }

func (e *Estimator) readyErr() error {
	n := len(e.measurements)
	if n < MinMeasurements {
		return fmt.Errorf("%w: have %d measurements, need at least %d", ErrNotReady, n, MinMeasurements)
	}
	if n < e.cfg.SubsetSize {
		return fmt.Errorf("%w: have %d measurements, subset size is %d", ErrNotReady, n, e.cfg.SubsetSize)
	}
	if e.cfg.Method.RequiresQualityScores() && len(e.cfg.QualityScores) != n {
		return fmt.Errorf("%w: %s needs %d quality scores, have %d",
			ErrNotReady, e.cfg.Method, n, len(e.cfg.QualityScores))
	}
	return nil
}

// Calibrate runs the full sample→fit→score→refine pipeline and returns the
// estimated model. The estimator always returns to the idle state, so a
// failed run leaves the instance reusable and any prior result readable.
// ctx aborts the loop between iterations without disturbing the adaptive
// termination math.
func (e *Estimator) Calibrate(ctx context.Context) (*Model, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrLocked
	}
	defer e.running.Store(false)

	if err := e.readyErr(); err != nil {
		return nil, err
	}

	n := len(e.measurements)
	m := e.cfg.SubsetSize

	seed := e.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	var sampler subsetSampler
	if e.cfg.Method.RequiresQualityScores() {
		sampler = newProsacSampler(e.cfg.QualityScores, m, rng)
	} else {
		sampler = newUniformSampler(n, rng)
	}
	scorer := newConsensusScorer(&e.cfg, e.bias, n)

	if cap(e.subsetIdx) < m {
		e.subsetIdx = make([]int, m)
		e.subsetMeas = make([]Measurement, m)
	}
	subsetIdx := e.subsetIdx[:m]
	subsetMeas := e.subsetMeas[:m]

	var best *Model
	var bestScore candidateScore
	required := e.cfg.MaxIterations
	lastProgress := 0.0

	iter := 0
	for ; iter < required; iter++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("calibration aborted: %w", ctx.Err())
		default:
		}

		sampler.sample(subsetIdx)
		for i, idx := range subsetIdx {
			subsetMeas[i] = e.measurements[idx]
		}

		// A degenerate subset is discarded but still spends an iteration.
		if cand, ok := e.preliminary(subsetMeas); ok {
			sc := scorer.score(cand, e.measurements, sampler.pool())
			if best == nil || sc.betterThan(bestScore) {
				best, bestScore = cand, sc

				ratio := float64(sc.inlierCount) / float64(sc.poolLen)
				if need := requiredIterations(e.cfg.Confidence, ratio, m); need < required {
					required = need
				}
				if e.cfg.Method.RequiresQualityScores() &&
					sc.inlierCount >= nonRandomInlierCount(sc.poolLen, m) {
					required = iter + 1
				}
			}
		}

		denom := required
		if denom < iter+1 {
			denom = iter + 1
		}
		progress := float64(iter+1) / float64(denom)
		if e.cfg.Progress != nil && progress-lastProgress >= e.cfg.ProgressDelta {
			lastProgress = progress
			e.cfg.Progress(progress)
		}
	}
	e.iterations = iter

	if best == nil {
		return nil, ErrNoSolution
	}

	in := scorer.derive(best, e.measurements)
	final := e.refine(best, in)
	e.model, e.inliers = final, in
	return final, nil
}

// preliminary fits a candidate model to a sampled subset. Any fitter
// failure reports "no candidate" so the controller can simply try another
// subset.
func (e *Estimator) preliminary(subset []Measurement) (*Model, bool) {
	var mg, gg *mat.Dense
	if e.cfg.UseLinearPreliminary {
		var err error
		mg, gg, err = e.cfg.Linear.FitLinear(subset, e.cfg.Predictor, e.bias, e.cfg.CommonAxis)
		if err != nil {
			return nil, false
		}
	} else {
		mg = mat.NewDense(3, 3, nil)
		gg = mat.NewDense(3, 3, nil)
		if e.cfg.InitialMg != nil {
			mg.Copy(e.cfg.InitialMg)
		}
		if e.cfg.InitialGg != nil {
			gg.Copy(e.cfg.InitialGg)
		}
	}

	if e.cfg.RefinePreliminary {
		rmg, rgg, _, mse, chiSq, err := e.cfg.NonLinear.FitNonLinear(
			subset, e.cfg.Predictor, e.bias, e.cfg.CommonAxis, mg, gg)
		if err != nil {
			return nil, false
		}
		return &Model{Mg: rmg, Gg: rgg, MSE: mse, ChiSq: chiSq}, true
	}
	return &Model{Mg: mg, Gg: gg}, true
}

// refine re-fits the winning candidate over its inlier set. On fitter
// failure the unrefined winner is returned unchanged.
func (e *Estimator) refine(best *Model, in *Inliers) *Model {
	if !e.cfg.RefineResult || in.NumInliers == 0 {
		out := best.Clone()
		out.Covariance = nil
		return out
	}

	subset := make([]Measurement, 0, in.NumInliers)
	for i, ok := range in.Mask {
		if ok {
			subset = append(subset, e.measurements[i])
		}
	}

	mg, gg, cov, mse, chiSq, err := e.cfg.NonLinear.FitNonLinear(
		subset, e.cfg.Predictor, e.bias, e.cfg.CommonAxis, best.Mg, best.Gg)
	if err != nil {
		return best.Clone()
	}
	if !e.cfg.KeepCovariance {
		cov = nil
	}
	return &Model{Mg: mg, Gg: gg, Covariance: cov, MSE: mse, ChiSq: chiSq}
}

// requiredIterations is the standard adaptive sample-consensus bound:
// ceil(log(1−confidence) / log(1−ρ^m)) for inlier ratio ρ and subset size
// m. The caller clamps the result to the configured hard cap.
func requiredIterations(confidence, inlierRatio float64, subsetSize int) int {
	if inlierRatio >= 1 {
		return 1
	}
	if inlierRatio <= 0 {
		return math.MaxInt
	}
	pk := math.Pow(inlierRatio, float64(subsetSize))
	if pk <= 0 {
		return math.MaxInt
	}
	num := math.Log1p(-confidence)
	if math.IsInf(num, -1) {
		// confidence == 1: certainty is never reached adaptively.
		return math.MaxInt
	}
	it := math.Ceil(num / math.Log1p(-pk))
	if it < 1 {
		return 1
	}
	if it > float64(math.MaxInt32) {
		return math.MaxInt
	}
	return int(it)
}

// nonRandomInlierCount is the smallest consensus size in a pool of n that
// is unlikely (beyond ~2.5σ) to arise from measurements matching an
// incorrect model by chance.
func nonRandomInlierCount(n, m int) int {
	k := float64(n - m)
	if k <= 0 {
		return m + 1
	}
	mu := k * chanceOfRandomInlier
	sigma := math.Sqrt(k * chanceOfRandomInlier * (1 - chanceOfRandomInlier))
	return m + int(math.Ceil(mu+2.5*sigma))
}
