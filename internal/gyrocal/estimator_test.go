package gyrocal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

var allMethods = []RobustMethod{RANSAC, LMedS, MSAC, PROSAC, PROMedS}

// newTestEstimator wires a deterministic estimator over n synthetic
// measurements, with uniform quality scores for the quality-guided
// methods.
func newTestEstimator(t *testing.T, method RobustMethod, n int, seed int64, outliers ...int) (*Estimator, *mat.Dense, *mat.Dense) {
	t.Helper()
	mg, gg := truthModel(false)
	bias := [3]float64{0.01, -0.02, 0.005}
	meas, kin := syntheticSet(n, mg, gg, bias, seed)
	corrupt(meas, outliers...)

	cfg := DefaultConfig()
	cfg.Method = method
	cfg.Predictor = kin
	cfg.Seed = seed
	cfg.MaxIterations = 2000
	if method.RequiresQualityScores() {
		scores := make([]float64, n)
		for i := range scores {
			scores[i] = 1
		}
		for _, o := range outliers {
			scores[o] = 0
		}
		cfg.QualityScores = scores
	}

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.SetMeasurements(meas); err != nil {
		t.Fatalf("SetMeasurements: %v", err)
	}
	if err := e.SetBias(bias); err != nil {
		t.Fatalf("SetBias: %v", err)
	}
	return e, mg, gg
}

func TestCalibrate_ExactRecoveryAllMethods(t *testing.T) {
	for _, method := range allMethods {
		t.Run(method.String(), func(t *testing.T) {
			e, mg, gg := newTestEstimator(t, method, 20, 42)

			model, err := e.Calibrate(context.Background())
			if err != nil {
				t.Fatalf("Calibrate: %v", err)
			}
			if !mat.EqualApprox(model.Mg, mg, 1e-6) {
				t.Errorf("Mg mismatch:\ngot:\n%v\nwant:\n%v", mat.Formatted(model.Mg), mat.Formatted(mg))
			}
			if !mat.EqualApprox(model.Gg, gg, 1e-6) {
				t.Errorf("Gg mismatch:\ngot:\n%v\nwant:\n%v", mat.Formatted(model.Gg), mat.Formatted(gg))
			}
			if in := e.InlierData(); in.NumInliers != 20 {
				t.Errorf("noise-free data: %d of 20 inliers", in.NumInliers)
			}
		})
	}
}

func TestCalibrate_OutlierRejection(t *testing.T) {
	outliers := []int{3, 11, 17, 25, 33}
	for _, method := range allMethods {
		t.Run(method.String(), func(t *testing.T) {
			e, mg, gg := newTestEstimator(t, method, 40, 7, outliers...)

			model, err := e.Calibrate(context.Background())
			if err != nil {
				t.Fatalf("Calibrate: %v", err)
			}
			if !mat.EqualApprox(model.Mg, mg, 1e-6) || !mat.EqualApprox(model.Gg, gg, 1e-6) {
				t.Error("model not recovered from contaminated set")
			}

			in := e.InlierData()
			if in.NumInliers != 35 {
				t.Fatalf("inlier count = %d, want 35", in.NumInliers)
			}
			for _, o := range outliers {
				if in.Mask[o] {
					t.Errorf("injected outlier %d marked inlier", o)
				}
			}
		})
	}
}

func TestCalibrate_LockedDuringRun(t *testing.T) {
	e, _, _ := newTestEstimator(t, RANSAC, 20, 9)

	var lockedErrs []error
	var sawRunning bool
	cfg := e.Config()
	cfg.ProgressDelta = 0
	cfg.Progress = func(done float64) {
		sawRunning = sawRunning || e.Running()
		lockedErrs = append(lockedErrs,
			e.SetBias([3]float64{1, 1, 1}),
			e.SetMeasurements(nil),
			e.SetQualityScores(nil),
			e.SetConfig(DefaultConfig()),
		)
	}
	if err := e.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	if _, err := e.Calibrate(context.Background()); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if !sawRunning {
		t.Error("estimator never reported Running inside the progress callback")
	}
	if len(lockedErrs) == 0 {
		t.Fatal("progress callback never fired")
	}
	for _, err := range lockedErrs {
		if !errors.Is(err, ErrLocked) {
			t.Errorf("mutation during run returned %v, want ErrLocked", err)
		}
	}

	// Mutation after the run succeeds again, and the rejected mutations
	// left no trace.
	if e.Bias() == ([3]float64{1, 1, 1}) {
		t.Error("rejected SetBias mutated state")
	}
	if e.NumMeasurements() != 20 {
		t.Error("rejected SetMeasurements mutated state")
	}
	if err := e.SetBias([3]float64{0, 0, 0}); err != nil {
		t.Errorf("SetBias after run: %v", err)
	}
}

func TestCalibrate_NotReadyBelowMinimum(t *testing.T) {
	for _, method := range allMethods {
		t.Run(method.String(), func(t *testing.T) {
			e, _, _ := newTestEstimator(t, method, MinMeasurements, 13)

			// Exactly the minimum succeeds.
			if _, err := e.Calibrate(context.Background()); err != nil {
				t.Fatalf("Calibrate with %d measurements: %v", MinMeasurements, err)
			}

			// One below the minimum is NotReady regardless of method.
			short := make([]Measurement, MinMeasurements-1)
			for i := range short {
				short[i] = e.Measurement(i)
			}
			if err := e.SetMeasurements(short); err != nil {
				t.Fatalf("SetMeasurements: %v", err)
			}
			if err := e.SetQualityScores(nil); err != nil {
				t.Fatalf("SetQualityScores: %v", err)
			}
			if _, err := e.Calibrate(context.Background()); !errors.Is(err, ErrNotReady) {
				t.Errorf("Calibrate with %d measurements returned %v, want ErrNotReady", MinMeasurements-1, err)
			}
		})
	}
}

func TestCalibrate_MissingQualityScores(t *testing.T) {
	e, _, _ := newTestEstimator(t, PROSAC, 20, 17)
	if err := e.SetQualityScores(nil); err != nil {
		t.Fatalf("SetQualityScores: %v", err)
	}
	if _, err := e.Calibrate(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("missing scores returned %v, want ErrNotReady", err)
	}
	if err := e.SetQualityScores(make([]float64, 19)); err != nil {
		t.Fatalf("SetQualityScores: %v", err)
	}
	if _, err := e.Calibrate(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("mis-sized scores returned %v, want ErrNotReady", err)
	}
}

// failingLinear always reports a degenerate subset.
type failingLinear struct{}

func (failingLinear) FitLinear([]Measurement, KinematicsPredictor, [3]float64, bool) (*mat.Dense, *mat.Dense, error) {
	return nil, nil, fmt.Errorf("singular system")
}

// failingNonLinear always reports a failed refinement.
type failingNonLinear struct{}

func (failingNonLinear) FitNonLinear([]Measurement, KinematicsPredictor, [3]float64, bool, *mat.Dense, *mat.Dense) (*mat.Dense, *mat.Dense, *mat.Dense, float64, float64, error) {
	return nil, nil, nil, 0, 0, fmt.Errorf("did not converge")
}

func TestCalibrate_NoSolutionWhenEverySubsetFails(t *testing.T) {
	e, _, _ := newTestEstimator(t, RANSAC, 20, 21)
	cfg := e.Config()
	cfg.Linear = failingLinear{}
	cfg.MaxIterations = 25
	if err := e.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	if _, err := e.Calibrate(context.Background()); !errors.Is(err, ErrNoSolution) {
		t.Fatalf("Calibrate returned %v, want ErrNoSolution", err)
	}
	if e.Running() {
		t.Error("estimator stuck in running state after failure")
	}
	if e.Iterations() != 25 {
		t.Errorf("iteration budget: used %d, want all 25", e.Iterations())
	}

	// The instance stays reusable: restore a working fitter and run again.
	cfg.Linear = LeastSquaresFitter{}
	if err := e.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig after failure: %v", err)
	}
	if _, err := e.Calibrate(context.Background()); err != nil {
		t.Errorf("Calibrate after recovery: %v", err)
	}
}

func TestCalibrate_RefinementFallback(t *testing.T) {
	run := func(refine bool, nl NonLinearFitter) *Model {
		e, _, _ := newTestEstimator(t, RANSAC, 20, 23)
		cfg := e.Config()
		cfg.RefineResult = refine
		if nl != nil {
			cfg.NonLinear = nl
		}
		if err := e.SetConfig(cfg); err != nil {
			t.Fatalf("SetConfig: %v", err)
		}
		model, err := e.Calibrate(context.Background())
		if err != nil {
			t.Fatalf("Calibrate: %v", err)
		}
		return model
	}

	unrefined := run(false, nil)
	fallback := run(true, failingNonLinear{})

	if !mat.Equal(unrefined.Mg, fallback.Mg) || !mat.Equal(unrefined.Gg, fallback.Gg) {
		t.Error("failed refinement must fall back to the unrefined winner")
	}
	if fallback.Covariance != nil {
		t.Error("fallback model must not carry a covariance")
	}
}

func TestCalibrate_CovarianceOnlyWhenKept(t *testing.T) {
	for _, keep := range []bool{false, true} {
		e, _, _ := newTestEstimator(t, RANSAC, 20, 27)
		cfg := e.Config()
		cfg.RefineResult = true
		cfg.KeepCovariance = keep
		if err := e.SetConfig(cfg); err != nil {
			t.Fatalf("SetConfig: %v", err)
		}
		model, err := e.Calibrate(context.Background())
		if err != nil {
			t.Fatalf("Calibrate: %v", err)
		}
		if keep && model.Covariance == nil {
			t.Error("KeepCovariance set but covariance missing")
		}
		if !keep && model.Covariance != nil {
			t.Error("covariance retained without KeepCovariance")
		}
	}
}

func TestCalibrate_IdempotentConfiguration(t *testing.T) {
	run := func(applyTwice bool) *Model {
		e, _, _ := newTestEstimator(t, MSAC, 20, 29)
		cfg := e.Config()
		if err := e.SetConfig(cfg); err != nil {
			t.Fatalf("SetConfig: %v", err)
		}
		if applyTwice {
			if err := e.SetConfig(cfg); err != nil {
				t.Fatalf("SetConfig twice: %v", err)
			}
		}
		model, err := e.Calibrate(context.Background())
		if err != nil {
			t.Fatalf("Calibrate: %v", err)
		}
		return model
	}

	once := run(false)
	twice := run(true)
	if !mat.Equal(once.Mg, twice.Mg) || !mat.Equal(once.Gg, twice.Gg) {
		t.Error("re-applying an identical configuration changed the result")
	}
}

func TestCalibrate_ContextCancellation(t *testing.T) {
	e, _, _ := newTestEstimator(t, RANSAC, 20, 31)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Calibrate(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Calibrate with cancelled context returned %v", err)
	}
	if e.Running() {
		t.Error("estimator stuck in running state after cancellation")
	}
}

func TestCalibrate_PriorResultSurvivesFailedRun(t *testing.T) {
	e, _, _ := newTestEstimator(t, RANSAC, 20, 33)
	model, err := e.Calibrate(context.Background())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	cfg := e.Config()
	cfg.Linear = failingLinear{}
	cfg.MaxIterations = 5
	if err := e.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if _, err := e.Calibrate(context.Background()); !errors.Is(err, ErrNoSolution) {
		t.Fatalf("expected ErrNoSolution, got %v", err)
	}

	if e.Model() != model {
		t.Error("failed run clobbered the prior result")
	}
	if e.InlierData() == nil {
		t.Error("failed run clobbered the prior inlier data")
	}
}

func TestRequiredIterations_ConfidenceMonotonic(t *testing.T) {
	prev := 0
	for _, conf := range []float64{0.5, 0.8, 0.9, 0.99, 0.999, 1} {
		it := requiredIterations(conf, 0.5, 6)
		if it < prev {
			t.Errorf("iterations decreased from %d to %d at confidence %g", prev, it, conf)
		}
		if it < 1 {
			t.Errorf("iteration bound %d below 1 at confidence %g", it, conf)
		}
		prev = it
	}
}

func TestRequiredIterations_Bounds(t *testing.T) {
	if it := requiredIterations(0.99, 1, 6); it != 1 {
		t.Errorf("all-inlier ratio needs %d iterations, want 1", it)
	}
	if it := requiredIterations(0.99, 0, 6); it <= 1<<30 {
		t.Errorf("zero inlier ratio bound %d, want effectively unbounded", it)
	}
	// Higher inlier ratio never needs more iterations.
	lo := requiredIterations(0.99, 0.9, 6)
	hi := requiredIterations(0.99, 0.5, 6)
	if lo > hi {
		t.Errorf("ratio 0.9 needs %d > ratio 0.5 needs %d", lo, hi)
	}
}

func TestCalibrate_NeverExceedsMaxIterations(t *testing.T) {
	e, _, _ := newTestEstimator(t, RANSAC, 20, 37)
	cfg := e.Config()
	cfg.MaxIterations = 50
	if err := e.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if _, err := e.Calibrate(context.Background()); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if e.Iterations() > 50 {
		t.Errorf("ran %d iterations, cap is 50", e.Iterations())
	}
}

func TestCalibrate_ProgressMonotonicWithinDelta(t *testing.T) {
	e, _, _ := newTestEstimator(t, RANSAC, 20, 39)
	var calls []float64
	cfg := e.Config()
	cfg.ProgressDelta = 0.25
	cfg.Progress = func(done float64) { calls = append(calls, done) }
	if err := e.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if _, err := e.Calibrate(context.Background()); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}

	last := -1.0
	for _, p := range calls {
		if p < 0 || p > 1 {
			t.Errorf("progress %g outside [0, 1]", p)
		}
		if p-last < 0.25 {
			t.Errorf("progress step %g→%g below configured delta", last, p)
		}
		last = p
	}
}

func TestCalibrate_EndToEndWithAttitudePredictor(t *testing.T) {
	// Full-stack run: frames integrated from known rates, kinematics
	// recovered by the production predictor instead of a lookup table.
	mgTrue, ggTrue := truthModel(false)
	bias := [3]float64{0.004, -0.006, 0.002}
	pred := AttitudePredictor{}

	const n = 20
	const dt = 0.1
	meas := make([]Measurement, n)
	prev := Frame{T: 0, Quat: [4]float64{1, 0, 0, 0}}
	for k := 0; k < n; k++ {
		rate := [3]float64{
			0.8 * math.Sin(0.9*float64(k)+0.1),
			0.5 * math.Cos(1.3*float64(k)),
			0.3 * math.Sin(0.7*float64(k)+1.0),
		}
		cur := Frame{
			T:    prev.T + dt,
			Quat: StepAttitude(prev.Quat, rate, dt),
			Vel: [3]float64{
				prev.Vel[0] + 0.2*math.Sin(1.1*float64(k)),
				prev.Vel[1] - 0.1*math.Cos(0.6*float64(k)),
				prev.Vel[2] + 0.05*math.Sin(1.7*float64(k)),
			},
		}

		trueRate, trueForce, err := pred.Predict(cur, prev, dt)
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		var observed [3]float64
		for i := 0; i < 3; i++ {
			observed[i] = bias[i] + trueRate[i]
			for j := 0; j < 3; j++ {
				observed[i] += mgTrue.At(i, j)*trueRate[j] + ggTrue.At(i, j)*trueForce[j]
			}
		}
		meas[k] = Measurement{
			AngularRate:   observed,
			SpecificForce: trueForce,
			DT:            dt,
			Frame:         cur,
			PrevFrame:     prev,
		}
		prev = cur
	}

	cfg := DefaultConfig()
	cfg.Seed = 41
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.SetMeasurements(meas); err != nil {
		t.Fatalf("SetMeasurements: %v", err)
	}
	if err := e.SetBias(bias); err != nil {
		t.Fatalf("SetBias: %v", err)
	}

	model, err := e.Calibrate(context.Background())
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if !mat.EqualApprox(model.Mg, mgTrue, 1e-6) || !mat.EqualApprox(model.Gg, ggTrue, 1e-6) {
		t.Error("end-to-end calibration did not recover the ground truth")
	}
}
