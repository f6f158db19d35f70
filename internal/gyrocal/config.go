package gyrocal

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ProgressFunc receives the fractional progress of a calibration run in
// [0, 1]. It is invoked from inside Calibrate, so it must not call back
// into the estimator's mutators (they would fail with ErrLocked).
type ProgressFunc func(done float64)

// Config collects every tunable of a calibration run. Build it from
// DefaultConfig and override named fields; Validate catches inconsistent
// combinations before any work starts.
type Config struct {
	// Method selects the robust consensus strategy.
	Method RobustMethod

	// Confidence in (0, 1] drives the adaptive iteration bound: the loop
	// stops once enough subsets were tried to contain an all-inlier one
	// with this probability.
	Confidence float64

	// MaxIterations is the hard cap on consensus iterations.
	MaxIterations int

	// SubsetSize is the number of measurements per preliminary fit; at
	// least MinMeasurements.
	SubsetSize int

	// InlierThreshold is the residual threshold τ (rad/s) separating
	// inliers for RANSAC, MSAC and PROSAC. Median-based methods derive
	// their own threshold from the residual distribution.
	InlierThreshold float64

	// ProgressDelta in [0, 1] is the minimum fractional progress between
	// two Progress callbacks.
	ProgressDelta float64

	// CommonAxis applies the shared-z-axis structural constraint, zeroing
	// the lower triangle of Mg and reducing the model to 15 parameters.
	CommonAxis bool

	// UseLinearPreliminary fits each subset with the linear fitter; when
	// false, InitialMg/InitialGg seed the candidate instead.
	UseLinearPreliminary bool

	// RefinePreliminary additionally runs the non-linear fitter on every
	// subset candidate.
	RefinePreliminary bool

	// RefineResult re-fits the winning candidate over its inlier set.
	RefineResult bool

	// KeepCovariance retains the parameter covariance of the final
	// refinement. Ignored unless RefineResult is set.
	KeepCovariance bool

	// QualityScores biases PROSAC/PROMedS sampling; required for those
	// methods and must match the measurement count.
	QualityScores []float64

	// InitialMg and InitialGg seed preliminary candidates when
	// UseLinearPreliminary is false. Nil means zero matrices.
	InitialMg, InitialGg *mat.Dense

	// Progress, when non-nil, receives progress notifications.
	Progress ProgressFunc

	// Seed fixes the sampler's random source; 0 selects a time-based seed.
	Seed int64

	// Predictor supplies true kinematics per frame pair. Nil selects
	// AttitudePredictor with standard gravity.
	Predictor KinematicsPredictor

	// Linear and NonLinear are the model fitters. Nil selects the built-in
	// least-squares fitter for both.
	Linear    LinearFitter
	NonLinear NonLinearFitter
}

// DefaultConfig returns the standard calibration settings: RANSAC with 99%
// confidence, minimal subsets, linear preliminary fits and a final
// non-linear refinement.
func DefaultConfig() Config {
	return Config{
		Method:               RANSAC,
		Confidence:           0.99,
		MaxIterations:        5000,
		SubsetSize:           MinMeasurements,
		InlierThreshold:      1e-3,
		ProgressDelta:        0.05,
		UseLinearPreliminary: true,
		RefineResult:         true,
	}
}

// Validate checks the configuration's internal consistency. Measurement
// and quality-score counts are checked at calibration time, when both are
// known.
func (c *Config) Validate() error {
	if c.Confidence <= 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence must be in (0, 1], got %g", c.Confidence)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.SubsetSize < MinMeasurements {
		return fmt.Errorf("subset size %d below minimum %d", c.SubsetSize, MinMeasurements)
	}
	if c.ProgressDelta < 0 || c.ProgressDelta > 1 {
		return fmt.Errorf("progress delta must be in [0, 1], got %g", c.ProgressDelta)
	}
	if c.Method.usesThreshold() && c.InlierThreshold <= 0 {
		return fmt.Errorf("%s needs a positive inlier threshold, got %g", c.Method, c.InlierThreshold)
	}
	return nil
}
