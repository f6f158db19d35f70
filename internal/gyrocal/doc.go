// Package gyrocal fits a gyroscope error model from redundant motion
// measurements while tolerating an unknown fraction of corrupted samples.
//
// The model relates the measured angular rate to the true body kinematics as
//
//	measured = bias + (I + Mg)·rate + Gg·force
//
// where Mg is the 3×3 scale-factor/cross-coupling matrix, Gg the 3×3
// g-dependent bias matrix, and bias a known, fixed offset. The Estimator
// searches for Mg and Gg with a sample-consensus loop: minimal measurement
// subsets are drawn, fitted, scored against the full set, and the best
// candidate is adaptively refined. Five robust methods are supported
// (RANSAC, LMedS, MSAC, PROSAC, PROMedS); the quality-guided variants
// additionally need per-measurement quality scores.
package gyrocal
