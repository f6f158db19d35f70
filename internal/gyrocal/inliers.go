package gyrocal

// Inliers is the consensus set supporting the accepted model: one mask and
// residual entry per measurement, plus the threshold that produced the
// partition. For the median-based methods the threshold is derived from
// the robust residual scale rather than configured. Read-only after
// calibration completes.
type Inliers struct {
	Mask       []bool
	Residuals  []float64
	Threshold  float64
	NumInliers int
}

// Ratio returns the inlier fraction, zero for an empty set.
func (in *Inliers) Ratio() float64 {
	if in == nil || len(in.Mask) == 0 {
		return 0
	}
	return float64(in.NumInliers) / float64(len(in.Mask))
}
