package gyrocal

import "fmt"

// RobustMethod selects the sample-consensus strategy used by the estimator.
type RobustMethod int

const (
	// RANSAC counts inliers under a fixed residual threshold.
	RANSAC RobustMethod = iota
	// LMedS minimizes the median of squared residuals; no threshold needed.
	LMedS
	// MSAC scores with a capped loss: residuals above the threshold
	// contribute a constant penalty instead of their true value.
	MSAC
	// PROSAC is RANSAC with quality-guided sampling from a growing
	// high-quality prefix of the measurement set.
	PROSAC
	// PROMedS is LMedS with the same quality-guided sampling as PROSAC.
	PROMedS
)

func (m RobustMethod) String() string {
	switch m {
	case RANSAC:
		return "ransac"
	case LMedS:
		return "lmeds"
	case MSAC:
		return "msac"
	case PROSAC:
		return "prosac"
	case PROMedS:
		return "promeds"
	}
	return fmt.Sprintf("RobustMethod(%d)", int(m))
}

// RequiresQualityScores reports whether the method needs per-measurement
// quality scores to drive its sampler.
func (m RobustMethod) RequiresQualityScores() bool {
	return m == PROSAC || m == PROMedS
}

// usesThreshold reports whether the method partitions inliers with the
// configured residual threshold (as opposed to a median-derived scale).
func (m RobustMethod) usesThreshold() bool {
	return m == RANSAC || m == MSAC || m == PROSAC
}

// ParseRobustMethod maps a config/CLI string to its RobustMethod.
func ParseRobustMethod(s string) (RobustMethod, error) {
	switch s {
	case "ransac":
		return RANSAC, nil
	case "lmeds":
		return LMedS, nil
	case "msac":
		return MSAC, nil
	case "prosac":
		return PROSAC, nil
	case "promeds":
		return PROMedS, nil
	}
	return 0, fmt.Errorf("unknown robust method %q (want ransac, lmeds, msac, prosac or promeds)", s)
}
