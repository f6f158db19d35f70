package gyrocal

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// candidateScore is the outcome of evaluating one candidate model over the
// scoring pool. quality is method-specific (higher is better); tiebreak
// orders candidates of equal quality (again higher is better), and a tie on
// both keeps the earlier candidate.
type candidateScore struct {
	quality     float64
	tiebreak    float64
	inlierCount int
	poolLen     int
}

func (a candidateScore) betterThan(b candidateScore) bool {
	if a.quality != b.quality {
		return a.quality > b.quality
	}
	return a.tiebreak > b.tiebreak
}

// consensusScorer evaluates candidate models against the measurement set
// (or, for the quality-guided methods, its current prefix pool). Residual
// scratch space is reused across iterations.
type consensusScorer struct {
	method     RobustMethod
	threshold  float64
	subsetSize int
	bias       [3]float64
	pred       KinematicsPredictor
	resid      []float64
	sq         []float64
}

func newConsensusScorer(cfg *Config, bias [3]float64, n int) *consensusScorer {
	return &consensusScorer{
		method:     cfg.Method,
		threshold:  cfg.InlierThreshold,
		subsetSize: cfg.SubsetSize,
		bias:       bias,
		pred:       cfg.Predictor,
		resid:      make([]float64, n),
		sq:         make([]float64, n),
	}
}

// score evaluates cand over pool (nil pool means every measurement).
func (cs *consensusScorer) score(cand *Model, meas []Measurement, pool []int) candidateScore {
	n := len(meas)
	if pool != nil {
		n = len(pool)
	}
	for i := 0; i < n; i++ {
		idx := i
		if pool != nil {
			idx = pool[i]
		}
		cs.resid[i] = residual(meas[idx], cand, cs.bias, cs.pred)
	}
	r := cs.resid[:n]

	switch cs.method {
	case RANSAC, PROSAC:
		count := 0
		sum := 0.0
		for _, v := range r {
			if v <= cs.threshold {
				count++
				sum += v
			}
		}
		return candidateScore{quality: float64(count), tiebreak: -sum, inlierCount: count, poolLen: n}

	case MSAC:
		t2 := cs.threshold * cs.threshold
		cost := 0.0
		count := 0
		for _, v := range r {
			v2 := v * v
			if v2 <= t2 {
				cost += v2
				count++
			} else {
				cost += t2
			}
		}
		return candidateScore{quality: -cost, inlierCount: count, poolLen: n}

	default: // LMedS, PROMedS
		med := cs.medianSq(r)
		thr := robustThreshold(med, n, cs.subsetSize)
		count := 0
		for _, v := range r {
			if v <= thr {
				count++
			}
		}
		return candidateScore{quality: -med, inlierCount: count, poolLen: n}
	}
}

// derive partitions the full measurement set under cand, using the
// configured threshold for the threshold-based methods and the robust
// scale estimate for the median-based ones.
func (cs *consensusScorer) derive(cand *Model, meas []Measurement) *Inliers {
	n := len(meas)
	residuals := make([]float64, n)
	for i := range meas {
		residuals[i] = residual(meas[i], cand, cs.bias, cs.pred)
	}

	thr := cs.threshold
	if !cs.method.usesThreshold() {
		copy(cs.resid[:n], residuals)
		thr = robustThreshold(cs.medianSq(cs.resid[:n]), n, cs.subsetSize)
	}

	in := &Inliers{
		Mask:      make([]bool, n),
		Residuals: residuals,
		Threshold: thr,
	}
	for i, v := range residuals {
		if v <= thr {
			in.Mask[i] = true
			in.NumInliers++
		}
	}
	return in
}

// medianSq computes the median of squared residuals. The input slice is
// scratch and may be reordered.
func (cs *consensusScorer) medianSq(r []float64) float64 {
	sq := cs.sq[:len(r)]
	for i, v := range r {
		if math.IsInf(v, 1) {
			sq[i] = math.MaxFloat64
			continue
		}
		sq[i] = v * v
	}
	sort.Float64s(sq)
	return stat.Quantile(0.5, stat.Empirical, sq, nil)
}

// robustThreshold converts a median of squared residuals into an inlier
// threshold via the MAD-style scale estimate
// σ = 1.4826·(1 + 5/(n−m))·√median, cut at 2.5σ.
func robustThreshold(medianSq float64, n, subsetSize int) float64 {
	dof := n - subsetSize
	if dof < 1 {
		dof = 1
	}
	sigma := 1.4826 * (1 + 5/float64(dof)) * math.Sqrt(medianSq)
	thr := 2.5 * sigma
	// Numerical floor so that an exact (noise-free) fit keeps its own
	// measurements as inliers.
	if thr < 1e-9 {
		thr = 1e-9
	}
	return thr
}
