package gyrocal

import (
	"math"
	"math/rand"
	"sort"
)

// subsetSampler produces duplicate-free index subsets for preliminary fits.
// pool reports the indices a candidate should be scored against: nil means
// the full measurement set, otherwise the current quality-ordered prefix.
type subsetSampler interface {
	sample(dst []int)
	pool() []int
}

// uniformSampler draws subsets uniformly without replacement; used by
// RANSAC, LMedS and MSAC.
type uniformSampler struct {
	rng     *rand.Rand
	scratch []int
}

func newUniformSampler(n int, rng *rand.Rand) *uniformSampler {
	s := &uniformSampler{rng: rng, scratch: make([]int, n)}
	for i := range s.scratch {
		s.scratch[i] = i
	}
	return s
}

func (s *uniformSampler) sample(dst []int) {
	// Partial Fisher–Yates over the persistent index slice.
	n := len(s.scratch)
	for i := range dst {
		j := i + s.rng.Intn(n-i)
		s.scratch[i], s.scratch[j] = s.scratch[j], s.scratch[i]
		dst[i] = s.scratch[i]
	}
}

func (s *uniformSampler) pool() []int { return nil }

// prosacGrowthBudget is the T_N constant of the PROSAC growth function:
// the notional number of uniform samples after which the pool has grown to
// the full set.
const prosacGrowthBudget = 200000

// prosacSampler implements the Chum–Matas quality-guided sampling schedule.
// Measurements are ordered once, descending by quality score with a stable
// tie-break on original position; each draw takes the newest pool member
// plus m−1 random members of the preceding prefix until the growth
// function hands over to uniform sampling within the pool.
type prosacSampler struct {
	rng    *rand.Rand
	order  []int
	m      int
	t      int
	n      int
	tn     float64
	tnPrim float64
}

func newProsacSampler(scores []float64, m int, rng *rand.Rand) *prosacSampler {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	// T_m = T_N · ∏_{i=0}^{m-1} (m−i)/(N−i).
	tn := float64(prosacGrowthBudget)
	for i := 0; i < m; i++ {
		tn *= float64(m-i) / float64(len(scores)-i)
	}

	return &prosacSampler{
		rng:    rng,
		order:  order,
		m:      m,
		n:      m,
		tn:     tn,
		tnPrim: 1,
	}
}

func (s *prosacSampler) sample(dst []int) {
	s.t++
	if float64(s.t) > s.tnPrim && s.n < len(s.order) {
		tnNext := s.tn * float64(s.n+1) / float64(s.n+1-s.m)
		s.tnPrim += math.Ceil(tnNext - s.tn)
		s.tn = tnNext
		s.n++
	}

	if float64(s.t) > s.tnPrim || s.n == s.m {
		// Uniform draw from the whole current pool.
		s.drawPrefix(dst, s.n)
		return
	}
	// The newest pool member plus m−1 from the preceding prefix.
	s.drawPrefix(dst[:s.m-1], s.n-1)
	dst[s.m-1] = s.order[s.n-1]
}

// drawPrefix fills dst with distinct members of order[:limit].
func (s *prosacSampler) drawPrefix(dst []int, limit int) {
	for i := range dst {
		for {
			cand := s.order[s.rng.Intn(limit)]
			dup := false
			for _, prev := range dst[:i] {
				if prev == cand {
					dup = true
					break
				}
			}
			if !dup {
				dst[i] = cand
				break
			}
		}
	}
}

func (s *prosacSampler) pool() []int { return s.order[:s.n] }
