package gyrocal

import "math"

// residual measures the disagreement between a candidate model's predicted
// angular rate and the observed one: ‖bias + (I+Mg)·ω + Gg·f − observed‖₂.
// A kinematics failure returns +Inf so the caller treats the measurement as
// a strong outlier instead of aborting the run.
func residual(m Measurement, cand *Model, bias [3]float64, pred KinematicsPredictor) float64 {
	rate, force, err := pred.Predict(m.Frame, m.PrevFrame, m.DT)
	if err != nil {
		return math.Inf(1)
	}

	var sum float64
	for i := 0; i < 3; i++ {
		p := bias[i] + rate[i]
		for j := 0; j < 3; j++ {
			p += cand.Mg.At(i, j)*rate[j] + cand.Gg.At(i, j)*force[j]
		}
		d := p - m.AngularRate[i]
		sum += d * d
	}
	if math.IsNaN(sum) {
		return math.Inf(1)
	}
	return math.Sqrt(sum)
}
