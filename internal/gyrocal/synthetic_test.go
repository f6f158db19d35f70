package gyrocal

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// tableKinematics is a test predictor that looks the true kinematics up by
// frame timestamp, decoupling engine tests from the attitude math.
type tableKinematics struct {
	rates  map[float64][3]float64
	forces map[float64][3]float64
}

func (t tableKinematics) Predict(frame, prev Frame, dt float64) ([3]float64, [3]float64, error) {
	rate, ok := t.rates[frame.T]
	if !ok {
		return [3]float64{}, [3]float64{}, fmt.Errorf("no kinematics for t=%g", frame.T)
	}
	return rate, t.forces[frame.T], nil
}

// truthModel returns a realistic ground-truth error model: percent-level
// scale factors and couplings, small g-dependent biases.
func truthModel(commonAxis bool) (mg, gg *mat.Dense) {
	mg = mat.NewDense(3, 3, []float64{
		0.012, -0.003, 0.004,
		0.002, -0.018, 0.005,
		-0.004, 0.003, 0.021,
	})
	if commonAxis {
		mg.Set(1, 0, 0)
		mg.Set(2, 0, 0)
		mg.Set(2, 1, 0)
	}
	gg = mat.NewDense(3, 3, []float64{
		3e-4, -1e-4, 2e-4,
		-2e-4, 4e-4, 1e-4,
		1e-4, 2e-4, -3e-4,
	})
	return mg, gg
}

// syntheticSet builds n noise-free measurements consistent with the given
// model under a table predictor with varied, well-conditioned kinematics.
func syntheticSet(n int, mg, gg *mat.Dense, bias [3]float64, seed int64) ([]Measurement, tableKinematics) {
	rng := rand.New(rand.NewSource(seed))
	kin := tableKinematics{
		rates:  make(map[float64][3]float64, n),
		forces: make(map[float64][3]float64, n),
	}
	meas := make([]Measurement, n)

	for k := 0; k < n; k++ {
		t := float64(k + 1)
		var rate, force [3]float64
		for i := 0; i < 3; i++ {
			rate[i] = 2*rng.Float64() - 1    // ±1 rad/s
			force[i] = 20*rng.Float64() - 10 // ±10 m/s²
		}
		kin.rates[t] = rate
		kin.forces[t] = force

		var observed [3]float64
		for i := 0; i < 3; i++ {
			observed[i] = bias[i] + rate[i]
			for j := 0; j < 3; j++ {
				observed[i] += mg.At(i, j)*rate[j] + gg.At(i, j)*force[j]
			}
		}
		meas[k] = Measurement{
			AngularRate:   observed,
			SpecificForce: force,
			DT:            0.02,
			Frame:         Frame{T: t},
			PrevFrame:     Frame{T: t - 1},
		}
	}
	return meas, kin
}

// corrupt offsets the observed angular rate of the chosen measurements,
// turning them into gross outliers.
func corrupt(meas []Measurement, indices ...int) {
	for _, i := range indices {
		meas[i].AngularRate[0] += 0.5
		meas[i].AngularRate[1] -= 0.4
		meas[i].AngularRate[2] += 0.3
	}
}
