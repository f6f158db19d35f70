// Command gen-imulog generates synthetic measurement logs for exercising
// the calibration pipeline. The generated session follows a smooth
// rotation/acceleration trajectory, applies a known error model to the
// ideal kinematics and optionally corrupts a fraction of the measurements
// so the robust methods have real outliers to reject.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/gyrocal/internal/gyrocal"
	"github.com/banshee-data/gyrocal/internal/imulog"
)

var (
	output   = flag.String("o", "session.jsonl", "output log path")
	count    = flag.Int("n", 200, "number of measurements")
	dt       = flag.Float64("dt", 0.01, "frame interval in seconds")
	seed     = flag.Int64("seed", 1, "random seed")
	noise    = flag.Float64("noise", 0.0005, "angular-rate noise stddev (rad/s)")
	outliers = flag.Float64("outliers", 0.1, "fraction of corrupted measurements")
	scaleErr = flag.Float64("scale", 0.02, "Mg diagonal scale error magnitude")
	crossErr = flag.Float64("cross", 0.003, "Mg off-diagonal coupling magnitude")
	gdepErr  = flag.Float64("gdep", 1e-4, "Gg entry magnitude (rad/s per m/s²)")
	biasX    = flag.Float64("bx", 0.01, "fixed bias x (rad/s)")
	biasY    = flag.Float64("by", -0.005, "fixed bias y (rad/s)")
	biasZ    = flag.Float64("bz", 0.002, "fixed bias z (rad/s)")
)

func main() {
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	mg := mat.NewDense(3, 3, nil)
	gg := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == j {
				mg.Set(i, j, *scaleErr*(0.5+rng.Float64()))
			} else {
				mg.Set(i, j, *crossErr*(2*rng.Float64()-1))
			}
			gg.Set(i, j, *gdepErr*(2*rng.Float64()-1))
		}
	}
	bias := [3]float64{*biasX, *biasY, *biasZ}

	measurements := generate(rng, mg, gg, bias, *count, *dt, *noise, *outliers)

	if err := imulog.WriteFile(*output, measurements); err != nil {
		log.Fatalf("failed to write log: %v", err)
	}

	log.Printf("wrote %d measurements to %s", len(measurements), *output)
	log.Printf("truth bias: %v", bias)
	log.Printf("truth Mg:\n%v", mat.Formatted(mg))
	log.Printf("truth Gg:\n%v", mat.Formatted(gg))
}

// generate integrates a smooth trajectory, asks the predictor for the
// exact kinematics of each frame pair, and applies the truth error model
// to produce the gyroscope output.
func generate(rng *rand.Rand, mg, gg *mat.Dense, bias [3]float64, n int, dt, noise, outlierFrac float64) []gyrocal.Measurement {
	pred := gyrocal.AttitudePredictor{}

	prev := gyrocal.Frame{T: 0, Quat: [4]float64{1, 0, 0, 0}}
	measurements := make([]gyrocal.Measurement, 0, n)

	for k := 0; k < n; k++ {
		t := float64(k) * dt

		// Incommensurate sinusoids keep the excitation well conditioned.
		rate := [3]float64{
			0.8 * math.Sin(0.9*t+0.1),
			0.6 * math.Cos(1.3*t+0.7),
			0.5 * math.Sin(1.7*t+0.3),
		}
		vel := [3]float64{
			2.0 * math.Sin(0.5*t),
			1.5 * math.Cos(0.8*t),
			0.4 * math.Sin(1.1*t),
		}

		frame := gyrocal.Frame{
			T:    t + dt,
			Quat: gyrocal.StepAttitude(prev.Quat, rate, dt),
			Vel:  vel,
		}

		trueRate, trueForce, err := pred.Predict(frame, prev, dt)
		if err != nil {
			log.Fatalf("predictor failed at step %d: %v", k, err)
		}

		var measured [3]float64
		for i := 0; i < 3; i++ {
			measured[i] = bias[i] + trueRate[i]
			for j := 0; j < 3; j++ {
				measured[i] += mg.At(i, j)*trueRate[j] + gg.At(i, j)*trueForce[j]
			}
			measured[i] += noise * rng.NormFloat64()
		}
		if outlierFrac > 0 && rng.Float64() < outlierFrac {
			measured[0] += 0.5
			measured[1] -= 0.4
			measured[2] += 0.3
		}

		m := gyrocal.Measurement{
			AngularRate:   measured,
			SpecificForce: trueForce,
			DT:            dt,
			Frame:         frame,
			PrevFrame:     prev,
		}
		if noise > 0 {
			m.RateStdDev = [3]float64{noise, noise, noise}
		}
		measurements = append(measurements, m)
		prev = frame
	}
	return measurements
}
