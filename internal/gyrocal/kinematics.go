package gyrocal

import (
	"fmt"
	"math"
)

// KinematicsPredictor produces the true body kinematics implied by a pair of
// navigation frames: the mean body angular rate (rad/s) and mean body
// specific force (m/s²) over the interval dt. The estimator treats a
// returned error as a maximal residual, never as a fatal condition.
type KinematicsPredictor interface {
	Predict(frame, prev Frame, dt float64) (angularRate, specificForce [3]float64, err error)
}

// AttitudePredictor derives body kinematics directly from the frame pair:
// the angular rate from the attitude quaternion delta and the specific
// force from the velocity delta minus gravity, both expressed in the body
// frame of the newer attitude.
type AttitudePredictor struct {
	// Gravity is the local gravity magnitude in m/s² along navigation +z
	// (down). Zero selects StandardGravity.
	Gravity float64
}

func (p AttitudePredictor) Predict(frame, prev Frame, dt float64) ([3]float64, [3]float64, error) {
	var zero [3]float64
	if dt <= 0 {
		return zero, zero, fmt.Errorf("non-positive frame interval %g", dt)
	}
	g := p.Gravity
	if g == 0 {
		g = StandardGravity
	}

	// Body-frame delta rotation: dq = conj(q_prev) ⊗ q_cur.
	dq := quatNormalize(quatMul(quatConj(prev.Quat), frame.Quat))
	if dq[0] < 0 {
		// Force the short rotation arc.
		dq = [4]float64{-dq[0], -dq[1], -dq[2], -dq[3]}
	}

	vn := math.Sqrt(dq[1]*dq[1] + dq[2]*dq[2] + dq[3]*dq[3])
	var rate [3]float64
	if vn < 1e-12 {
		// Small-angle limit of 2·log(dq)/dt.
		rate = [3]float64{2 * dq[1] / dt, 2 * dq[2] / dt, 2 * dq[3] / dt}
	} else {
		scale := 2 * math.Atan2(vn, dq[0]) / (vn * dt)
		rate = [3]float64{scale * dq[1], scale * dq[2], scale * dq[3]}
	}

	// Specific force is what the accelerometer reads: f = R(q)ᵀ·(a − g_nav)
	// with gravity pointing down (+z) in the navigation frame.
	accelNav := [3]float64{
		(frame.Vel[0] - prev.Vel[0]) / dt,
		(frame.Vel[1] - prev.Vel[1]) / dt,
		(frame.Vel[2]-prev.Vel[2])/dt - g,
	}
	force := quatRotateInv(frame.Quat, accelNav)

	for i := 0; i < 3; i++ {
		if math.IsNaN(rate[i]) || math.IsNaN(force[i]) {
			return zero, zero, fmt.Errorf("malformed frame pair at t=%g", frame.T)
		}
	}
	return rate, force, nil
}
