package gyrocal

import "math"

// StandardGravity is the conventional gravity magnitude in m/s².
const StandardGravity = 9.80665

// Frame is a navigation state snapshot bracketing one measurement interval.
// Quat is the body-to-navigation attitude quaternion in (w, x, y, z) order
// and is expected to be unit-norm; Vel is the navigation-frame velocity in
// m/s. T orders frames within a session (seconds from session start).
type Frame struct {
	T    float64    `json:"t"`
	Quat [4]float64 `json:"quat"`
	Vel  [3]float64 `json:"vel"`
}

// StepAttitude advances attitude q by a constant body angular rate (rad/s)
// held over dt seconds and returns the resulting unit quaternion. It is the
// exact inverse of the rate recovered by AttitudePredictor for the same
// frame pair, which makes it the canonical way to build synthetic sessions.
func StepAttitude(q [4]float64, rate [3]float64, dt float64) [4]float64 {
	angle := math.Sqrt(rate[0]*rate[0]+rate[1]*rate[1]+rate[2]*rate[2]) * dt
	half := angle / 2

	var dq [4]float64
	if angle < 1e-12 {
		// Small-angle limit: sin(θ/2)/θ ≈ 1/2.
		dq = [4]float64{1, rate[0] * dt / 2, rate[1] * dt / 2, rate[2] * dt / 2}
	} else {
		s := math.Sin(half) / (angle / dt)
		dq = [4]float64{math.Cos(half), rate[0] * s, rate[1] * s, rate[2] * s}
	}
	return quatNormalize(quatMul(q, dq))
}

// quatMul returns the Hamilton product a⊗b.
func quatMul(a, b [4]float64) [4]float64 {
	return [4]float64{
		a[0]*b[0] - a[1]*b[1] - a[2]*b[2] - a[3]*b[3],
		a[0]*b[1] + a[1]*b[0] + a[2]*b[3] - a[3]*b[2],
		a[0]*b[2] - a[1]*b[3] + a[2]*b[0] + a[3]*b[1],
		a[0]*b[3] + a[1]*b[2] - a[2]*b[1] + a[3]*b[0],
	}
}

// quatConj returns the conjugate (inverse for unit quaternions).
func quatConj(q [4]float64) [4]float64 {
	return [4]float64{q[0], -q[1], -q[2], -q[3]}
}

func quatNormalize(q [4]float64) [4]float64 {
	n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if n == 0 {
		return [4]float64{1, 0, 0, 0}
	}
	return [4]float64{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

// quatRotateInv rotates navigation-frame vector v into the body frame of
// attitude q, i.e. computes R(q)ᵀ·v.
func quatRotateInv(q [4]float64, v [3]float64) [3]float64 {
	p := [4]float64{0, v[0], v[1], v[2]}
	r := quatMul(quatConj(q), quatMul(p, q))
	return [3]float64{r[1], r[2], r[3]}
}
