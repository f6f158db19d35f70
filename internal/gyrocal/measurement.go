package gyrocal

// MinMeasurements is the smallest measurement count that determines the
// model: each measurement contributes three equations and the full model
// has 18 unknowns (9 in Mg, 9 in Gg).
const MinMeasurements = 6

// Measurement is one dated, frame-tagged gyroscope sample. AngularRate is
// the raw gyroscope output (rad/s) and SpecificForce the accelerometer
// output (m/s²) averaged over the interval DT between PrevFrame and Frame.
// RateStdDev carries the per-axis angular-rate noise used for chi-square
// weighting; zero entries are treated as unit weight.
//
// Measurements are value types and are never mutated by the estimator; the
// collection order matters because the kinematics predictor works on
// frame-to-frame pairs.
type Measurement struct {
	AngularRate   [3]float64 `json:"angular_rate"`
	SpecificForce [3]float64 `json:"specific_force"`
	DT            float64    `json:"dt"`
	Frame         Frame      `json:"frame"`
	PrevFrame     Frame      `json:"prev_frame"`
	RateStdDev    [3]float64 `json:"rate_std_dev"`
}
