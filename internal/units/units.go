// Package units provides shared constants and validation for angular-rate
// and acceleration units used across calibration tooling
package units

// Angular-rate unit constants
const (
	RadPS = "radps"
	DegPS = "degps"
	DegPH = "degph"
)

// Acceleration unit constants
const (
	MPS2 = "mps2"
	G    = "g"
)

// ValidRateUnits contains all valid angular-rate unit values
var ValidRateUnits = []string{RadPS, DegPS, DegPH}

// ValidAccelUnits contains all valid acceleration unit values
var ValidAccelUnits = []string{MPS2, G}

// IsValidRateUnit checks if the given unit is a known angular-rate unit
func IsValidRateUnit(unit string) bool {
	for _, validUnit := range ValidRateUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// IsValidAccelUnit checks if the given unit is a known acceleration unit
func IsValidAccelUnit(unit string) bool {
	for _, validUnit := range ValidAccelUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidRateUnitsString returns a comma-separated string of valid
// angular-rate units for error messages
func GetValidRateUnitsString() string {
	return "radps, degps, degph"
}

const (
	degPerRad       = 57.29577951308232
	standardGravity = 9.80665
	secondsPerHour  = 3600.0
)

// ConvertRate converts an angular rate from rad/s to the target units.
// The estimator and database always work in rad/s.
func ConvertRate(rateRadPS float64, targetUnits string) float64 {
	switch targetUnits {
	case DegPS:
		return rateRadPS * degPerRad
	case DegPH:
		return rateRadPS * degPerRad * secondsPerHour
	case RadPS:
		return rateRadPS // no conversion needed
	default:
		return rateRadPS // default to rad/s if unknown unit
	}
}

// ConvertAccel converts an acceleration from m/s² to the target units.
func ConvertAccel(accelMPS2 float64, targetUnits string) float64 {
	switch targetUnits {
	case G:
		return accelMPS2 / standardGravity
	case MPS2:
		return accelMPS2
	default:
		return accelMPS2
	}
}
