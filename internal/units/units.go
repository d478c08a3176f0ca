// Package units provides shared constants and conversions for momentum
// transfer and wavelength units used by probe files and the fitter.
package units

import "math"

// Unit constants for momentum transfer Q
const (
	InvAngstrom  = "1/A"
	InvNanometer = "1/nm"
)

// ValidQUnits contains all valid Q unit values
var ValidQUnits = []string{InvAngstrom, InvNanometer}

// IsValidQ checks if the given unit is in the list of valid Q units
func IsValidQ(unit string) bool {
	for _, validUnit := range ValidQUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidQUnitsString returns a comma-separated string of valid Q units for error messages
func GetValidQUnitsString() string {
	return "1/A, 1/nm"
}

// ConvertQ converts a momentum transfer value to inverse Angstroms.
// All internal calculations use 1/A.
func ConvertQ(q float64, sourceUnits string) float64 {
	switch sourceUnits {
	case InvNanometer:
		return q / 10 // 1 nm = 10 A
	case InvAngstrom:
		return q
	default:
		return q
	}
}

// QFromAngle computes momentum transfer from wavelength lambda (Angstroms)
// and incident angle theta (degrees) for specular reflection.
func QFromAngle(lambda, thetaDeg float64) float64 {
	return 4 * math.Pi / lambda * math.Sin(thetaDeg*math.Pi/180)
}

// AngleFromQ inverts QFromAngle, returning the incident angle in degrees.
func AngleFromQ(q, lambda float64) float64 {
	return math.Asin(q*lambda/(4*math.Pi)) * 180 / math.Pi
}
