// Package units converts the instrument's raw water velocities (integer mm/s)
// into the units used for display.
package units

import (
	"fmt"
	"strings"
)

// Unit constants
const (
	MMPS  = "mmps"
	CMPS  = "cmps"
	MPS   = "mps"
	KNOTS = "knots"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MMPS, CMPS, MPS, KNOTS}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertVelocity converts a velocity in millimetres per second to the
// target units. Unknown units leave the value in mm/s.
func ConvertVelocity(mmps float64, targetUnits string) float64 {
	switch targetUnits {
	case CMPS:
		return mmps * 0.1
	case MPS:
		return mmps * 0.001
	case KNOTS:
		return mmps * 0.001 * 3600 / 1852
	default:
		return mmps
	}
}

// Suffix returns the display suffix for a unit.
func Suffix(unit string) string {
	switch unit {
	case CMPS:
		return "cm/s"
	case MPS:
		return "m/s"
	case KNOTS:
		return "kn"
	default:
		return "mm/s"
	}
}

// FormatVelocity renders a velocity in mm/s in the target units.
func FormatVelocity(mmps float64, unit string) string {
	return fmt.Sprintf("%.1f %s", ConvertVelocity(mmps, unit), Suffix(unit))
}
