// Package units holds the stage's physical constants and step conversions.
package units

import "math"

const (
	// MicrostepSize is the travel of one controller position unit in µm.
	MicrostepSize = 0.49609375

	// MaxPos is the absolute travel ceiling in microsteps.
	MaxPos uint32 = 201574

	// MaxSpeed is the highest accepted maxspeed in microsteps per second.
	MaxSpeed uint32 = 153600
)

// MMToSteps converts millimeters to microsteps, truncating toward zero.
// Negative and NaN inputs give 0; values past the uint32 range saturate.
func MMToSteps(mm float64) uint32 {
	steps := mm * 1000 / MicrostepSize
	switch {
	case math.IsNaN(steps) || steps <= 0:
		return 0
	case steps >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(steps)
}

// StepsToMM converts microsteps to millimeters.
func StepsToMM(steps uint32) float64 {
	return float64(steps) * MicrostepSize / 1000
}
