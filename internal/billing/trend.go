// Package billing turns a short history of meter readings into a next-month
// bill estimate.
package billing

import (
	"math"

	"wattsup/internal/domain"
)

// NextUnits extrapolates next month's consumption from readings ordered
// oldest to newest. It averages the two month-over-month deltas, adds the
// average to the newest reading and rounds half to even, never going below
// zero. Anything short of three valid readings yields the newest reading
// unchanged.
func NextUnits(readings []domain.HistoricalReading) int {
	if len(readings) != 3 {
		if len(readings) == 0 {
			return 0
		}
		return lastUnits(readings[len(readings)-1].Units)
	}

	u3, u2, u1 := readings[0].Units, readings[1].Units, readings[2].Units
	if !validUnits(u3) || !validUnits(u2) || !validUnits(u1) {
		return lastUnits(u1)
	}

	avgDelta := ((u2 - u3) + (u1 - u2)) / 2
	raw := math.RoundToEven(u1 + avgDelta)
	if math.IsNaN(raw) {
		return lastUnits(u1)
	}
	return toUnits(math.Max(0, raw))
}

func lastUnits(u float64) int {
	if !validUnits(u) {
		return 0
	}
	return toUnits(math.RoundToEven(u))
}

// toUnits converts a non-negative whole number, saturating at math.MaxInt.
func toUnits(f float64) int {
	if f >= float64(math.MaxInt) {
		return math.MaxInt
	}
	return int(f)
}

func validUnits(u float64) bool {
	return !math.IsNaN(u) && !math.IsInf(u, 0) && u >= 0
}
