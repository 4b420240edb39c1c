package observe

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidInterval means a rain rate was asked for over a non-positive
// time span.
var ErrInvalidInterval = errors.New("'from' date must be before 'to' date")

// RainRate derives an hourly rate from a depth collected between from and
// to. A depth in millimetres gives a rate in mm/hr. The result is rounded
// to 2 decimal places; a zero depth is always a zero rate.
func RainRate(from, to time.Time, depth float64) (float64, error) {
	if !from.Before(to) {
		return 0, ErrInvalidInterval
	}
	if depth == 0 {
		return 0, nil
	}

	hours := to.Sub(from).Hours()
	return roundTo(depth/hours, 2), nil
}

// KilometresPerHourToMetresPerSecond converts a wind speed, rounded to 1
// decimal place.
func KilometresPerHourToMetresPerSecond(kph float64) float64 {
	return roundTo(kph/3.6, 1)
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
