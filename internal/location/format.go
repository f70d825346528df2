package location

import (
	"math"
	"strconv"
)

const feetPerMeter = 3.281

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.RoundToEven(v*scale) / scale
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatPosition renders the location readout: coordinates to six places and
// altitude in feet to one decimal.
func FormatPosition(p Position) string {
	alt := "--"
	if p.HasAltitude {
		alt = formatFloat(roundTo(p.Altitude*feetPerMeter, 1))
	}
	return "Lat: " + formatFloat(roundTo(p.Latitude, 6)) +
		", Long: " + formatFloat(roundTo(p.Longitude, 6)) +
		", Alt: " + alt
}

// FormatHeading renders a heading in whole degrees.
func FormatHeading(deg float64) string {
	return strconv.FormatFloat(math.RoundToEven(deg), 'f', 0, 64) + "°"
}
