package netatmo

import "math"

// Region is the full bounding box the ingester is responsible for,
// loaded once from configuration.
type Region struct {
	North          float64
	South          float64
	East           float64
	West           float64
	MaxWindowWidth float64 // degrees
}

// Window is one API-sized sub-rectangle of a Region. The getpublicdata
// endpoint silently drops stations over large or dense areas, so requests
// are always made per window rather than for the whole region.
type Window struct {
	North float64
	South float64
	East  float64
	West  float64
}

// Contains reports whether the coordinate falls inside the window
// (edges inclusive). Vendor responses may include neighbouring stations.
func (w Window) Contains(lat, lon float64) bool {
	return lat <= w.North && lat >= w.South && lon >= w.West && lon <= w.East
}

// breakpointPrecision keeps repeated additions of MaxWindowWidth from
// accumulating floating-point drift across many steps.
const breakpointPrecision = 4

// Tile splits a region into windows no wider than MaxWindowWidth, south to
// north then west to east. The final row and column may be narrower. The
// result is a pure function of the region: together the windows cover the
// region exactly, with no gaps or overlaps.
func Tile(region Region) []Window {
	lats := breakpoints(region.South, region.North, region.MaxWindowWidth)
	lons := breakpoints(region.West, region.East, region.MaxWindowWidth)

	windows := make([]Window, 0, (len(lats)-1)*(len(lons)-1))
	for i := 0; i < len(lats)-1; i++ {
		for j := 0; j < len(lons)-1; j++ {
			windows = append(windows, Window{
				North: lats[i+1],
				South: lats[i],
				West:  lons[j],
				East:  lons[j+1],
			})
		}
	}
	return windows
}

func breakpoints(from, to, step float64) []float64 {
	points := []float64{}
	edge := from
	for edge < to {
		points = append(points, edge)
		edge = roundTo(edge+step, breakpointPrecision)
	}
	return append(points, to)
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
