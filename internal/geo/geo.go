// Package geo provides great-circle distance calculations for distance-based
// eligibility checks. All functions are pure and stateless.
package geo

import "math"

// EarthRadiusMiles is the mean Earth radius used for haversine distances.
const EarthRadiusMiles = 3958.8

// Coords is a latitude/longitude pair in decimal degrees.
type Coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the haversine (great-circle) distance between two
// coordinate pairs in miles.
func Distance(a, b Coords) float64 {
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(radians(a.Latitude))*math.Cos(radians(b.Latitude))*
			math.Pow(math.Sin(dLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMiles * c
}

// WithinDistance reports whether user is within thresholdMiles of target.
// The threshold is inclusive: a point exactly at the boundary is within.
func WithinDistance(user, target Coords, thresholdMiles float64) bool {
	return Distance(user, target) <= thresholdMiles
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
