// Package geo holds great-circle distance helpers.
package geo

import "math"

// EarthRadiusMiles is the mean earth radius used for every distance the app reports.
const EarthRadiusMiles = 3956

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point lies within latitude/longitude bounds.
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// HaversineMiles returns the great-circle distance between a and b in miles.
func HaversineMiles(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dlat := lat2 - lat1
	dlng := radians(b.Longitude - a.Longitude)

	h := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlng/2), 2)
	return 2 * math.Asin(math.Sqrt(h)) * EarthRadiusMiles
}

// DistanceMiles is HaversineMiles rounded to two decimals.
func DistanceMiles(a, b Point) float64 {
	return math.Round(HaversineMiles(a, b)*100) / 100
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
