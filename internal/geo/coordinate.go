// Package geo provides the coordinate model and great-circle math shared by
// geocoding, clustering and reporting.
package geo

import (
	"fmt"
	"math"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"lat" yaml:"lat"`
	Longitude float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether c lies within [-90,90] x [-180,180] and holds no NaN.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// Radians returns latitude and longitude converted to radians.
func (c Coordinate) Radians() (lat, lon float64) {
	return c.Latitude * math.Pi / 180, c.Longitude * math.Pi / 180
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Latitude, c.Longitude)
}

// MeanCenter returns the arithmetic mean of member latitudes and longitudes.
// This is a flat average, not a spherical centroid: it is accurate for
// compact groups and drifts near the poles or across the anti-meridian.
// It returns false for an empty slice.
func MeanCenter(coords []Coordinate) (Coordinate, bool) {
	if len(coords) == 0 {
		return Coordinate{}, false
	}
	var sumLat, sumLon float64
	for _, c := range coords {
		sumLat += c.Latitude
		sumLon += c.Longitude
	}
	n := float64(len(coords))
	return Coordinate{Latitude: sumLat / n, Longitude: sumLon / n}, true
}
