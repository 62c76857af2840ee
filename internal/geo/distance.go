package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for every distance in the
// system, so clustering and reported distances agree.
const EarthRadiusKm = 6371.0088

// HaversineRad returns the central angle in radians between two points given
// in radians.
func HaversineRad(lat1, lon1, lat2, lon2 float64) float64 {
	sinLat := math.Sin((lat2 - lat1) / 2)
	sinLon := math.Sin((lon2 - lon1) / 2)
	a := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	if a > 1 {
		a = 1
	}
	return 2 * math.Asin(math.Sqrt(a))
}

// DistanceKm returns the great-circle distance between a and b in kilometers.
func DistanceKm(a, b Coordinate) float64 {
	lat1, lon1 := a.Radians()
	lat2, lon2 := b.Radians()
	return HaversineRad(lat1, lon1, lat2, lon2) * EarthRadiusKm
}

// MaxPairwiseKm returns the largest great-circle distance between any two of
// coords, or 0 when fewer than two are given.
func MaxPairwiseKm(coords []Coordinate) float64 {
	if len(coords) < 2 {
		return 0
	}
	var maxD float64
	for i := 0; i < len(coords); i++ {
		for j := i + 1; j < len(coords); j++ {
			if d := DistanceKm(coords[i], coords[j]); d > maxD {
				maxD = d
			}
		}
	}
	return maxD
}
