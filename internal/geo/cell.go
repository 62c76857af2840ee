package geo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/uber/h3-go/v4"
)

// Cell returns the H3 cell index containing c at the given resolution (0-15).
func Cell(c Coordinate, resolution int) (string, error) {
	if resolution < 0 || resolution > 15 {
		return "", eris.Errorf("geo: invalid h3 resolution %d", resolution)
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(c.Latitude, c.Longitude), resolution)
	if err != nil {
		return "", eris.Wrapf(err, "geo: h3 cell for %s", c)
	}
	return cell.String(), nil
}

// BBox is a longitude/latitude bounding box.
type BBox struct {
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
}

// Bounds returns the bounding box of coords. It returns false for an empty slice.
func Bounds(coords []Coordinate) (BBox, bool) {
	if len(coords) == 0 {
		return BBox{}, false
	}
	b := geom.NewMultiPointFlat(geom.XY, FlatXY(coords)).Bounds()
	return BBox{
		MinLon: b.Min(0),
		MinLat: b.Min(1),
		MaxLon: b.Max(0),
		MaxLat: b.Max(1),
	}, true
}

// FlatXY lays coords out as lon,lat pairs for go-geom constructors.
func FlatXY(coords []Coordinate) []float64 {
	flat := make([]float64, 0, 2*len(coords))
	for _, c := range coords {
		flat = append(flat, c.Longitude, c.Latitude)
	}
	return flat
}
