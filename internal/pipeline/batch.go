package pipeline

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geocluster/internal/cluster"
	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// Output column names. They match the layout of previously exported files so
// those can be fed back in.
const (
	ColumnLat         = "Lat"
	ColumnLon         = "Lon"
	ColumnSource      = "Source"
	ColumnCluster     = "Cluster"
	ColumnCentroidLat = "Centroid_Lat"
	ColumnCentroidLon = "Centroid_Lon"
	ColumnDistance    = "Odległość od Centroidu (km)"
)

// ResolvedColumns are appended to the input by Batch.Table.
var ResolvedColumns = []string{ColumnLat, ColumnLon, ColumnSource}

// ClusterColumns are appended after ResolvedColumns by Outcome.Table.
var ClusterColumns = []string{ColumnCluster, ColumnCentroidLat, ColumnCentroidLon, ColumnDistance}

// Batch is an input table together with one resolution record per row.
type Batch struct {
	RunID   string
	Input   *dataset.Table
	Records []geocode.Record
}

// SourceCounts tallies records by source.
func (b *Batch) SourceCounts() map[geocode.Source]int {
	out := make(map[geocode.Source]int)
	for _, r := range b.Records {
		out[r.Source]++
	}
	return out
}

// Unresolved returns the number of rows without a coordinate.
func (b *Batch) Unresolved() int {
	var n int
	for _, r := range b.Records {
		if r.Coordinate == nil {
			n++
		}
	}
	return n
}

// Table returns the input columns followed by Lat, Lon and Source. Lat and
// Lon are empty for unresolved rows.
func (b *Batch) Table() *dataset.Table {
	return b.Input.WithColumns(ResolvedColumns, func(i int) []string {
		r := b.Records[i]
		lat, lon := coordinateCells(r.Coordinate)
		return []string{lat, lon, string(r.Source)}
	})
}

// FromResolvedTable rebuilds a batch from a table previously written by
// Batch.Table, so it can be clustered again without geocoding. Rows with an
// empty Lat or Lon are treated as unresolved.
func FromResolvedTable(tbl *dataset.Table, runID string) (*Batch, error) {
	latIdx, lonIdx := tbl.Index(ColumnLat), tbl.Index(ColumnLon)
	if latIdx < 0 || lonIdx < 0 {
		var missing []string
		if latIdx < 0 {
			missing = append(missing, ColumnLat)
		}
		if lonIdx < 0 {
			missing = append(missing, ColumnLon)
		}
		return nil, &dataset.SchemaError{Missing: missing}
	}

	b := &Batch{RunID: runID, Input: stripDerived(tbl), Records: make([]geocode.Record, tbl.Len())}
	for i := range tbl.Rows {
		rec := geocode.Record{Query: geocode.LocationQuery{
			City:       strings.TrimSpace(tbl.Value(i, dataset.ColumnCity)),
			Country:    strings.TrimSpace(tbl.Value(i, dataset.ColumnCountry)),
			PostalCode: strings.TrimSpace(tbl.Value(i, dataset.ColumnPostalCode)),
		}}

		latCell := strings.TrimSpace(tbl.Rows[i][latIdx])
		lonCell := strings.TrimSpace(tbl.Rows[i][lonIdx])
		if latCell != "" && lonCell != "" {
			c, err := parseCoordinate(latCell, lonCell)
			if err != nil {
				return nil, eris.Wrapf(err, "pipeline: row %d", i+1)
			}
			rec.Coordinate = &c
		}

		src, ok := geocode.ParseSource(tbl.Value(i, ColumnSource))
		switch {
		case ok && src.Resolved() == (rec.Coordinate != nil):
			rec.Source = src
		case rec.Coordinate != nil:
			rec.Source = geocode.SourceCache
		default:
			rec.Source = geocode.SourceError
		}
		b.Records[i] = rec
	}
	return b, nil
}

// stripDerived drops the columns this package appends, so a table exported
// by an earlier run can be fed back in.
func stripDerived(tbl *dataset.Table) *dataset.Table {
	derived := append(append([]string(nil), ResolvedColumns...), ClusterColumns...)
	return tbl.Without(derived...)
}

func parseCoordinate(latCell, lonCell string) (geo.Coordinate, error) {
	lat, err := strconv.ParseFloat(latCell, 64)
	if err != nil {
		return geo.Coordinate{}, eris.Wrapf(err, "parse %s", ColumnLat)
	}
	lon, err := strconv.ParseFloat(lonCell, 64)
	if err != nil {
		return geo.Coordinate{}, eris.Wrapf(err, "parse %s", ColumnLon)
	}
	c := geo.Coordinate{Latitude: lat, Longitude: lon}
	if !c.Valid() {
		return geo.Coordinate{}, eris.Errorf("coordinate %s out of range", c)
	}
	return c, nil
}

// Cluster groups the resolved rows of b.
func (b *Batch) Cluster(opts cluster.Options) (*Outcome, error) {
	points := make([]cluster.Point, len(b.Records))
	for i, r := range b.Records {
		points[i] = cluster.Point{ID: i, Coordinate: r.Coordinate}
	}
	res, err := cluster.Run(points, opts)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: cluster")
	}
	return &Outcome{Batch: b, Options: opts, Result: res, members: res.ByID()}, nil
}

// Outcome is a clustered batch.
type Outcome struct {
	*Batch
	Options cluster.Options
	Result  *cluster.Result
	members map[int]cluster.Member
}

// Member returns the clustering annotation of row i. ok is false for rows
// that were never clustered because they did not resolve.
func (o *Outcome) Member(i int) (cluster.Member, bool) {
	m, ok := o.members[i]
	return m, ok
}

// Table returns the input columns followed by Lat, Lon, Source, Cluster,
// Centroid_Lat, Centroid_Lon and the distance to the centroid in km. Noise
// rows carry Cluster -1 and empty centroid cells; unresolved rows leave every
// clustering cell empty.
func (o *Outcome) Table() *dataset.Table {
	resolved := o.Batch.Table()
	return resolved.WithColumns(ClusterColumns, func(i int) []string {
		m, ok := o.Member(i)
		if !ok {
			return nil
		}
		lat, lon := coordinateCells(m.Centroid)
		dist := ""
		if m.DistanceKm != nil {
			dist = FormatFloat(*m.DistanceKm)
		}
		return []string{strconv.Itoa(m.Cluster), lat, lon, dist}
	})
}

// FormatFloat renders v with the shortest exact representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func coordinateCells(c *geo.Coordinate) (lat, lon string) {
	if c == nil {
		return "", ""
	}
	return FormatFloat(c.Latitude), FormatFloat(c.Longitude)
}
