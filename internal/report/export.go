package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/pipeline"
)

// Worksheet names of the exported workbook.
const (
	SheetSummary      = "Podsumowanie"
	SheetClusterStats = "Klastry"
	SheetClustered    = "Sklasteryzowane Miasta"
	SheetNonClustered = "Niesklasteryzowane Miasta"
)

// ClusterSheetName names the worksheet of cluster id.
func ClusterSheetName(id int) string {
	return fmt.Sprintf("Klaster %d", id)
}

var numericColumns = []string{
	pipeline.ColumnCluster,
	pipeline.ColumnLat,
	pipeline.ColumnLon,
	pipeline.ColumnCentroidLat,
	pipeline.ColumnCentroidLon,
	pipeline.ColumnDistance,
	ColumnValue,
	"Total Locations",
	"Clustered Locations",
	"Non-Clustered Locations",
	"Number of Clusters",
	"Points",
	"Max Distance (km)",
	"Sum",
}

// SummaryTable renders the batch counts as a one-row table.
func (r *Report) SummaryTable() *dataset.Table {
	s := r.Summary
	return dataset.New(
		[]string{"Total Locations", "Clustered Locations", "Non-Clustered Locations", "Number of Clusters"},
		[][]string{{
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Clustered),
			strconv.Itoa(s.NonClustered),
			strconv.Itoa(s.ClusterCount),
		}},
	)
}

// ClusterStatsTable renders one row per cluster.
func (r *Report) ClusterStatsTable() *dataset.Table {
	cols := []string{pipeline.ColumnCluster, "Points", pipeline.ColumnCentroidLat, pipeline.ColumnCentroidLon, "Max Distance (km)", "H3", "Sum"}
	rows := make([][]string, 0, len(r.Summary.Clusters))
	for _, c := range r.Summary.Clusters {
		sum := ""
		if c.Sum != nil {
			sum = pipeline.FormatFloat(*c.Sum)
		}
		rows = append(rows, []string{
			strconv.Itoa(c.ID),
			strconv.Itoa(c.PointCount),
			pipeline.FormatFloat(c.Centroid.Latitude),
			pipeline.FormatFloat(c.Centroid.Longitude),
			pipeline.FormatFloat(c.MaxDistanceKm),
			c.H3Cell,
			sum,
		})
	}
	return dataset.New(cols, rows)
}

// Sheets lays out the workbook: summary, cluster stats, all clustered rows,
// one sheet per cluster, then the non-clustered rows.
func (r *Report) Sheets() []dataset.Sheet {
	sheets := []dataset.Sheet{
		{Name: SheetSummary, Table: r.SummaryTable(), Numeric: numericColumns},
		{Name: SheetClusterStats, Table: r.ClusterStatsTable(), Numeric: numericColumns},
		{Name: SheetClustered, Table: r.Clustered, Numeric: numericColumns},
	}
	for i, c := range r.Summary.Clusters {
		sheets = append(sheets, dataset.Sheet{Name: ClusterSheetName(c.ID), Table: r.PerCluster[i], Numeric: numericColumns})
	}
	return append(sheets, dataset.Sheet{Name: SheetNonClustered, Table: r.NonClustered, Numeric: numericColumns})
}

// WriteXLSX writes the workbook to w.
func (r *Report) WriteXLSX(w io.Writer) error {
	return dataset.WriteXLSX(w, r.Sheets())
}

// WriteCSV writes the clustered rows as CSV.
func (r *Report) WriteCSV(w io.Writer) error {
	return dataset.WriteCSV(w, r.Clustered)
}

// ClipboardText returns the clustered rows as tab-separated text ready to
// paste into a spreadsheet.
func (r *Report) ClipboardText() string {
	return dataset.TSV(r.Clustered)
}

// FeatureCollection returns every resolved row as a GeoJSON point plus one
// point per cluster centroid.
func (r *Report) FeatureCollection() *geojson.FeatureCollection {
	o := r.outcome
	fc := &geojson.FeatureCollection{}
	for _, m := range o.Result.Members {
		props := map[string]any{
			"kind":    "location",
			"row":     m.ID + 1,
			"city":    o.Records[m.ID].Query.City,
			"source":  string(o.Records[m.ID].Source),
			"cluster": m.Cluster,
		}
		if m.DistanceKm != nil {
			props["distance_km"] = *m.DistanceKm
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         strconv.Itoa(m.ID + 1),
			Geometry:   geom.NewPointFlat(geom.XY, []float64{m.Coordinate.Longitude, m.Coordinate.Latitude}),
			Properties: props,
		})
	}
	for _, c := range r.Summary.Clusters {
		props := map[string]any{
			"kind":            "centroid",
			"cluster":         c.ID,
			"point_count":     c.PointCount,
			"max_distance_km": c.MaxDistanceKm,
		}
		if c.H3Cell != "" {
			props["h3"] = c.H3Cell
		}
		if c.Sum != nil {
			props["sum"] = *c.Sum
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         "centroid-" + strconv.Itoa(c.ID),
			Geometry:   geom.NewPointFlat(geom.XY, []float64{c.Centroid.Longitude, c.Centroid.Latitude}),
			Properties: props,
		})
	}
	return fc
}

// WriteGeoJSON encodes FeatureCollection to w.
func (r *Report) WriteGeoJSON(w io.Writer) error {
	b, err := json.Marshal(r.FeatureCollection())
	if err != nil {
		return eris.Wrap(err, "report: encode geojson")
	}
	_, err = w.Write(b)
	return eris.Wrap(err, "report: write geojson")
}
