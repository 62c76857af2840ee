// Package report turns a clustered batch into the summary, tables and export
// formats shown to operators.
package report

import (
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/cluster"
	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/geo"
	"github.com/sells-group/geocluster/internal/pipeline"
	"github.com/sells-group/geocluster/pkg/geocode"
)

// Optional passthrough columns carried into every clustered table.
const (
	ColumnCountryCode = "cntr"
	ColumnValue       = "val"
)

// Options tunes per-cluster statistics.
type Options struct {
	// H3Resolution is the H3 resolution of each centroid's cell (0-15).
	H3Resolution int
	// SumColumn names a numeric column summed per cluster. Ignored when the
	// input lacks it.
	SumColumn string
}

// DefaultOptions returns resolution 5 and a "val" sum column.
func DefaultOptions() Options {
	return Options{H3Resolution: 5, SumColumn: ColumnValue}
}

// Summary holds batch-level counts. NonClustered counts noise and unresolved
// rows together.
type Summary struct {
	RunID        string                 `json:"run_id" yaml:"run_id"`
	Total        int                    `json:"total" yaml:"total"`
	Clustered    int                    `json:"clustered" yaml:"clustered"`
	NonClustered int                    `json:"non_clustered" yaml:"non_clustered"`
	ClusterCount int                    `json:"cluster_count" yaml:"cluster_count"`
	Noise        int                    `json:"noise" yaml:"noise"`
	Unresolved   int                    `json:"unresolved" yaml:"unresolved"`
	Sources      map[geocode.Source]int `json:"sources" yaml:"sources"`
	Clusters     []ClusterStats         `json:"clusters" yaml:"clusters"`
}

// ClusterStats describes one cluster.
type ClusterStats struct {
	ID            int            `json:"id" yaml:"id"`
	PointCount    int            `json:"point_count" yaml:"point_count"`
	Centroid      geo.Coordinate `json:"centroid" yaml:"centroid"`
	MaxDistanceKm float64        `json:"max_distance_km" yaml:"max_distance_km"`
	H3Cell        string         `json:"h3_cell,omitempty" yaml:"h3_cell,omitempty"`
	BBox          *geo.BBox      `json:"bbox,omitempty" yaml:"bbox,omitempty"`
	// Sum is the total of the sum column over members, nil when the
	// column is absent.
	Sum *float64 `json:"sum,omitempty" yaml:"sum,omitempty"`
	// SumSkipped counts non-blank cells left out of Sum because they are not
	// numbers.
	SumSkipped int `json:"sum_skipped,omitempty" yaml:"sum_skipped,omitempty"`
}

// Report is everything derived from one clustered batch.
type Report struct {
	Summary Summary
	// Full is the input plus every resolution and clustering column.
	Full *dataset.Table
	// Clustered holds rows in a cluster, ordered by cluster then input row.
	Clustered *dataset.Table
	// PerCluster holds one table per cluster in Summary.Clusters order.
	PerCluster []*dataset.Table
	// NonClustered holds noise rows followed by unresolved rows.
	NonClustered *dataset.Table

	outcome *pipeline.Outcome
}

// Build derives the report of o.
func Build(o *pipeline.Outcome, opts Options) *Report {
	full := o.Table()
	r := &Report{
		Full:    full,
		outcome: o,
		Summary: Summary{
			RunID:        o.RunID,
			Total:        len(o.Records),
			ClusterCount: len(o.Result.Clusters),
			Noise:        o.Result.NoiseCount(),
			Unresolved:   len(o.Result.Dropped),
			Sources:      o.SourceCounts(),
		},
	}
	r.Summary.NonClustered = r.Summary.Noise + r.Summary.Unresolved
	r.Summary.Clustered = r.Summary.Total - r.Summary.NonClustered

	rowsByCluster := make(map[int][]int)
	for _, m := range o.Result.Members {
		if !m.Noise() {
			rowsByCluster[m.Cluster] = append(rowsByCluster[m.Cluster], m.ID)
		}
	}

	var clusteredRows []int
	for _, c := range o.Result.Clusters {
		rows := rowsByCluster[c.ID]
		sort.Ints(rows)
		clusteredRows = append(clusteredRows, rows...)
		r.Summary.Clusters = append(r.Summary.Clusters, clusterStats(o, c, rows, opts))
		r.PerCluster = append(r.PerCluster, project(full, rows, ClusterTableColumns(full)))
	}
	r.Clustered = project(full, clusteredRows, ClusteredTableColumns(full))

	var noise, unresolved []int
	for i := range o.Records {
		m, ok := o.Member(i)
		switch {
		case !ok:
			unresolved = append(unresolved, i)
		case m.Noise():
			noise = append(noise, i)
		}
	}
	r.NonClustered = project(full, append(noise, unresolved...), NonClusteredTableColumns())

	zap.L().Debug("report: built",
		zap.String("run_id", o.RunID),
		zap.Int("clusters", r.Summary.ClusterCount),
		zap.Int("noise", r.Summary.Noise),
	)
	return r
}

func clusterStats(o *pipeline.Outcome, c cluster.Summary, rows []int, opts Options) ClusterStats {
	cs := ClusterStats{
		ID:            c.ID,
		PointCount:    c.PointCount,
		Centroid:      c.Centroid,
		MaxDistanceKm: c.MaxDistanceKm,
	}

	if cell, err := geo.Cell(cs.Centroid, opts.H3Resolution); err == nil {
		cs.H3Cell = cell
	} else {
		zap.L().Warn("report: h3 cell", zap.Int("cluster", c.ID), zap.Error(err))
	}

	coords := make([]geo.Coordinate, 0, len(rows))
	for _, i := range rows {
		if m, ok := o.Member(i); ok {
			coords = append(coords, m.Coordinate)
		}
	}
	if b, ok := geo.Bounds(coords); ok {
		cs.BBox = &b
	}

	if opts.SumColumn != "" && o.Input.HasColumn(opts.SumColumn) {
		var sum float64
		for _, i := range rows {
			cell := strings.TrimSpace(o.Input.Value(i, opts.SumColumn))
			if cell == "" {
				continue
			}
			v, err := parseNumber(cell)
			if err != nil {
				cs.SumSkipped++
				zap.L().Debug("report: skipped non-numeric cell",
					zap.Int("cluster", c.ID),
					zap.Int("row", i+1),
					zap.String("column", opts.SumColumn),
					zap.String("value", cell),
				)
				continue
			}
			sum += v
		}
		cs.Sum = &sum
		if cs.SumSkipped > 0 {
			zap.L().Warn("report: cluster sum is partial",
				zap.Int("cluster", c.ID),
				zap.String("column", opts.SumColumn),
				zap.Int("skipped", cs.SumSkipped),
			)
		}
	}
	return cs
}

// parseNumber reads a spreadsheet number. Spaces group thousands; when both a
// comma and a point appear the later one is the decimal mark, and a lone
// comma is a decimal comma.
func parseNumber(s string) (float64, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, strings.TrimSpace(s))

	comma, point := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && point > comma:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0 && point >= 0:
		s = strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	}
	return strconv.ParseFloat(s, 64)
}

func project(full *dataset.Table, rows []int, columns []string) *dataset.Table {
	ordered := &dataset.Table{Columns: full.Columns, Rows: make([][]string, 0, len(rows))}
	for _, i := range rows {
		ordered.Rows = append(ordered.Rows, full.Rows[i])
	}
	return ordered.Select(columns...)
}

// ClusteredTableColumns lists the columns of the clustered-rows table.
func ClusteredTableColumns(full *dataset.Table) []string {
	return append([]string{pipeline.ColumnCluster}, ClusterTableColumns(full)...)
}

// ClusterTableColumns lists the columns of a single cluster's table.
func ClusterTableColumns(full *dataset.Table) []string {
	cols := []string{
		dataset.ColumnCity,
		pipeline.ColumnLat,
		pipeline.ColumnLon,
		pipeline.ColumnDistance,
		pipeline.ColumnCentroidLat,
		pipeline.ColumnCentroidLon,
		pipeline.ColumnSource,
	}
	for _, c := range []string{ColumnCountryCode, ColumnValue} {
		if full.HasColumn(c) {
			cols = append(cols, c)
		}
	}
	return cols
}

// NonClusteredTableColumns lists the columns of the non-clustered table.
func NonClusteredTableColumns() []string {
	return []string{dataset.ColumnCity, pipeline.ColumnLat, pipeline.ColumnLon, pipeline.ColumnSource}
}
