package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/pipeline"
	"github.com/sells-group/geocluster/internal/report"
	"github.com/sells-group/geocluster/pkg/geocode"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Geocode a file and group the locations into spatial clusters",
	Long: "Resolves the input (or reuses its Lat/Lon columns with --resolved), runs HDBSCAN under haversine distance " +
		"and prints a summary. Optional exports: CSV and TSV of clustered rows, an XLSX workbook, and GeoJSON.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		resolved, _ := cmd.Flags().GetBool("resolved")
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		if cmd.Flags().Changed("min-cluster-size") {
			cfg.Cluster.MinClusterSize, _ = cmd.Flags().GetInt("min-cluster-size")
		}
		if cmd.Flags().Changed("min-samples") {
			cfg.Cluster.MinSamples, _ = cmd.Flags().GetInt("min-samples")
		}
		if cmd.Flags().Changed("epsilon-km") {
			cfg.Cluster.SelectionEpsilonKm, _ = cmd.Flags().GetFloat64("epsilon-km")
		}

		tbl, err := dataset.Open(input, inputOptions(cmd))
		if err != nil {
			return err
		}

		var b *pipeline.Batch
		if resolved {
			if err := cfg.Cluster.Options().Validate(); err != nil {
				return err
			}
			b, err = pipeline.FromResolvedTable(tbl, uuid.NewString())
			if err != nil {
				return eris.Wrap(err, "cluster")
			}
		} else {
			env, err := initEnv(ctx, "cluster", pipeline.WithProgress(newProgress()))
			if err != nil {
				return err
			}
			defer env.Close()

			b, err = env.Pipeline.Resolve(ctx, tbl)
			if err != nil {
				return eris.Wrap(err, "cluster")
			}
		}

		out, err := b.Cluster(cfg.Cluster.Options())
		if err != nil {
			return err
		}
		rep := report.Build(out, reportOptions(cfg.Cluster))

		if err := writeExports(cmd, rep); err != nil {
			return err
		}

		zap.L().Info("cluster complete",
			zap.String("run_id", rep.Summary.RunID),
			zap.Int("clusters", rep.Summary.ClusterCount),
			zap.Int("noise", rep.Summary.Noise),
			zap.Int("unresolved", rep.Summary.Unresolved),
		)
		return writeSummary(os.Stdout, rep.Summary, format)
	},
}

// writeExports writes every export whose flag is set.
func writeExports(cmd *cobra.Command, rep *report.Report) error {
	exports := []struct {
		flag  string
		write func(w io.Writer) error
	}{
		{"csv", rep.WriteCSV},
		{"xlsx", rep.WriteXLSX},
		{"geojson", rep.WriteGeoJSON},
		{"tsv", func(w io.Writer) error {
			_, err := io.WriteString(w, rep.ClipboardText())
			return err
		}},
	}
	for _, e := range exports {
		path, _ := cmd.Flags().GetString(e.flag)
		if path == "" {
			continue
		}
		if path == "-" {
			if err := e.write(os.Stdout); err != nil {
				return eris.Wrapf(err, "write %s", e.flag)
			}
			continue
		}
		if err := writeFile(path, func(f *os.File) error { return e.write(f) }); err != nil {
			return err
		}
		zap.L().Info("export written", zap.String("format", e.flag), zap.String("path", path))
	}
	return nil
}

func checkFormat(format string) error {
	switch format {
	case "table", "json", "yaml":
		return nil
	}
	return eris.Errorf("unknown format %q (want table, json or yaml)", format)
}

// writeSummary renders s in the requested format.
func writeSummary(out io.Writer, s report.Summary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		formatSummary(out, s)
		return nil
	}
}

// formatSummary writes the counts and a per-cluster table to w.
func formatSummary(out io.Writer, s report.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", s.RunID)
	_, _ = fmt.Fprintf(w, "Total locations:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Clustered locations:\t%d\n", s.Clustered)
	_, _ = fmt.Fprintf(w, "Non-clustered locations:\t%d\n", s.NonClustered)
	_, _ = fmt.Fprintf(w, "  Noise:\t%d\n", s.Noise)
	_, _ = fmt.Fprintf(w, "  Unresolved:\t%d\n", s.Unresolved)
	_, _ = fmt.Fprintf(w, "Number of clusters:\t%d\n", s.ClusterCount)
	for _, src := range geocode.Sources() {
		if n := s.Sources[src]; n > 0 {
			_, _ = fmt.Fprintf(w, "Source %s:\t%d\n", src, n)
		}
	}
	_ = w.Flush()

	if len(s.Clusters) == 0 {
		return
	}

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLUSTER\tPOINTS\tCENTROID\tMAX_KM\tH3\tSUM")
	_, _ = fmt.Fprintln(w, "-------\t------\t--------\t------\t--\t---")
	for _, c := range s.Clusters {
		sum := ""
		if c.Sum != nil {
			sum = pipeline.FormatFloat(*c.Sum)
		}
		if c.SumSkipped > 0 {
			sum += fmt.Sprintf(" (%d skipped)", c.SumSkipped)
		}
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%.2f\t%s\t%s\n",
			c.ID,
			c.PointCount,
			c.Centroid,
			c.MaxDistanceKm,
			c.H3Cell,
			sum,
		)
	}
	_ = w.Flush()
}

func init() {
	addInputFlags(clusterCmd)
	clusterCmd.Flags().Bool("resolved", false, "input already has Lat/Lon columns; skip geocoding")
	clusterCmd.Flags().Int("min-cluster-size", 5, "smallest group reported as a cluster (>= 2)")
	clusterCmd.Flags().Int("min-samples", 5, "neighbours defining a point's core distance (>= 1)")
	clusterCmd.Flags().Float64("epsilon-km", 5, "clusters closer than this merge; 0 disables")
	clusterCmd.Flags().String("csv", "", "write clustered rows as CSV (- for stdout)")
	clusterCmd.Flags().String("xlsx", "", "write the full workbook as XLSX")
	clusterCmd.Flags().String("geojson", "", "write resolved points and centroids as GeoJSON")
	clusterCmd.Flags().String("tsv", "", "write clustered rows as tab-separated text for pasting (- for stdout)")
	clusterCmd.Flags().String("format", "table", "summary format: table, json or yaml")
	rootCmd.AddCommand(clusterCmd)
}
