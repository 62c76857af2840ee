package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geocluster/internal/dataset"
	"github.com/sells-group/geocluster/internal/pipeline"
)

// sheetResolved names the single sheet of an XLSX written by resolve.
const sheetResolved = "Dane"

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Geocode every row of a CSV or XLSX file",
	Long:  "Reads rows with a city column (country and postal_code optional), resolves each through the cache or OpenCage and writes the input with Lat, Lon and Source appended.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")

		tbl, err := dataset.Open(input, inputOptions(cmd))
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "resolve", pipeline.WithProgress(newProgress()))
		if err != nil {
			return err
		}
		defer env.Close()

		b, err := env.Pipeline.Resolve(ctx, tbl)
		if err != nil {
			return eris.Wrap(err, "resolve")
		}

		if err := writeTable(output, b.Table()); err != nil {
			return err
		}
		zap.L().Info("resolve complete",
			zap.String("run_id", b.RunID),
			zap.Int("rows", len(b.Records)),
			zap.Int("unresolved", b.Unresolved()),
			zap.String("output", output),
		)
		return nil
	},
}

// inputOptions reads the shared input flags.
func inputOptions(cmd *cobra.Command) dataset.Options {
	enc, _ := cmd.Flags().GetString("encoding")
	sheet, _ := cmd.Flags().GetString("sheet")
	return dataset.Options{Encoding: enc, SheetName: sheet}
}

// writeTable writes tbl to path as CSV or XLSX by extension, or as CSV to
// stdout when path is empty.
func writeTable(path string, tbl *dataset.Table) error {
	if path == "" {
		return dataset.WriteCSV(os.Stdout, tbl)
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return dataset.SaveXLSX(path, []dataset.Sheet{{
			Name:    sheetResolved,
			Table:   tbl,
			Numeric: []string{pipeline.ColumnLat, pipeline.ColumnLon},
		}})
	}
	return writeFile(path, func(f *os.File) error { return dataset.WriteCSV(f, tbl) })
}

// writeFile creates path and hands it to write, closing it afterwards.
func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "write %s", path)
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("input", "", "input file (.csv, .tsv or .xlsx)")
	cmd.Flags().String("encoding", "", "CSV text encoding, e.g. windows-1250 (default UTF-8)")
	cmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	_ = cmd.MarkFlagRequired("input")
}

func init() {
	addInputFlags(resolveCmd)
	resolveCmd.Flags().String("output", "", "output file (.csv or .xlsx); CSV on stdout when empty")
	rootCmd.AddCommand(resolveCmd)
}
