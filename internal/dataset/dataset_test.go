package dataset

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/geocluster/pkg/geocode"
)

func writeTestFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestReadCSV_Basic(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("city, country ,postal_code,val\nKraków,Poland,30-001,3\nGdańsk,Poland,,\n"), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"city", "country", "postal_code", "val"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "Kraków", tbl.Value(0, ColumnCity))
	assert.Equal(t, "30-001", tbl.Value(0, ColumnPostalCode))
	assert.Equal(t, "", tbl.Value(1, "val"))
	assert.Equal(t, "", tbl.Value(1, "missing"))
}

func TestReadCSV_StripsBOMAndTrailingBlankRows(t *testing.T) {
	in := append([]byte{0xEF, 0xBB, 0xBF}, []byte("city\nOslo\n,\n\n")...)
	tbl, err := ReadCSV(bytes.NewReader(in), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"city"}, tbl.Columns)
	assert.Equal(t, [][]string{{"Oslo"}}, tbl.Rows)
}

func TestReadCSV_RaggedRows(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("city,country\nRome\nMilan,Italy,extra\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Rome", ""}, {"Milan", "Italy"}}, tbl.Rows)
}

func TestReadCSV_LegacyEncoding(t *testing.T) {
	enc, err := htmlindex.Get("windows-1250")
	require.NoError(t, err)
	raw, err := enc.NewEncoder().String("city\nŁódź\n")
	require.NoError(t, err)

	tbl, err := ReadCSV(strings.NewReader(raw), Options{Encoding: "windows-1250"})
	require.NoError(t, err)
	assert.Equal(t, "Łódź", tbl.Value(0, ColumnCity))
}

func TestReadCSV_UnknownEncoding(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("city\n"), Options{Encoding: "klingon"})
	assert.Error(t, err)
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), Options{})
	assert.Error(t, err)
}

func TestOpen_TSVByExtension(t *testing.T) {
	path := writeTestFile(t, "in.tsv", []byte("city\tcountry\nBern\tSwitzerland\n"))
	tbl, err := Open(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Switzerland", tbl.Value(0, ColumnCountry))
}

func TestOpen_Unsupported(t *testing.T) {
	path := writeTestFile(t, "in.parquet", []byte("x"))
	_, err := Open(path, Options{})
	assert.Error(t, err)
}

func TestXLSX_RoundTrip(t *testing.T) {
	src := New([]string{"city", "postal_code", "Lat"}, [][]string{
		{"Poznań", "61-001", "52.4"},
		{"Boston", "02134", "42.35"},
	})
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, SaveXLSX(path, []Sheet{
		{Name: "First", Table: src, Numeric: []string{"Lat"}},
		{Name: "Second", Table: New([]string{"city"}, [][]string{{"Kyiv"}})},
	}))

	tbl, err := Open(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, src.Columns, tbl.Columns)
	assert.Equal(t, "02134", tbl.Value(1, ColumnPostalCode))
	assert.Equal(t, "Poznań", tbl.Value(0, ColumnCity))

	second, err := ReadXLSX(path, Options{SheetName: "Second"})
	require.NoError(t, err)
	assert.Equal(t, "Kyiv", second.Value(0, ColumnCity))

	_, err = ReadXLSX(path, Options{SheetName: "Nope"})
	assert.Error(t, err)
	_, err = ReadXLSX(path, Options{SheetIndex: 5})
	assert.Error(t, err)
}

func TestWriteXLSX_ToBuffer(t *testing.T) {
	var buf bytes.Buffer
	long := strings.Repeat("x", 40)
	require.NoError(t, WriteXLSX(&buf, []Sheet{{Name: long, Table: New([]string{"city"}, [][]string{{"Riga"}})}}))

	tbl, err := ReadXLSXBytes(buf.Bytes(), Options{SheetName: long[:31]})
	require.NoError(t, err)
	assert.Equal(t, "Riga", tbl.Value(0, ColumnCity))
}

func TestWriteCSVAndTSV(t *testing.T) {
	tbl := New([]string{"city", "note"}, [][]string{{"Paris", "a,b"}})

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))
	assert.Equal(t, "city,note\nParis,\"a,b\"\n", buf.String())

	assert.Equal(t, "city\tnote\nParis\ta,b\n", TSV(tbl))
}

func TestQueries(t *testing.T) {
	tbl := New([]string{"city", "country", "postal_code"}, [][]string{
		{" Warsaw ", "Poland", "00-001"},
		{"Lyon", "", ""},
	})
	qs, err := tbl.Queries()
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, geocode.LocationQuery{City: "Warsaw", Country: "Poland", PostalCode: "00-001"}, qs[0])
	assert.Equal(t, "Lyon", qs[1].City)
}

func TestQueries_OptionalColumnsAbsent(t *testing.T) {
	qs, err := New([]string{"city"}, [][]string{{"Vienna"}}).Queries()
	require.NoError(t, err)
	assert.Equal(t, geocode.LocationQuery{City: "Vienna"}, qs[0])
}

func TestQueries_SchemaErrors(t *testing.T) {
	_, err := New([]string{"town"}, [][]string{{"Oslo"}}).Queries()
	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"city"}, se.Missing)
	assert.Contains(t, err.Error(), "missing required column city")

	_, err = New([]string{"city"}, [][]string{{"Oslo"}, {"  "}, {"Bergen"}, {""}}).Queries()
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []int{2, 4}, se.BlankRows)
	assert.Contains(t, err.Error(), "rows 2, 4")
}

func TestTable_Transforms(t *testing.T) {
	tbl := New([]string{"city", "val"}, [][]string{{"A", "1"}, {"B", "2"}})

	wide := tbl.WithColumns([]string{"Lat", "Lon"}, func(i int) []string {
		return []string{tbl.Rows[i][1] + ".5"}
	})
	assert.Equal(t, []string{"city", "val", "Lat", "Lon"}, wide.Columns)
	assert.Equal(t, []string{"A", "1", "1.5", ""}, wide.Rows[0])

	sel := wide.Select("Lat", "missing", "city")
	assert.Equal(t, []string{"Lat", "city"}, sel.Columns)
	assert.Equal(t, []string{"2.5", "B"}, sel.Rows[1])

	only := tbl.Filter(func(i int) bool { return i == 1 })
	assert.Equal(t, [][]string{{"B", "2"}}, only.Rows)
}

func TestTable_WithColumnsReplacesExisting(t *testing.T) {
	tbl := New([]string{"city", "Lat", "Source"}, [][]string{{"A", "", "Error"}})

	out := tbl.WithColumns([]string{"Lat", "Source"}, func(int) []string {
		return []string{"52.1", "API"}
	})
	assert.Equal(t, []string{"city", "Lat", "Source"}, out.Columns)
	assert.Equal(t, []string{"A", "52.1", "API"}, out.Rows[0])
	assert.Equal(t, "52.1", out.Value(0, "Lat"))
}

func TestTable_Without(t *testing.T) {
	tbl := New([]string{"city", "Lat", "val", "Lat"}, [][]string{{"A", "1", "x", "2"}})

	out := tbl.Without("Lat", "missing")
	assert.Equal(t, []string{"city", "val"}, out.Columns)
	assert.Equal(t, [][]string{{"A", "x"}}, out.Rows)
	assert.Equal(t, []string{"city", "Lat", "val", "Lat"}, tbl.Columns)
}
