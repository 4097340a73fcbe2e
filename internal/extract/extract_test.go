package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRows_CSV(t *testing.T) {
	path := writeCSV(t, "SKU,Units Sold,Revenue\nA-1,5,100.50\nA-2,3,60\n")

	rows, err := Rows(Artifact{
		Portal: "meridian",
		Kind:   "sales",
		Path:   path,
		Contract: Contract{
			Format:          FormatCSV,
			RequiredColumns: []string{"sku", "units sold", "revenue"},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 1, rows[0].Pos)
	assert.Equal(t, "A-1", rows[0].Get("SKU"))
	assert.Equal(t, "100.50", rows[0].Get("revenue"))
	assert.Equal(t, "3", rows[1].Get("Units Sold"))
}

func TestRows_CSVWithByteOrderMark(t *testing.T) {
	path := writeCSV(t, "\uFEFFSKU,Units Sold\nA-1,5\n")

	rows, err := Rows(Artifact{
		Portal: "meridian",
		Kind:   "sales",
		Path:   path,
		Contract: Contract{
			Format:          FormatCSV,
			RequiredColumns: []string{"sku", "units sold"},
		},
	})
	require.NoError(t, err, "a leading BOM must not break header matching")
	require.Len(t, rows, 1)
	assert.Equal(t, "A-1", rows[0].Get("sku"))
}

func TestRows_MissingColumnFailsBeforeAnyRow(t *testing.T) {
	path := writeCSV(t, "SKU,Units Sold\nA-1,5\n")

	rows, err := Rows(Artifact{
		Portal: "meridian",
		Kind:   "sales",
		Path:   path,
		Contract: Contract{
			Format:          FormatCSV,
			RequiredColumns: []string{"sku", "units sold", "revenue"},
		},
	})
	require.Error(t, err)
	assert.Nil(t, rows)

	var fme *FormatMismatchError
	require.ErrorAs(t, err, &fme)
	assert.Equal(t, []string{"revenue"}, fme.Missing)
	assert.Contains(t, fme.Found, "sku")
}

func TestRows_EmptyFile(t *testing.T) {
	path := writeCSV(t, "")

	_, err := Rows(Artifact{
		Portal:   "meridian",
		Kind:     "sales",
		Path:     path,
		Contract: Contract{Format: FormatCSV, RequiredColumns: []string{"sku"}},
	})
	var fme *FormatMismatchError
	require.ErrorAs(t, err, &fme)
	assert.Contains(t, fme.Error(), "no header row")
}

func TestRows_SkipBannerRows(t *testing.T) {
	path := writeCSV(t, "Export generated 2026-02-01\nSKU,Units\nA-1,5\n")

	rows, err := Rows(Artifact{
		Portal: "cartwheel",
		Kind:   "sales",
		Path:   path,
		Contract: Contract{
			Format:          FormatCSV,
			RequiredColumns: []string{"sku", "units"},
			SkipRows:        1,
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A-1", rows[0].Get("sku"))
}

func TestRows_RaggedRowTolerated(t *testing.T) {
	path := writeCSV(t, "SKU,Units,Revenue\nA-1,5\n")

	rows, err := Rows(Artifact{
		Portal: "meridian",
		Kind:   "sales",
		Path:   path,
		Contract: Contract{
			Format:          FormatCSV,
			RequiredColumns: []string{"sku", "units", "revenue"},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "5", rows[0].Get("units"))
	assert.Equal(t, "", rows[0].Get("revenue"))
}

func TestRows_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Report")
	require.NoError(t, err)

	hdr := sheet.AddRow()
	for _, c := range []string{"Item Code", "On Hand", "Reserved"} {
		hdr.AddCell().SetString(c)
	}
	row := sheet.AddRow()
	row.AddCell().SetString("B-9")
	row.AddCell().SetString("12")
	row.AddCell().SetString("2")

	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, f.Save(path))

	rows, err := Rows(Artifact{
		Portal: "vendora",
		Kind:   "inventory",
		Path:   path,
		Contract: Contract{
			Format:          FormatXLSX,
			RequiredColumns: []string{"item code", "on hand", "reserved"},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "B-9", rows[0].Get("Item Code"))
	assert.Equal(t, "12", rows[0].Get("on hand"))
}

func TestRows_XLSX_SheetNotFound(t *testing.T) {
	f := xlsx.NewFile()
	_, err := f.AddSheet("Data")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, f.Save(path))

	_, err = Rows(Artifact{
		Portal:   "vendora",
		Kind:     "inventory",
		Path:     path,
		Contract: Contract{Format: FormatXLSX, SheetName: "Missing"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.zip")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())
	return path
}

func TestRows_ZippedCSV(t *testing.T) {
	path := writeZip(t, map[string]string{
		"report.csv": "SKU,Units\nC-3,7\n",
	})

	rows, err := Rows(Artifact{
		Portal: "lumina",
		Kind:   "sales",
		Path:   path,
		Contract: Contract{
			Format:          FormatZipCSV,
			RequiredColumns: []string{"sku", "units"},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "C-3", rows[0].Get("sku"))
}

func TestRows_ZippedCSV_MultipleEntries(t *testing.T) {
	path := writeZip(t, map[string]string{
		"a.csv": "x\n",
		"b.csv": "y\n",
	})

	_, err := Rows(Artifact{
		Portal:   "lumina",
		Kind:     "sales",
		Path:     path,
		Contract: Contract{Format: FormatZipCSV},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly 1 file")
}

func TestUnzipSingle(t *testing.T) {
	path := writeZip(t, map[string]string{"report.xlsx": "binary"})

	dest := t.TempDir()
	got, err := UnzipSingle(path, dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "report.xlsx"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestUnzipSingle_ZipSlip(t *testing.T) {
	path := writeZip(t, map[string]string{"../evil": "x"})

	_, err := UnzipSingle(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal path")
}

func TestRows_UnknownFormat(t *testing.T) {
	_, err := Rows(Artifact{Contract: Contract{Format: "parquet"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown artifact format")
}
