// Package extract parses downloaded portal artifacts into raw rows keyed by
// column name, validating each file's structure against the portal's declared
// contract before any row is produced.
package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Format identifies the on-disk layout of a retrieved artifact.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatXLSX   Format = "xlsx"
	FormatZipCSV Format = "zip+csv" // a ZIP archive wrapping a single CSV
)

// Contract declares what an artifact from a given portal and data kind must
// look like. RequiredColumns are matched case-insensitively against the
// header row; extra columns are tolerated, missing ones are not.
type Contract struct {
	Format          Format
	RequiredColumns []string
	SheetName       string // xlsx only; empty means first sheet
	SkipRows        int    // banner rows above the header
}

// Artifact is a file retrieved from a portal, paired with the contract the
// adapter promises it satisfies.
type Artifact struct {
	Portal   string
	Kind     string
	Path     string
	Contract Contract
}

// RawRow is one data row keyed by normalized column name. Pos is the
// 1-based position within the artifact (excluding the header), kept for
// error reporting downstream.
type RawRow struct {
	Pos    int
	Values map[string]string
}

// Get returns the value for a column, which may be empty if the cell was
// blank or the row was ragged.
func (r RawRow) Get(col string) string {
	return r.Values[normalizeHeader(col)]
}

// FormatMismatchError reports an artifact whose structure does not match
// its contract. It is raised before any row is extracted.
type FormatMismatchError struct {
	Portal  string
	Kind    string
	Missing []string
	Found   []string
	Reason  string
}

func (e *FormatMismatchError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("extract: %s/%s artifact missing required columns %v (found %v)",
			e.Portal, e.Kind, e.Missing, e.Found)
	}
	return fmt.Sprintf("extract: %s/%s artifact malformed: %s", e.Portal, e.Kind, e.Reason)
}

// Rows parses the artifact and returns every data row. The header is
// validated against the contract first; a violation returns a
// *FormatMismatchError and zero rows.
func Rows(a Artifact) ([]RawRow, error) {
	var (
		header []string
		cells  [][]string
		err    error
	)

	switch a.Contract.Format {
	case FormatCSV:
		header, cells, err = readCSVFile(a.Path, a.Contract.SkipRows)
	case FormatXLSX:
		header, cells, err = readXLSXFile(a.Path, a.Contract.SheetName, a.Contract.SkipRows)
	case FormatZipCSV:
		header, cells, err = readZippedCSV(a.Path, a.Contract.SkipRows)
	default:
		return nil, eris.Errorf("extract: unknown artifact format %q", a.Contract.Format)
	}
	if err != nil {
		return nil, err
	}

	cols, err := mapColumns(a, header)
	if err != nil {
		return nil, err
	}

	rows := make([]RawRow, 0, len(cells))
	for i, record := range cells {
		values := make(map[string]string, len(cols))
		for name, idx := range cols {
			if idx < len(record) {
				values[name] = strings.TrimSpace(record[idx])
			}
		}
		rows = append(rows, RawRow{Pos: i + 1, Values: values})
	}

	return rows, nil
}

// mapColumns builds a normalized name -> index map from the header row and
// verifies every required column is present.
func mapColumns(a Artifact, header []string) (map[string]int, error) {
	if len(header) == 0 {
		return nil, &FormatMismatchError{
			Portal: a.Portal,
			Kind:   a.Kind,
			Reason: "empty file, no header row",
		}
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := normalizeHeader(h)
		if name == "" {
			continue
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	var missing []string
	for _, want := range a.Contract.RequiredColumns {
		if _, ok := cols[normalizeHeader(want)]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		found := make([]string, 0, len(cols))
		for name := range cols {
			found = append(found, name)
		}
		sort.Strings(found)
		return nil, &FormatMismatchError{
			Portal:  a.Portal,
			Kind:    a.Kind,
			Missing: missing,
			Found:   found,
		}
	}

	return cols, nil
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
}
