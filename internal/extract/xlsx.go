package extract

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// readXLSXFile reads an XLSX artifact, returning the header row and all
// data rows as strings. sheetName empty means the first sheet.
func readXLSXFile(path, sheetName string, skipRows int) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "extract: open xlsx")
	}

	sheet, err := getSheet(f, sheetName)
	if err != nil {
		return nil, nil, err
	}

	var (
		header []string
		rows   [][]string
	)
	for i, row := range sheet.Rows {
		if i < skipRows {
			continue
		}

		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}

		if header == nil {
			header = cells
			continue
		}
		rows = append(rows, cells)
	}

	return header, rows, nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("extract: sheet %q not found", name)
		}
		return sheet, nil
	}

	if len(f.Sheets) == 0 {
		return nil, eris.New("extract: workbook has no sheets")
	}
	return f.Sheets[0], nil
}
