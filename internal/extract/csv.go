package extract

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// readCSVFile reads a CSV artifact, returning the header row and all data
// rows. skipRows banner lines above the header are discarded.
func readCSVFile(path string, skipRows int) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "extract: open csv")
	}
	defer f.Close() //nolint:errcheck

	return readCSV(f, skipRows)
}

func readCSV(r io.Reader, skipRows int) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // portals emit ragged rows; tolerate them
	reader.LazyQuotes = true

	var (
		header []string
		rows   [][]string
		n      int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "extract: read csv row")
		}

		if n < skipRows {
			n++
			continue
		}
		n++

		if header == nil {
			header = record
			continue
		}
		rows = append(rows, record)
	}

	return header, rows, nil
}
