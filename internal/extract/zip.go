package extract

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// readZippedCSV opens a ZIP archive that must contain exactly one CSV file
// and parses it in place without writing to disk.
func readZippedCSV(path string, skipRows int) ([]string, [][]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "extract: open zip archive")
	}
	defer r.Close() //nolint:errcheck

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	if len(files) != 1 {
		return nil, nil, eris.Errorf("extract: expected exactly 1 file in archive, got %d", len(files))
	}

	rc, err := files[0].Open()
	if err != nil {
		return nil, nil, eris.Wrap(err, "extract: open zip entry")
	}
	defer rc.Close() //nolint:errcheck

	return readCSV(rc, skipRows)
}

// UnzipSingle extracts the single file from a ZIP archive into destDir and
// returns its path. Used when a portal wraps a binary artifact in a ZIP.
func UnzipSingle(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "extract: open zip archive")
	}
	defer r.Close() //nolint:errcheck

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	if len(files) != 1 {
		return "", eris.Errorf("extract: expected exactly 1 file in archive, got %d", len(files))
	}
	f := files[0]

	// Sanitize against zip slip
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("extract: illegal path %q in archive", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "extract: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "extract: open zip entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "extract: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "extract: write file")
	}

	return destPath, nil
}
