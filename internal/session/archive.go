package session

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ArchiveDir packs a directory tree (a browser profile) into gzipped tar
// bytes suitable for Material.Data.
func ArchiveDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck

		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "session: archive %s", dir)
	}

	if err := tw.Close(); err != nil {
		return nil, eris.Wrap(err, "session: close tar writer")
	}
	if err := gw.Close(); err != nil {
		return nil, eris.Wrap(err, "session: close gzip writer")
	}
	return buf.Bytes(), nil
}

// UnpackDir extracts archived material into destDir, which must exist.
func UnpackDir(data []byte, destDir string) error {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return eris.Wrap(err, "session: open gzip reader")
	}
	defer gr.Close() //nolint:errcheck

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "session: read tar entry")
		}

		// Sanitize against path traversal
		destPath := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
			return eris.Errorf("session: illegal archive path %q", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return eris.Wrap(err, "session: create directory")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return eris.Wrap(err, "session: create parent directory")
			}
			out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return eris.Wrap(err, "session: create file")
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close() //nolint:errcheck
				return eris.Wrap(err, "session: write file")
			}
			if err := out.Close(); err != nil {
				return eris.Wrap(err, "session: close file")
			}
		}
	}
}
