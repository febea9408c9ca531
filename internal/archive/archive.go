// Package archive detects and expands uploaded source archives.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrUnsupportedFormat is returned when the file content does not
	// match any supported archive format.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrProjectDirNotFound is returned when the extracted archive
	// contains no top-level directory.
	ErrProjectDirNotFound = errors.New("project directory not found")
)

// Kind identifies a supported archive format.
type Kind int

const (
	KindUnknown Kind = iota
	KindZip
	KindTarGz
)

func (k Kind) String() string {
	switch k {
	case KindZip:
		return "zip"
	case KindTarGz:
		return "tar.gz"
	default:
		return "unknown"
	}
}

var (
	zipMagic  = []byte{0x50, 0x4b, 0x03, 0x04}
	gzipMagic = []byte{0x1f, 0x8b}
)

// Detect determines the archive kind by inspecting the file's leading
// bytes. The filename extension is deliberately ignored: uploads are
// not trusted to be named truthfully.
func Detect(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil && n < 2 {
		return KindUnknown, fmt.Errorf("%w: file too short", ErrUnsupportedFormat)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, zipMagic):
		return KindZip, nil
	case bytes.HasPrefix(header, gzipMagic):
		return KindTarGz, nil
	default:
		return KindUnknown, fmt.Errorf("%w: unrecognized magic bytes % x", ErrUnsupportedFormat, header)
	}
}

// Extract detects the archive format of src and expands it into dest.
// dest is created if missing.
func Extract(src, dest string) error {
	kind, err := Detect(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}

	switch kind {
	case KindZip:
		return extractZip(src, dest)
	case KindTarGz:
		return extractTarGz(src, dest)
	default:
		return ErrUnsupportedFormat
	}
}

// ProjectDir selects the project root inside an extraction directory:
// the first immediate subdirectory in lexical order. os.ReadDir sorts
// entries, so the choice is stable regardless of the backing
// filesystem's native listing order.
func ProjectDir(extractDir string) (string, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", fmt.Errorf("list extraction dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(extractDir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("%w: no top-level directory in %s", ErrProjectDirNotFound, extractDir)
}

func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := securePath(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create parent dir: %w", err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open archive entry %s: %w", f.Name, err)
		}
		err = writeFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent dir: %w", err)
			}
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		default:
			// Symlinks and special files are skipped: build sources
			// have no use for them and they are a traversal vector.
		}
	}
}

// securePath joins name under dest and rejects entries that would
// escape the extraction root.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes extraction dir: %s", name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm|0o600)
	if err != nil {
		return fmt.Errorf("create file %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write file %s: %w", target, err)
	}
	return out.Close()
}
