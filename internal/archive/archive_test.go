package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeZip(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	path := filepath.Join(dir, "upload.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip file: %v", err)
	}
	return path
}

func writeTarGz(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		hdr := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar entry %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	path := filepath.Join(dir, "upload.bin")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write tar.gz file: %v", err)
	}
	return path
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()

	zipPath := writeZip(t, filepath.Join(dir, "z"), map[string]string{"app/build.gradle": ""})
	tgzDir := filepath.Join(dir, "t")
	if err := os.MkdirAll(tgzDir, 0o755); err != nil {
		t.Fatal(err)
	}
	tgzPath := writeTarGz(t, tgzDir, map[string]string{"app/build.gradle": ""})
	textPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(textPath, []byte("just some text, definitely not an archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		want    Kind
		wantErr error
	}{
		{"zip content", zipPath, KindZip, nil},
		{"gzip content", tgzPath, KindTarGz, nil},
		{"plain text", textPath, KindUnknown, ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Detect() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectIgnoresExtension(t *testing.T) {
	dir := t.TempDir()
	// A .zip name lying about its content must still be rejected.
	path := filepath.Join(dir, "project.zip")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Detect(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Detect() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	src := writeZip(t, dir, map[string]string{
		"myapp/build.gradle":     "apply plugin: 'android'",
		"myapp/src/main/Main.kt": "fun main() {}",
	})

	dest := filepath.Join(dir, "extract")
	if err := Extract(src, dest); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dest, "myapp", "build.gradle"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(content) != "apply plugin: 'android'" {
		t.Fatalf("extracted content = %q", content)
	}
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	src := writeTarGz(t, dir, map[string]string{
		"myapp/settings.gradle": "rootProject.name = 'myapp'",
	})

	dest := filepath.Join(dir, "extract")
	if err := Extract(src, dest); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "myapp", "settings.gradle")); err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	src := writeZip(t, dir, map[string]string{
		"../escape.txt": "outside",
	})

	dest := filepath.Join(dir, "extract")
	if err := Extract(src, dest); err == nil {
		t.Fatal("Extract() accepted a path-traversal entry")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Fatal("traversal entry was written outside the extraction dir")
	}
}

func TestProjectDir(t *testing.T) {
	t.Run("single directory", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(dir, "myapp"), 0o755); err != nil {
			t.Fatal(err)
		}
		got, err := ProjectDir(dir)
		if err != nil {
			t.Fatalf("ProjectDir() error = %v", err)
		}
		if got != filepath.Join(dir, "myapp") {
			t.Fatalf("ProjectDir() = %q", got)
		}
	})

	t.Run("multiple directories picks first lexically", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"zulu", "alpha", "mike"} {
			if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
				t.Fatal(err)
			}
		}
		got, err := ProjectDir(dir)
		if err != nil {
			t.Fatalf("ProjectDir() error = %v", err)
		}
		if got != filepath.Join(dir, "alpha") {
			t.Fatalf("ProjectDir() = %q, want alpha", got)
		}
	})

	t.Run("files only", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ProjectDir(dir); !errors.Is(err, ErrProjectDirNotFound) {
			t.Fatalf("ProjectDir() error = %v, want ErrProjectDirNotFound", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := ProjectDir(t.TempDir()); !errors.Is(err, ErrProjectDirNotFound) {
			t.Fatalf("ProjectDir() error = %v, want ErrProjectDirNotFound", err)
		}
	})
}
