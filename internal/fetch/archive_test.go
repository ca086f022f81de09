package fetch

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

// buildZip assembles an in-memory archive from name -> content.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func openZip(t *testing.T, b []byte) *zip.Reader {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSelectDataFilePrefersNonSidecar(t *testing.T) {
	b := buildZip(t, map[string]string{
		"12100163_MetaData.csv": "meta",
		"12100163.csv":          "data",
		"readme.txt":            "notes",
	})

	f, err := selectDataFile(openZip(t, b).File)
	if err != nil {
		t.Fatalf("selectDataFile: %v", err)
	}
	if f.Name != "12100163.csv" {
		t.Errorf("selected %q, want the non-sidecar csv", f.Name)
	}
}

func TestSelectDataFileSidecarOnlyFallsBack(t *testing.T) {
	b := buildZip(t, map[string]string{"12100163_MetaData.csv": "meta"})

	f, err := selectDataFile(openZip(t, b).File)
	if err != nil {
		t.Fatalf("selectDataFile: %v", err)
	}
	if f.Name != "12100163_MetaData.csv" {
		t.Errorf("selected %q, want the sidecar fallback", f.Name)
	}
}

func TestSelectDataFileErrors(t *testing.T) {
	t.Run("no csv", func(t *testing.T) {
		b := buildZip(t, map[string]string{"readme.txt": "notes"})
		if _, err := selectDataFile(openZip(t, b).File); !errors.Is(err, ErrNoDataFile) {
			t.Errorf("want ErrNoDataFile, got %v", err)
		}
	})
	t.Run("empty archive", func(t *testing.T) {
		b := buildZip(t, nil)
		if _, err := selectDataFile(openZip(t, b).File); !errors.Is(err, ErrNoDataFile) {
			t.Errorf("want ErrNoDataFile, got %v", err)
		}
	})
}

func TestSelectDataFileCaseInsensitiveExtension(t *testing.T) {
	b := buildZip(t, map[string]string{"TABLE.CSV": "data"})
	f, err := selectDataFile(openZip(t, b).File)
	if err != nil {
		t.Fatalf("selectDataFile: %v", err)
	}
	if f.Name != "TABLE.CSV" {
		t.Errorf("selected %q", f.Name)
	}
}

func TestCheckZipMagic(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.zip")
	os.WriteFile(good, buildZip(t, map[string]string{"a.csv": "x"}), 0o644)
	if err := checkZipMagic(good); err != nil {
		t.Errorf("real archive rejected: %v", err)
	}

	bad := filepath.Join(dir, "bad.zip")
	os.WriteFile(bad, []byte("<html><body>Service unavailable</body></html>"), 0o644)
	err := checkZipMagic(bad)
	if !errors.Is(err, ErrBadArchive) {
		t.Errorf("error payload must report ErrBadArchive, got %v", err)
	}
	if errors.Is(err, ErrSkipped) {
		t.Error("a disguised error payload is a failure, not a skip")
	}

	short := filepath.Join(dir, "short.zip")
	os.WriteFile(short, []byte("PK"), 0o644)
	if err := checkZipMagic(short); !errors.Is(err, ErrBadArchive) {
		t.Errorf("truncated file must report ErrBadArchive, got %v", err)
	}
}

func TestExtractFileFlattensPath(t *testing.T) {
	b := buildZip(t, map[string]string{"nested/dir/table.csv": "a,b\n1,2\n"})
	dir := t.TempDir()

	path, err := extractFile(openZip(t, b).File[0], dir)
	if err != nil {
		t.Fatalf("extractFile: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("extracted outside target dir: %q", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "a,b\n1,2\n" {
		t.Errorf("content = %q", content)
	}
}
