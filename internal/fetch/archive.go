package fetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// checkZipMagic verifies the local-file-header signature. The remote
// service sometimes answers a download URL with an HTML or JSON error
// payload and a 200 status, which only this check catches.
func checkZipMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return fmt.Errorf("%w: file too short to be an archive", ErrBadArchive)
	}
	if magic[0] != 'P' || magic[1] != 'K' {
		return fmt.Errorf("%w: leading bytes %q look like an error payload", ErrBadArchive, magic[:])
	}
	return nil
}

// selectDataFile picks the CSV to convert out of the archive members.
// Archives ship the table alongside a "MetaData" sidecar; the sidecar
// is only chosen when nothing else qualifies.
func selectDataFile(files []*zip.File) (*zip.File, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: archive is empty", ErrNoDataFile)
	}

	var candidates []*zip.File
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		var names []string
		for _, f := range files {
			names = append(names, f.Name)
		}
		return nil, fmt.Errorf("%w: archive contains %v", ErrNoDataFile, names)
	}

	for _, f := range candidates {
		if !strings.Contains(filepath.Base(f.Name), "MetaData") {
			return f, nil
		}
	}
	return candidates[0], nil
}

// extractFile decompresses one archive member into dir and returns the
// extracted path. Member paths are flattened to their base name, which
// also defuses any traversal in the archive.
func extractFile(f *zip.File, dir string) (string, error) {
	src, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open archive member %s: %w", f.Name, err)
	}
	defer src.Close()

	dstPath := filepath.Join(dir, filepath.Base(f.Name))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create extracted file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return dstPath, nil
}
