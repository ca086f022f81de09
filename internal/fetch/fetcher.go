// Package fetch materializes one remote table: resolve the download
// handle, stream the archive to disk under size ceilings, pick the data
// file out of the archive and hand it to the converter. Oversized
// tables are skips, not failures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/statmirror/statmirror/internal/catalog"
	"github.com/statmirror/statmirror/internal/logging"
)

// Classification sentinels. ErrSkipped marks deliberate size-ceiling
// skips; the others are real failures.
var (
	ErrSkipped    = errors.New("skipped")
	ErrBadArchive = errors.New("not a zip archive")
	ErrNoDataFile = errors.New("no data file in archive")
)

const (
	downloadChunkSize = 1 << 20 // 1 MiB

	userAgent = "Mozilla/5.0"
)

// URLResolver resolves a product ID to its archive URL.
type URLResolver interface {
	DownloadURL(ctx context.Context, productID int64) (string, error)
}

// Converter turns an extracted CSV file into a parquet file.
type Converter interface {
	Convert(ctx context.Context, inputCSV, outputParquet string) error
}

// Config bounds what a single fetch may cost.
type Config struct {
	// MaxDownloadMB skips archives whose advertised size exceeds this.
	MaxDownloadMB int64
	// MaxUncompressedMB skips data files whose uncompressed size
	// exceeds this. Checked before extraction.
	MaxUncompressedMB int64
	// DataDir is the local root for converted output.
	DataDir string
	// TempDir holds in-flight downloads. Empty means the OS default.
	TempDir string
}

// Result describes one materialized table.
type Result struct {
	// SizeMB is the converted parquet size in decimal megabytes.
	SizeMB float64
	// FilePath is relative to DataDir: "{folder}/{productId}.parquet".
	FilePath string
	// LocalPath is the absolute path of the parquet file.
	LocalPath string
}

// Fetcher downloads and converts remote tables.
type Fetcher struct {
	resolver  URLResolver
	converter Converter
	http      *http.Client
	cfg       Config
	log       *slog.Logger
}

// New creates a fetcher. Request deadlines come from the caller's
// context; downloads of large archives can legitimately run for
// minutes.
func New(resolver URLResolver, converter Converter, cfg Config) *Fetcher {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Fetcher{
		resolver:  resolver,
		converter: converter,
		http:      &http.Client{},
		cfg:       cfg,
		log:       logging.Component("fetch"),
	}
}

// Fetch materializes one table end to end. Every temp artifact is
// removed on every return path; only the final parquet file survives.
func (f *Fetcher) Fetch(ctx context.Context, productID int64, title string) (Result, error) {
	log := f.log.With("product_id", productID, "title", DisplayTitle(productID, title))

	url, err := f.resolver.DownloadURL(ctx, productID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve download: %w", err)
	}

	totalSize, err := f.probeSize(ctx, url)
	if err != nil {
		return Result{}, err
	}
	if totalSize > f.cfg.MaxDownloadMB*1e6 {
		return Result{}, fmt.Errorf("%w: archive %.0fMB exceeds %dMB download ceiling",
			ErrSkipped, float64(totalSize)/1e6, f.cfg.MaxDownloadMB)
	}

	archivePath, err := f.download(ctx, log, url, totalSize)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(archivePath)

	if err := checkZipMagic(archivePath); err != nil {
		return Result{}, err
	}

	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return Result{}, fmt.Errorf("open archive: %w", err)
	}
	defer archive.Close()

	dataFile, err := selectDataFile(archive.File)
	if err != nil {
		return Result{}, err
	}
	if size := int64(dataFile.UncompressedSize64); size > f.cfg.MaxUncompressedMB*1e6 {
		return Result{}, fmt.Errorf("%w: data file %.0fMB uncompressed exceeds %dMB ceiling",
			ErrSkipped, float64(size)/1e6, f.cfg.MaxUncompressedMB)
	}

	extractDir, err := os.MkdirTemp(f.cfg.TempDir, "extract-")
	if err != nil {
		return Result{}, fmt.Errorf("create extract dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	csvPath, err := extractFile(dataFile, extractDir)
	if err != nil {
		return Result{}, err
	}

	folder := catalog.FolderName(productID, title)
	outDir := filepath.Join(f.cfg.DataDir, folder)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	outFile := filepath.Join(outDir, fmt.Sprintf("%d.parquet", productID))

	log.Info("converting to parquet", "csv", dataFile.Name)
	if err := f.converter.Convert(ctx, csvPath, outFile); err != nil {
		os.Remove(outFile)
		return Result{}, err
	}

	st, err := os.Stat(outFile)
	if err != nil {
		return Result{}, fmt.Errorf("stat output: %w", err)
	}

	sizeMB := float64(st.Size()) / 1e6
	log.Info("dataset materialized", "size_mb", fmt.Sprintf("%.1f", sizeMB))
	return Result{
		SizeMB:    sizeMB,
		FilePath:  filepath.ToSlash(filepath.Join(folder, fmt.Sprintf("%d.parquet", productID))),
		LocalPath: outFile,
	}, nil
}

// probeSize asks for the archive's advertised size. A missing or
// unparseable Content-Length reports zero, which never trips the
// ceiling; the uncompressed check still applies after download.
func (f *Fetcher) probeSize(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("probe archive: http %d", resp.StatusCode)
	}
	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return size, nil
}

// download streams the archive to a unique temp file in 1 MiB chunks,
// logging progress at each crossed decile.
func (f *Fetcher) download(ctx context.Context, log *slog.Logger, url string, totalSize int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download archive: http %d", resp.StatusCode)
	}

	tmp, err := os.Create(filepath.Join(f.cfg.TempDir, uuid.NewString()+".zip"))
	if err != nil {
		return "", fmt.Errorf("create temp archive: %w", err)
	}

	buf := make([]byte, downloadChunkSize)
	var downloaded int64
	lastPct := -1
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				tmp.Close()
				os.Remove(tmp.Name())
				return "", fmt.Errorf("write temp archive: %w", err)
			}
			downloaded += int64(n)
			if totalSize > 0 {
				pct := int(100 * downloaded / totalSize)
				if pct >= lastPct+10 {
					log.Info("downloading",
						"downloaded_mb", downloaded/1e6,
						"total_mb", totalSize/1e6,
						"pct", pct)
					lastPct = pct
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", fmt.Errorf("download archive: %w", readErr)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close temp archive: %w", err)
	}
	return tmp.Name(), nil
}

// DisplayTitle formats a dataset for log output, truncating long
// titles.
func DisplayTitle(productID int64, title string) string {
	const maxLen = 50
	if r := []rune(title); len(r) > maxLen {
		title = string(r[:maxLen]) + "..."
	}
	return fmt.Sprintf("[%d] %s", productID, title)
}
