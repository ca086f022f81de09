// Package store persists the mirror's state in an object store: the
// converted data files under per-dataset folders, the catalog snapshot
// and the last run's manifest. The folder listing is the ground truth
// that availability and dedup decisions derive from.
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // local driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"

	"github.com/parquet-go/parquet-go"

	"github.com/statmirror/statmirror/internal/catalog"
	"github.com/statmirror/statmirror/internal/ingest"
	"github.com/statmirror/statmirror/internal/logging"
	"github.com/statmirror/statmirror/internal/metrics"
)

// Config selects and parameterizes the storage backend.
type Config struct {
	Backend   string `yaml:"backend"` // "local" | "s3" | "gcs"
	Bucket    string `yaml:"bucket"`
	LocalPath string `yaml:"local_path"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`   // custom S3 endpoint (MinIO etc.)
	PathStyle bool   `yaml:"path_style"` // force path-style S3 addressing
}

// Store wraps a blob bucket with the mirror's key layout. All keys live
// under "{source}/": data folders under "{source}/data/{folder}/", the
// catalog under the fixed catalog folder, the manifest beside the data.
type Store struct {
	bucket *blob.Bucket
	source string
	log    *slog.Logger
}

const (
	// CatalogFolder is the reserved folder name for the catalog
	// snapshot. Never a dataset folder.
	CatalogFolder = "catalog"

	catalogFile  = "catalog_enhanced.parquet"
	manifestFile = "ingested.parquet"
)

// Open opens the configured backend.
func Open(ctx context.Context, cfg Config, source string) (*Store, error) {
	bucketURL, err := bucketURL(cfg)
	if err != nil {
		return nil, err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewWithBucket(bucket, source), nil
}

// NewWithBucket wraps an already opened bucket. Tests use this with
// memblob.
func NewWithBucket(bucket *blob.Bucket, source string) *Store {
	return &Store{
		bucket: bucket,
		source: source,
		log:    logging.Component("store"),
	}
}

func bucketURL(cfg Config) (string, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalPath == "" {
			return "", fmt.Errorf("local backend requires local_path")
		}
		return "file://" + cfg.LocalPath + "?create_dir=true", nil
	case "s3":
		q := url.Values{}
		if cfg.Region != "" {
			q.Set("region", cfg.Region)
		}
		if cfg.Endpoint != "" {
			q.Set("endpoint", cfg.Endpoint)
		}
		if cfg.PathStyle {
			q.Set("s3ForcePathStyle", "true")
		}
		u := "s3://" + cfg.Bucket
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		return u, nil
	case "gcs":
		return "gs://" + cfg.Bucket, nil
	default:
		return "", fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Close releases the underlying bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

// Source returns the source prefix this store is scoped to.
func (s *Store) Source() string {
	return s.source
}

func (s *Store) dataPrefix() string {
	return s.source + "/data/"
}

func (s *Store) catalogKey() string {
	return s.dataPrefix() + CatalogFolder + "/" + catalogFile
}

func (s *Store) manifestKey() string {
	return s.source + "/" + manifestFile
}

// ExistingFolders lists the dataset folder names currently in the
// store, the catalog folder excluded.
func (s *Store) ExistingFolders(ctx context.Context) ([]string, error) {
	iter := s.bucket.List(&blob.ListOptions{
		Prefix:    s.dataPrefix(),
		Delimiter: "/",
	})

	var out []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list data folders: %w", err)
		}
		if !obj.IsDir {
			continue
		}
		name := path.Base(strings.TrimSuffix(obj.Key, "/"))
		if name == CatalogFolder {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// ExistingIDs returns the product IDs present in the store, parsed from
// folder names. Folders that do not parse are silently skipped.
func (s *Store) ExistingIDs(ctx context.Context) (map[int64]bool, error) {
	folders, err := s.ExistingFolders(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(folders))
	for _, folder := range folders {
		if id, ok := catalog.ProductIDFromFolder(folder); ok {
			out[id] = true
		}
	}
	return out, nil
}

// ReadCatalog loads the persisted catalog snapshot. Any failure, a
// missing blob included, yields an empty snapshot: a first run has no
// catalog yet and reconciliation treats everything as new.
func (s *Store) ReadCatalog(ctx context.Context) []catalog.Dataset {
	b, err := s.bucket.ReadAll(ctx, s.catalogKey())
	if err != nil {
		s.log.Warn("no usable catalog snapshot, starting empty", "error", err)
		return nil
	}
	snapshot, err := parquet.Read[catalog.Dataset](bytes.NewReader(b), int64(len(b)))
	if err != nil {
		s.log.Warn("catalog snapshot unreadable, starting empty", "error", err)
		return nil
	}
	return snapshot
}

// WriteCatalog overwrites the catalog snapshot unconditionally.
func (s *Store) WriteCatalog(ctx context.Context, snapshot []catalog.Dataset) error {
	var buf bytes.Buffer
	if err := parquet.Write[catalog.Dataset](&buf, snapshot); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, s.catalogKey(), buf.Bytes(), nil); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	s.log.Info("catalog written", "datasets", len(snapshot), "bytes", buf.Len())
	return nil
}

// ReadManifest loads the last run's manifest. A missing manifest means
// zero ingestions and is not an error.
func (s *Store) ReadManifest(ctx context.Context) ([]ingest.ManifestEntry, error) {
	b, err := s.bucket.ReadAll(ctx, s.manifestKey())
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	entries, err := parquet.Read[ingest.ManifestEntry](bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return entries, nil
}

// WriteManifest overwrites the run manifest. An empty run still writes
// an empty manifest so that the absence of ingestions is recorded.
func (s *Store) WriteManifest(ctx context.Context, entries []ingest.ManifestEntry) error {
	var buf bytes.Buffer
	if err := parquet.Write[ingest.ManifestEntry](&buf, entries); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, s.manifestKey(), buf.Bytes(), nil); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	s.log.Info("manifest written", "entries", len(entries))
	return nil
}

// UploadEntries uploads each entry's parquet file from dataDir and
// returns the entries whose upload succeeded. A failed upload is logged
// and dropped: the dataset stays off the manifest, so it is never
// stamped as ingested and the next run picks it up again.
func (s *Store) UploadEntries(ctx context.Context, dataDir string, entries []ingest.ManifestEntry) []ingest.ManifestEntry {
	var uploaded []ingest.ManifestEntry
	for _, e := range entries {
		local := filepath.Join(dataDir, filepath.FromSlash(e.FilePath))
		if err := s.UploadData(ctx, local, e.FilePath); err != nil {
			s.log.Warn("payload upload failed, dataset left unstamped",
				"product_id", e.ProductID, "error", err)
			if m := metrics.Get(); m != nil {
				m.IncStoreErrors(s.source, "upload_data")
			}
			continue
		}
		uploaded = append(uploaded, e)
	}
	return uploaded
}

// UploadData copies a local data file to "{source}/data/{relPath}".
// relPath uses forward slashes, "{folder}/{productId}.parquet".
func (s *Store) UploadData(ctx context.Context, localPath, relPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	key := s.dataPrefix() + relPath
	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}
