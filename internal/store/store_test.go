package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"

	"github.com/statmirror/statmirror/internal/catalog"
	"github.com/statmirror/statmirror/internal/ingest"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { bucket.Close() })
	return NewWithBucket(bucket, "statscan")
}

func seed(t *testing.T, s *Store, keys ...string) {
	t.Helper()
	ctx := context.Background()
	for _, k := range keys {
		if err := s.bucket.WriteAll(ctx, k, []byte("x"), nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestExistingFoldersAndIDs(t *testing.T) {
	s := memStore(t)
	seed(t, s,
		"statscan/data/12100163-international-trade/12100163.parquet",
		"statscan/data/99999999-other-table/99999999.parquet",
		"statscan/data/catalog/catalog_enhanced.parquet",
		"statscan/data/not-a-dataset/file.parquet",
		"othersource/data/1-foreign/1.parquet",
	)

	ctx := context.Background()
	folders, err := s.ExistingFolders(ctx)
	if err != nil {
		t.Fatalf("ExistingFolders: %v", err)
	}
	if len(folders) != 3 {
		t.Fatalf("folders = %v", folders)
	}
	for _, f := range folders {
		if f == CatalogFolder {
			t.Error("catalog folder must be excluded")
		}
	}

	ids, err := s.ExistingIDs(ctx)
	if err != nil {
		t.Fatalf("ExistingIDs: %v", err)
	}
	if len(ids) != 2 || !ids[12100163] || !ids[99999999] {
		t.Errorf("ids = %v (unparseable folders are skipped, other sources excluded)", ids)
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snapshot := []catalog.Dataset{
		{ProductID: 1, Title: "One", Frequency: "Monthly", Available: true, LastIngestion: &stamp},
		{ProductID: 2, Title: "Two", Frequency: "Annual"},
	}

	if err := s.WriteCatalog(ctx, snapshot); err != nil {
		t.Fatalf("WriteCatalog: %v", err)
	}

	got := s.ReadCatalog(ctx)
	if len(got) != 2 {
		t.Fatalf("got %d datasets", len(got))
	}
	if got[0].Title != "One" || got[0].Frequency != "Monthly" || !got[0].Available {
		t.Errorf("dataset 1 = %+v", got[0])
	}
	if got[0].LastIngestion == nil || !got[0].LastIngestion.Equal(stamp) {
		t.Errorf("ingestion stamp did not survive: %v", got[0].LastIngestion)
	}
	if got[1].LastIngestion != nil {
		t.Errorf("nil stamp must stay nil, got %v", got[1].LastIngestion)
	}
}

func TestReadCatalogToleratesFirstRun(t *testing.T) {
	s := memStore(t)
	if got := s.ReadCatalog(context.Background()); len(got) != 0 {
		t.Errorf("missing catalog must read as empty, got %d", len(got))
	}
}

func TestReadCatalogToleratesCorruption(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	seed(t, s, "statscan/data/catalog/catalog_enhanced.parquet") // not parquet

	if got := s.ReadCatalog(ctx); len(got) != 0 {
		t.Errorf("unreadable catalog must read as empty, got %d", len(got))
	}
}

func TestManifestRoundTripAndMissing(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	got, err := s.ReadManifest(ctx)
	if err != nil {
		t.Fatalf("missing manifest must not be an error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("missing manifest means zero ingestions, got %d", len(got))
	}

	entries := []ingest.ManifestEntry{
		{ProductID: 1, Title: "One", SizeMB: 12.5, FilePath: "1-one/1.parquet"},
	}
	if err := s.WriteManifest(ctx, entries); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	got, err = s.ReadManifest(ctx)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(got) != 1 || got[0].ProductID != 1 || got[0].SizeMB != 12.5 {
		t.Errorf("got %+v", got)
	}
}

func TestWriteEmptyManifest(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	if err := s.WriteManifest(ctx, nil); err != nil {
		t.Fatalf("empty manifest must still be written: %v", err)
	}
	got, err := s.ReadManifest(ctx)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %+v", got)
	}
}

func TestUploadData(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "1.parquet")
	if err := os.WriteFile(local, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.UploadData(ctx, local, "1-one/1.parquet"); err != nil {
		t.Fatalf("UploadData: %v", err)
	}

	b, err := s.bucket.ReadAll(ctx, "statscan/data/1-one/1.parquet")
	if err != nil {
		t.Fatalf("uploaded object missing: %v", err)
	}
	if string(b) != "payload" {
		t.Errorf("content = %q", b)
	}

	ids, err := s.ExistingIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ids[1] {
		t.Error("uploaded dataset must appear in the ground truth scan")
	}
}

func TestUploadEntriesDropsFailedUploads(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	dataDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dataDir, "1-one"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "1-one", "1.parquet"), []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries := []ingest.ManifestEntry{
		{ProductID: 1, SizeMB: 1, FilePath: "1-one/1.parquet"},
		{ProductID: 2, SizeMB: 2, FilePath: "2-two/2.parquet"}, // no local file
	}

	uploaded := s.UploadEntries(ctx, dataDir, entries)
	if len(uploaded) != 1 || uploaded[0].ProductID != 1 {
		t.Fatalf("uploaded = %+v", uploaded)
	}

	if _, err := s.bucket.ReadAll(ctx, "statscan/data/1-one/1.parquet"); err != nil {
		t.Errorf("uploaded object missing: %v", err)
	}
	if _, err := s.bucket.ReadAll(ctx, "statscan/data/2-two/2.parquet"); err == nil {
		t.Error("failed upload must not leave an object behind")
	}
}
