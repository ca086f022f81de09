package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type staticResolver struct{ url string }

func (r staticResolver) DownloadURL(ctx context.Context, productID int64) (string, error) {
	return r.url, nil
}

// copyConverter stands in for the real conversion: it copies the CSV
// bytes to the output path.
type copyConverter struct{ calls int }

func (c *copyConverter) Convert(ctx context.Context, inputCSV, outputParquet string) error {
	c.calls++
	in, err := os.Open(inputCSV)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(outputParquet)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func serveBytes(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) Config {
	return Config{
		MaxDownloadMB:     100,
		MaxUncompressedMB: 200,
		DataDir:           t.TempDir(),
		TempDir:           t.TempDir(),
	}
}

func TestFetchEndToEnd(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"12100163_MetaData.csv": "notes",
		"12100163.csv":          "a,b\n1,2\n",
	})
	srv := serveBytes(t, payload)

	cfg := testConfig(t)
	conv := &copyConverter{}
	f := New(staticResolver{srv.URL + "/12100163-eng.zip"}, conv, cfg)

	res, err := f.Fetch(context.Background(), 12100163, "International Trade")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if conv.calls != 1 {
		t.Errorf("converter called %d times", conv.calls)
	}
	wantRel := "12100163-international-trade/12100163.parquet"
	if res.FilePath != wantRel {
		t.Errorf("FilePath = %q, want %q", res.FilePath, wantRel)
	}
	if res.SizeMB <= 0 {
		t.Errorf("SizeMB = %f", res.SizeMB)
	}

	content, err := os.ReadFile(filepath.Join(cfg.DataDir, filepath.FromSlash(wantRel)))
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if string(content) != "a,b\n1,2\n" {
		t.Errorf("converter must receive the data file, not the sidecar: %q", content)
	}

	// Every temp artifact is gone.
	leftovers, err := os.ReadDir(cfg.TempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp dir not cleaned: %v", leftovers)
	}
}

func TestFetchSkipsOversizedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(500*1000*1000))
		if r.Method != http.MethodHead {
			t.Error("oversized archive must not be downloaded")
		}
	}))
	defer srv.Close()

	f := New(staticResolver{srv.URL}, &copyConverter{}, testConfig(t))
	_, err := f.Fetch(context.Background(), 1, "Huge")
	if !errors.Is(err, ErrSkipped) {
		t.Errorf("want ErrSkipped, got %v", err)
	}
}

func TestFetchSkipsOversizedUncompressed(t *testing.T) {
	payload := buildZip(t, map[string]string{
		"big.csv": strings.Repeat("0123456789", 300_000), // 3 MB uncompressed
	})
	srv := serveBytes(t, payload)

	cfg := testConfig(t)
	cfg.MaxUncompressedMB = 1
	conv := &copyConverter{}
	f := New(staticResolver{srv.URL}, conv, cfg)

	_, err := f.Fetch(context.Background(), 1, "Wide")
	if !errors.Is(err, ErrSkipped) {
		t.Errorf("want ErrSkipped, got %v", err)
	}
	if conv.calls != 0 {
		t.Error("skipped dataset must never reach the converter")
	}
}

func TestFetchRejectsDisguisedErrorPayload(t *testing.T) {
	srv := serveBytes(t, []byte(`{"status":"FAILED","object":"internal error"}`))

	f := New(staticResolver{srv.URL}, &copyConverter{}, testConfig(t))
	_, err := f.Fetch(context.Background(), 1, "Broken")
	if !errors.Is(err, ErrBadArchive) {
		t.Errorf("want ErrBadArchive, got %v", err)
	}
	if errors.Is(err, ErrSkipped) {
		t.Error("bad payload is a failure, not a skip")
	}
}

func TestFetchCleansUpOnConversionFailure(t *testing.T) {
	payload := buildZip(t, map[string]string{"t.csv": "a\n1\n"})
	srv := serveBytes(t, payload)

	cfg := testConfig(t)
	f := New(staticResolver{srv.URL}, failConverter{}, cfg)

	if _, err := f.Fetch(context.Background(), 1, "Flaky"); err == nil {
		t.Fatal("expected conversion error")
	}

	leftovers, err := os.ReadDir(cfg.TempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp dir not cleaned after failure: %v", leftovers)
	}
}

type failConverter struct{}

func (failConverter) Convert(ctx context.Context, inputCSV, outputParquet string) error {
	return errors.New("boom")
}

func TestDisplayTitle(t *testing.T) {
	if got := DisplayTitle(1, "Short"); got != "[1] Short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("t", 60)
	got := DisplayTitle(2, long)
	want := "[2] " + strings.Repeat("t", 50) + "..."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
