// Package wds is the client for the remote table web data service: the
// full catalog listing and the per-table download handle. Wire-level
// frequency codes are decoded to canonical labels here so that nothing
// downstream ever sees a numeric code.
package wds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/statmirror/statmirror/internal/catalog"
	"github.com/statmirror/statmirror/internal/logging"
)

const (
	// DefaultBaseURL is the production REST endpoint.
	DefaultBaseURL = "https://www150.statcan.gc.ca/t1/wds/rest"

	// The service rejects requests without a browser-looking agent.
	userAgent = "Mozilla/5.0"

	requestTimeout = 60 * time.Second
	listRetries    = 4
)

// frequencyLabels maps wire frequency codes to canonical labels.
// Codes missing from the table decode to "Unknown".
var frequencyLabels = map[int]string{
	1:  "Occasional",
	2:  "Biannual",
	6:  "Monthly",
	9:  "Quarterly",
	11: "Bimonthly",
	12: "Annual",
	13: "Biennial",
	14: "Triennial",
	15: "Quinquennial",
	16: "Decennial",
	17: "Every 3 years",
	18: "Census",
	19: "Every 4 years",
	20: "Every 6 years",
}

// DecodeFrequency maps a wire frequency code to its canonical label.
func DecodeFrequency(code int) string {
	if label, ok := frequencyLabels[code]; ok {
		return label
	}
	return "Unknown"
}

// Client talks to the web data service.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// New creates a client against the given base URL. An empty baseURL
// selects the production endpoint.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		log:     logging.Component("wds"),
	}
}

// cube is the wire shape of one catalog entry. Only the fields we
// persist are decoded.
type cube struct {
	ProductID     int64             `json:"productId"`
	CubeTitleEn   string            `json:"cubeTitleEn"`
	SubjectEn     string            `json:"subjectEn"`
	FrequencyCode int               `json:"frequencyCode"`
	ReleaseTime   string            `json:"releaseTime"`
	Dimensions    []json.RawMessage `json:"dimensions"`
	Datapoints    int64             `json:"nbDatapointsCube"`
}

// ListAllDatasets fetches the complete remote catalog, retrying
// transient failures with exponential backoff. Frequency codes are
// decoded to labels on the way out.
func (c *Client) ListAllDatasets(ctx context.Context) ([]catalog.Dataset, error) {
	url := c.baseURL + "/getAllCubesList"

	var cubes []cube
	op := func() error {
		var err error
		cubes, err = c.fetchCubes(ctx, url)
		if err != nil {
			c.log.Warn("catalog listing failed, will retry", "error", err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), listRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}

	out := make([]catalog.Dataset, 0, len(cubes))
	for _, cu := range cubes {
		out = append(out, catalog.Dataset{
			ProductID:   cu.ProductID,
			Title:       cu.CubeTitleEn,
			Subject:     cu.SubjectEn,
			Frequency:   DecodeFrequency(cu.FrequencyCode),
			ReleaseTime: cu.ReleaseTime,
			Dimensions:  int32(len(cu.Dimensions)),
			Datapoints:  cu.Datapoints,
		})
	}
	c.log.Info("catalog listed", "datasets", len(out))
	return out, nil
}

func (c *Client) fetchCubes(ctx context.Context, url string) ([]cube, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var cubes []cube
	if err := json.NewDecoder(resp.Body).Decode(&cubes); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return cubes, nil
}

// downloadHandle is the wire shape of the download-handle response.
type downloadHandle struct {
	Status string `json:"status"`
	Object string `json:"object"`
}

// DownloadURL resolves the archive URL for one table. The handle
// endpoint returns a URL even for tables whose payload later turns out
// to be an error page, so callers still have to validate the bytes.
func (c *Client) DownloadURL(ctx context.Context, productID int64) (string, error) {
	url := fmt.Sprintf("%s/getFullTableDownloadCSV/%d/en", c.baseURL, productID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("download handle %d: http %d: %s", productID, resp.StatusCode, string(body))
	}

	var handle downloadHandle
	if err := json.NewDecoder(resp.Body).Decode(&handle); err != nil {
		return "", fmt.Errorf("decode download handle %d: %w", productID, err)
	}
	if handle.Object == "" {
		return "", fmt.Errorf("download handle %d: empty object url (status %q)", productID, handle.Status)
	}
	return handle.Object, nil
}
