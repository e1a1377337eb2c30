package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"camgate/internal/logging"
)

// FetchError describes a failed registry fetch. Status is zero when the
// request never produced a response.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("registry fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("registry fetch %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error, if any.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves the desired stream set from the equipment registry.
type Fetcher struct {
	baseURL    string
	endpoint   string
	defaults   Defaults
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a registry fetcher. The request URL is baseURL
// joined with endpoint; timeout bounds the whole request.
func NewFetcher(baseURL, endpoint string, timeout time.Duration, defaults Defaults) *Fetcher {
	return &Fetcher{
		baseURL:    baseURL,
		endpoint:   endpoint,
		defaults:   defaults,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.GetLogger("registry"),
	}
}

// Fetch requests the registry and returns the parsed stream list.
// Entries missing equipId or sourceUrl are skipped with a warning; an
// empty response is a valid empty stream set, not an error.
func (f *Fetcher) Fetch(ctx context.Context) ([]StreamDescriptor, error) {
	url := f.baseURL + f.endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, Status: resp.StatusCode}
	}

	var entries []registryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("decode response: %w", err)}
	}

	descriptors := make([]StreamDescriptor, 0, len(entries))
	for _, entry := range entries {
		d, ok := entry.toDescriptor(f.defaults)
		if !ok {
			f.logger.Warn("Skipping registry entry with missing fields",
				"equip_id", entry.EquipID, "source_url", entry.SourceURL)
			continue
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}
