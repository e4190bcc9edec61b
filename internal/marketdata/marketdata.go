// Package marketdata fetches per-ticker fundamentals from an external provider
// and persists each successful run as a snapshot.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seenimoa/peerscope/pkg/models"
)

// Provider fetches the fundamentals of a single symbol. Implementations make
// exactly one upstream call per invocation and do not retry.
type Provider interface {
	// Name returns the human-readable name of the provider.
	Name() string

	// Fundamentals returns the current fundamentals for symbol.
	Fundamentals(ctx context.Context, symbol string) (*models.Fundamentals, error)
}

// --- Sentinel errors ---

// ErrTickerNotFound is returned when the provider does not know a symbol.
var ErrTickerNotFound = errors.New("ticker not found")

// ErrMalformedResponse is returned when a provider response cannot be mapped
// to a fundamentals record.
var ErrMalformedResponse = errors.New("malformed provider response")

// ErrNoSymbols is returned when Fetch is called without any usable symbol.
var ErrNoSymbols = errors.New("no symbols to fetch")

// ErrAllSymbolsFailed is returned when every symbol of a fetch failed. Nothing
// is persisted in that case.
var ErrAllSymbolsFailed = errors.New("all symbols failed")

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// --- Shared HTTP client helpers ---

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DefaultHTTPClient is used when a provider is built without a client. Per-call
// deadlines come from the request context.
var DefaultHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// doGet performs a GET request and returns the response body.
// The caller is responsible for closing the returned ReadCloser.
func doGet(ctx context.Context, client *http.Client, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	return resp.Body, nil
}
