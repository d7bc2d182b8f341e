// Package tide is the thin collaborator that fetches tidal data for a city
// from the configured upstream provider. The gate makes all admission
// decisions before this package is ever called; nothing here affects quota
// state.
package tide

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tidegate/internal/models"
)

// Provider fetches tidal data for a normalized city name.
type Provider interface {
	Lookup(ctx context.Context, city string) (json.RawMessage, error)
}

// HTTPProvider proxies city lookups to an upstream HTTP API with a bounded
// timeout.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
}

// NewHTTPProvider builds a provider from upstream config.
func NewHTTPProvider(cfg models.UpstreamConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
	}
}

// Lookup implements Provider. The upstream body is passed through untouched;
// response shaping is the client's concern.
func (p *HTTPProvider) Lookup(ctx context.Context, city string) (json.RawMessage, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("upstream base URL is not configured")
	}

	endpoint := fmt.Sprintf("%s/tides/%s", p.baseURL, url.PathEscape(city))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	return json.RawMessage(body), nil
}
