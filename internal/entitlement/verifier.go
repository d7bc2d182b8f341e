// Package entitlement answers "is this device entitled to the premium quota
// tier". An HTTP verifier asks the subscription provider; a read-through
// cache with a one hour TTL fronts it so the gate rarely pays the network
// round trip. Verification failures always degrade to "not entitled" and are
// never cached, so a newly subscribed user is not locked out for the TTL.
package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"tidegate/internal/clock"
	"tidegate/internal/models"
)

// Verifier checks a device's entitlement with the external provider. A nil
// error with false means the device is verified as not entitled; an error
// means the answer is unknown and callers must not cache it.
type Verifier interface {
	Verify(ctx context.Context, deviceID string) (bool, error)
}

// HTTPVerifier verifies entitlements against a RevenueCat-style customer API.
type HTTPVerifier struct {
	client        *http.Client
	ts            clock.TimeSource
	baseURL       string
	apiKey        string
	projectID     string
	entitlementID string
}

// NewHTTPVerifier builds a verifier from config. The configured timeout
// bounds every verification call so a hung provider cannot stall the gate.
func NewHTTPVerifier(cfg models.EntitlementConfig, ts clock.TimeSource) *HTTPVerifier {
	timeout := cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPVerifier{
		client:        &http.Client{Timeout: timeout},
		ts:            ts,
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		projectID:     cfg.ProjectID,
		entitlementID: cfg.EntitlementID,
	}
}

// customerResponse is the subset of the provider's customer document the
// verifier needs.
type customerResponse struct {
	ActiveEntitlements struct {
		Items []struct {
			EntitlementID string `json:"entitlement_id"`
			// ExpiresAt is unix milliseconds; null means no expiry.
			ExpiresAt *int64 `json:"expires_at"`
		} `json:"items"`
	} `json:"active_entitlements"`
}

// Verify implements Verifier. It reports true when the customer has an
// active entitlement matching the configured identifier that is either
// unexpiring or expires in the future.
func (v *HTTPVerifier) Verify(ctx context.Context, deviceID string) (bool, error) {
	if v.apiKey == "" || v.projectID == "" {
		return false, fmt.Errorf("entitlement verifier is not configured")
	}

	endpoint := fmt.Sprintf("%s/projects/%s/customers/%s",
		v.baseURL, url.PathEscape(v.projectID), url.PathEscape(deviceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("verify request returned status %d", resp.StatusCode)
	}

	var customer customerResponse
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return false, fmt.Errorf("failed to decode verify response: %w", err)
	}

	now := v.ts.Now()
	for _, item := range customer.ActiveEntitlements.Items {
		if item.EntitlementID != v.entitlementID {
			continue
		}
		if item.ExpiresAt == nil || time.UnixMilli(*item.ExpiresAt).After(now) {
			return true, nil
		}
	}
	return false, nil
}
