package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tidegate/internal/api"
	"tidegate/internal/bonus"
	"tidegate/internal/clock"
	"tidegate/internal/entitlement"
	"tidegate/internal/gate"
	"tidegate/internal/ledger"
	"tidegate/internal/models"
	"tidegate/internal/tide"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests that exercise the entire system end-to-end: real HTTP
// servers for the tide upstream and the entitlement provider, the SQLite
// bonus store, and the full router with the quota gate in front.

const testDevice = "integration-device-01"

type testStack struct {
	server       *httptest.Server
	ts           *clock.Fake
	entitledDevs map[string]bool
	tideCalls    int
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	stack := &testStack{
		ts:           clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
		entitledDevs: map[string]bool{},
	}

	// Fake tidal-data upstream.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stack.tideCalls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"city":%q,"tides":[{"type":"high","time":"2026-03-14T18:04:00Z"}]}`, filepath.Base(r.URL.Path))
	}))
	t.Cleanup(upstream.Close)

	// Fake entitlement provider in the shape the verifier expects.
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device := filepath.Base(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if stack.entitledDevs[device] {
			fmt.Fprint(w, `{"active_entitlements":{"items":[{"entitlement_id":"premium","expires_at":null}]}}`)
			return
		}
		fmt.Fprint(w, `{"active_entitlements":{"items":[]}}`)
	}))
	t.Cleanup(provider.Close)

	logger := slog.Default()

	quotaLedger := ledger.NewMemoryLedger(stack.ts, time.Hour)
	t.Cleanup(func() { _ = quotaLedger.Close() })

	bonusStore, err := bonus.NewSQLiteStore(
		filepath.Join(t.TempDir(), "bonus.db"), stack.ts, 30*time.Minute, 5*time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bonusStore.Close() })

	verifier := entitlement.NewHTTPVerifier(models.EntitlementConfig{
		BaseURL:       provider.URL,
		APIKey:        "test-key",
		ProjectID:     "test-project",
		EntitlementID: "premium",
		VerifyTimeout: 2 * time.Second,
	}, stack.ts)
	entitlements := entitlement.NewCache(
		entitlement.NewMemoryCacheStore(stack.ts), verifier, time.Hour, logger)

	quotaGate := gate.New(quotaLedger, bonusStore, entitlements,
		models.QuotaConfig{BaseCities: 2, PremiumCities: 30}, logger)

	tides := tide.NewHTTPProvider(models.UpstreamConfig{BaseURL: upstream.URL, Timeout: 2 * time.Second})
	handlers := api.NewHandlers(bonusStore, tides)
	router := api.SetupRoutes(handlers, gate.Middleware(quotaGate, logger), nil)

	stack.server = httptest.NewServer(router)
	t.Cleanup(stack.server.Close)
	return stack
}

func (s *testStack) do(t *testing.T, method, path string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func TestIntegration_QuotaAndBonusFlow(t *testing.T) {
	stack := newTestStack(t)
	device := map[string]string{gate.HeaderDeviceID: testDevice}

	// Two distinct cities fit in the free quota.
	for _, city := range []string{"lisboa", "porto"} {
		resp, body := stack.do(t, "GET", "/api/v1/tides/"+city, device)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}
	assert.Equal(t, 2, stack.tideCalls)

	// A third city is denied and never reaches the upstream.
	resp, body := stack.do(t, "GET", "/api/v1/tides/faro", device)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 2, stack.tideCalls)

	var denied models.QuotaExceededResponse
	require.NoError(t, json.Unmarshal(body, &denied))
	assert.Equal(t, models.ReasonRateLimitExceeded, denied.Error)
	assert.Equal(t, 2, denied.Limit)
	assert.ElementsMatch(t, []string{"lisboa", "porto"}, denied.ConsultedCities)

	// Earn a bonus: issue, claim, then spend it on the blocked city.
	resp, body = stack.do(t, "POST", "/api/v1/bonus/nonce", device)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var issued models.IssueNonceResponse
	require.NoError(t, json.Unmarshal(body, &issued))

	resp, _ = stack.do(t, "POST", "/api/v1/bonus/claim", map[string]string{
		gate.HeaderDeviceID:   testDevice,
		gate.HeaderBonusNonce: issued.Nonce,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = stack.do(t, "GET", "/api/v1/tides/faro", map[string]string{
		gate.HeaderDeviceID:   testDevice,
		gate.HeaderBonusNonce: issued.Nonce,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get(gate.HeaderBonusUsed))
	assert.Equal(t, 3, stack.tideCalls)

	// The nonce is single-use; a replay falls back to the exhausted quota.
	resp, _ = stack.do(t, "GET", "/api/v1/tides/madeira", map[string]string{
		gate.HeaderDeviceID:   testDevice,
		gate.HeaderBonusNonce: issued.Nonce,
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// A second issuance inside the cooldown is rejected with the wait time.
	stack.ts.Advance(5 * time.Minute)
	resp, body = stack.do(t, "POST", "/api/v1/bonus/nonce", device)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var cooldown models.CooldownResponse
	require.NoError(t, json.Unmarshal(body, &cooldown))
	assert.Equal(t, models.ReasonCooldownActive, cooldown.Error)
	assert.Equal(t, 25, cooldown.MinutesRemaining)
}

func TestIntegration_PremiumEntitlement(t *testing.T) {
	stack := newTestStack(t)
	stack.entitledDevs[testDevice] = true
	headers := map[string]string{
		gate.HeaderDeviceID: testDevice,
		gate.HeaderPremium:  "true",
	}

	// A verified premium device gets the raised cap.
	for _, city := range []string{"lisboa", "porto", "faro", "madeira", "sagres"} {
		resp, body := stack.do(t, "GET", "/api/v1/tides/"+city, headers)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Equal(t, "30", resp.Header.Get(gate.HeaderRateLimitLimit))
		assert.Equal(t, "true", resp.Header.Get(gate.HeaderIsPremium))
	}
}

func TestIntegration_PremiumClaimNotVerified(t *testing.T) {
	stack := newTestStack(t)
	headers := map[string]string{
		gate.HeaderDeviceID: testDevice,
		gate.HeaderPremium:  "true",
	}

	// Self-declared premium without entitlement stays on the free cap.
	for _, city := range []string{"lisboa", "porto"} {
		resp, _ := stack.do(t, "GET", "/api/v1/tides/"+city, headers)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := stack.do(t, "GET", "/api/v1/tides/faro", headers)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestIntegration_QuotaResetsNextDay(t *testing.T) {
	stack := newTestStack(t)
	device := map[string]string{gate.HeaderDeviceID: testDevice}

	for _, city := range []string{"lisboa", "porto"} {
		resp, _ := stack.do(t, "GET", "/api/v1/tides/"+city, device)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := stack.do(t, "GET", "/api/v1/tides/faro", device)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Past local midnight the ledger starts a fresh day.
	stack.ts.Advance(13 * time.Hour)
	resp, _ = stack.do(t, "GET", "/api/v1/tides/faro", device)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
