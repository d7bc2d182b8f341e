package gate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidegate/internal/bonus"
	"tidegate/internal/clock"
	"tidegate/internal/entitlement"
	"tidegate/internal/ledger"
	"tidegate/internal/models"
)

// failingLedger simulates a quota backend outage.
type failingLedger struct{}

func (failingLedger) TryAdmit(context.Context, string, string, int) (ledger.Admission, error) {
	return ledger.Admission{}, errors.New("backend unreachable")
}

func (failingLedger) Close() error { return nil }

// countingVerifier tracks verifier traffic for the entitlement cache.
type countingVerifier struct {
	calls    int
	entitled bool
	err      error
}

func (v *countingVerifier) Verify(context.Context, string) (bool, error) {
	v.calls++
	return v.entitled, v.err
}

type gateFixture struct {
	gate     *Gate
	bonus    bonus.Store
	verifier *countingVerifier
	fake     *clock.Fake
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))

	l := ledger.NewMemoryLedger(fake, time.Minute)
	t.Cleanup(func() { _ = l.Close() })

	b := bonus.NewMemoryStore(fake, 30*time.Minute, 5*time.Minute)
	t.Cleanup(func() { _ = b.Close() })

	v := &countingVerifier{}
	cache := entitlement.NewCache(entitlement.NewMemoryCacheStore(fake), v, time.Hour, discardLogger())
	t.Cleanup(func() { _ = cache.Close() })

	g := New(l, b, cache, models.QuotaConfig{BaseCities: 2, PremiumCities: 30}, discardLogger())
	return &gateFixture{gate: g, bonus: b, verifier: v, fake: fake}
}

const testDevice = "device-12345678"

func TestGatePassThroughWithoutIdentityOrCity(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"no device id", Request{City: "lisboa", SourceIP: "203.0.113.7"}},
		{"short device id", Request{DeviceID: "short", City: "lisboa"}},
		{"no city", Request{DeviceID: testDevice, SourceIP: "203.0.113.7"}},
		{"blank city", Request{DeviceID: testDevice, City: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := f.gate.Evaluate(ctx, tt.req)
			require.NoError(t, err)
			assert.True(t, d.Admitted)
			assert.False(t, d.Gated)
		})
	}
}

func TestGateQuotaProgression(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	admit := func(city string) Decision {
		d, err := f.gate.Evaluate(ctx, Request{DeviceID: testDevice, SourceIP: "203.0.113.7", City: city})
		require.NoError(t, err)
		return d
	}

	d := admit("Lisboa")
	assert.True(t, d.Admitted)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, []string{"lisboa"}, d.Cities)

	d = admit("porto")
	assert.True(t, d.Admitted)
	assert.Equal(t, 0, d.Remaining)

	d = admit("faro")
	assert.False(t, d.Admitted)
	assert.Equal(t, 2, d.Limit)
	assert.Greater(t, d.ResetSeconds, 0)
	assert.ElementsMatch(t, []string{"lisboa", "porto"}, d.Cities)

	// Normalization makes a repeat of an admitted city free.
	d = admit("  LISBOA ")
	assert.True(t, d.Admitted)
	assert.Equal(t, 0, d.Remaining)
}

func TestGateEntityKeyConflatesDeviceAndIP(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	for _, city := range []string{"lisboa", "porto"} {
		d, err := f.gate.Evaluate(ctx, Request{DeviceID: testDevice, SourceIP: "203.0.113.7", City: city})
		require.NoError(t, err)
		require.True(t, d.Admitted)
	}

	// Same device from a different IP is a distinct quota identity.
	d, err := f.gate.Evaluate(ctx, Request{DeviceID: testDevice, SourceIP: "198.51.100.4", City: "faro"})
	require.NoError(t, err)
	assert.True(t, d.Admitted)
}

func TestGateBonusTokenBypassesQuota(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	// Exhaust the base quota first.
	for _, city := range []string{"lisboa", "porto"} {
		_, err := f.gate.Evaluate(ctx, Request{DeviceID: testDevice, SourceIP: "203.0.113.7", City: city})
		require.NoError(t, err)
	}

	tok, err := f.bonus.Issue(ctx, testDevice, "203.0.113.7")
	require.NoError(t, err)
	require.NoError(t, f.bonus.Claim(ctx, tok.Token, testDevice))

	d, err := f.gate.Evaluate(ctx, Request{
		DeviceID: testDevice, SourceIP: "203.0.113.7", City: "faro", BonusToken: tok.Token,
	})
	require.NoError(t, err)
	assert.True(t, d.Admitted)
	assert.True(t, d.BonusUsed)
	// The bypass leaves the ledger untouched.
	assert.Empty(t, d.Cities)

	// The token is spent; a second attempt degrades to quota evaluation.
	d, err = f.gate.Evaluate(ctx, Request{
		DeviceID: testDevice, SourceIP: "203.0.113.7", City: "faro", BonusToken: tok.Token,
	})
	require.NoError(t, err)
	assert.False(t, d.Admitted)
	assert.False(t, d.BonusUsed)
}

func TestGateInvalidBonusTokenDegradesToQuota(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	d, err := f.gate.Evaluate(ctx, Request{
		DeviceID: testDevice, SourceIP: "203.0.113.7", City: "lisboa", BonusToken: "bogus-token",
	})
	require.NoError(t, err)
	assert.True(t, d.Admitted, "invalid token is not an error, quota still has room")
	assert.False(t, d.BonusUsed)
	assert.Equal(t, 1, d.Remaining)
}

func TestGateEntitlementOnlyCheckedWhenClaimed(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, err := f.gate.Evaluate(ctx, Request{DeviceID: testDevice, SourceIP: "203.0.113.7", City: "lisboa"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.verifier.calls, "verifier must not run without the premium signal")

	f.verifier.entitled = true
	d, err := f.gate.Evaluate(ctx, Request{
		DeviceID: testDevice, SourceIP: "203.0.113.7", City: "porto", ClaimsPremium: true,
	})
	require.NoError(t, err)
	assert.True(t, d.IsPremium)
	assert.Equal(t, 30, d.Limit)
	assert.Equal(t, 1, f.verifier.calls)
}

func TestGateVerifierFailureUsesBaseCapacity(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()
	f.verifier.err = errors.New("upstream timeout")

	d, err := f.gate.Evaluate(ctx, Request{
		DeviceID: testDevice, SourceIP: "203.0.113.7", City: "lisboa", ClaimsPremium: true,
	})
	require.NoError(t, err)
	assert.True(t, d.Admitted)
	assert.False(t, d.IsPremium)
	assert.Equal(t, 2, d.Limit)
}

func TestGateLedgerFailurePropagates(t *testing.T) {
	f := newGateFixture(t)
	g := New(failingLedger{}, f.bonus, nil, models.QuotaConfig{BaseCities: 2, PremiumCities: 30}, discardLogger())

	_, err := g.Evaluate(context.Background(), Request{
		DeviceID: testDevice, SourceIP: "203.0.113.7", City: "lisboa",
	})
	assert.Error(t, err)
}

func TestEntityKey(t *testing.T) {
	a := EntityKey("device-a", "203.0.113.7")
	assert.Len(t, a, 32)
	assert.Equal(t, a, EntityKey("device-a", "203.0.113.7"))
	assert.NotEqual(t, a, EntityKey("device-a", "198.51.100.4"))
	assert.NotEqual(t, a, EntityKey("device-b", "203.0.113.7"))
}
