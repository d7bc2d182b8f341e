// Package gate orchestrates the admission decision for gated city lookups.
// Per request it runs a fixed state machine: pass ungated requests through,
// try to spend a bonus token, resolve the capacity tier, then charge the
// daily quota ledger. Side effects are confined to the bonus consume and the
// ledger admit.
package gate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"

	"tidegate/internal/bonus"
	"tidegate/internal/entitlement"
	"tidegate/internal/ledger"
	"tidegate/internal/models"
)

// Request carries the identity and target inputs of one gated request.
type Request struct {
	DeviceID   string
	SourceIP   string
	City       string
	BonusToken string
	// ClaimsPremium is the caller's self-declared premium signal. The
	// entitlement verifier is only consulted when it is set.
	ClaimsPremium bool
	// ForceRecheck bypasses the entitlement cache read.
	ForceRecheck bool
}

// Decision is the outcome of an admission evaluation plus the telemetry the
// HTTP layer surfaces as response headers.
type Decision struct {
	Admitted bool
	// Gated is false when the request passed through without any quota
	// interaction (no device identity or no target city).
	Gated        bool
	BonusUsed    bool
	IsPremium    bool
	Limit        int
	Remaining    int
	ResetSeconds int
	Cities       []string
}

// Gate decides admissions. All collaborators are shared and safe for
// concurrent use.
type Gate struct {
	ledger          ledger.Ledger
	bonus           bonus.Store
	entitlements    *entitlement.Cache
	baseCapacity    int
	premiumCapacity int
	logger          *slog.Logger
}

// New creates a Gate with the given collaborators and tier capacities.
func New(l ledger.Ledger, b bonus.Store, e *entitlement.Cache, cfg models.QuotaConfig, logger *slog.Logger) *Gate {
	return &Gate{
		ledger:          l,
		bonus:           b,
		entitlements:    e,
		baseCapacity:    cfg.BaseCities,
		premiumCapacity: cfg.PremiumCities,
		logger:          logger,
	}
}

// EntityKey derives the stable quota identity from device and source IP.
// The same device identifier behind the same IP shares one daily quota.
func EntityKey(deviceID, sourceIP string) string {
	sum := md5.Sum([]byte(deviceID + sourceIP))
	return hex.EncodeToString(sum[:])
}

// Evaluate runs the admission state machine. A non-nil error means the quota
// backend is unavailable and the caller must fail the request closed.
func (g *Gate) Evaluate(ctx context.Context, req Request) (Decision, error) {
	city := models.NormalizeCity(req.City)

	// Requests without a device identity or target city predate the quota
	// and pass through untouched.
	if !models.ValidDeviceID(req.DeviceID) || city == "" {
		return Decision{Admitted: true}, nil
	}

	if req.BonusToken != "" {
		used, err := g.bonus.TryConsume(ctx, req.BonusToken, req.DeviceID)
		if err != nil {
			// A broken bonus store must not unlock the bypass; degrade to
			// normal quota evaluation.
			g.logger.Warn("bonus consume failed, falling back to quota",
				"device_id", req.DeviceID, "error", err)
		} else if used {
			g.logger.Info("bonus token consumed",
				"device_id", req.DeviceID, "source_ip", req.SourceIP)
			return Decision{Admitted: true, Gated: true, BonusUsed: true}, nil
		}
		// A spent or invalid token is not an error; the request degrades to
		// normal quota evaluation.
	}

	isPremium := false
	if req.ClaimsPremium {
		isPremium = g.entitlements.IsEntitled(ctx, req.DeviceID, req.ForceRecheck)
	}
	capacity := g.baseCapacity
	if isPremium {
		capacity = g.premiumCapacity
	}

	adm, err := g.ledger.TryAdmit(ctx, EntityKey(req.DeviceID, req.SourceIP), city, capacity)
	if err != nil {
		return Decision{}, err
	}

	if !adm.Admitted {
		g.logger.Info("rate limit reached",
			"device_id", req.DeviceID,
			"source_ip", req.SourceIP,
			"is_premium", isPremium,
			"consulted_cities", adm.Cities)
	}

	return Decision{
		Admitted:     adm.Admitted,
		Gated:        true,
		IsPremium:    isPremium,
		Limit:        capacity,
		Remaining:    adm.Remaining,
		ResetSeconds: adm.ResetSeconds,
		Cities:       adm.Cities,
	}, nil
}
