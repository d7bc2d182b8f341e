package gate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"tidegate/internal/models"
)

// Identity and control headers read from gated requests.
const (
	HeaderDeviceID          = "X-Device-Id"
	HeaderBonusNonce        = "X-Bonus-Nonce"
	HeaderPremium           = "X-Premium"
	HeaderPremiumForceCheck = "X-Premium-Force-Check"
)

// Telemetry headers attached to gated responses.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRateLimitCities    = "X-RateLimit-Cities"
	HeaderIsPremium          = "X-Is-Premium"
	HeaderBonusUsed          = "X-Bonus-Used"
)

// Middleware returns HTTP middleware enforcing the daily city quota on the
// wrapped routes. The target city is read from the "city" route variable.
// Quota telemetry is attached as response headers on every gated request;
// denials return 429 with the consulted-city list; a quota backend outage
// fails closed with 503.
func Middleware(g *Gate, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := Request{
				DeviceID:      strings.TrimSpace(r.Header.Get(HeaderDeviceID)),
				SourceIP:      ClientIP(r),
				City:          mux.Vars(r)["city"],
				BonusToken:    strings.TrimSpace(r.Header.Get(HeaderBonusNonce)),
				ClaimsPremium: models.ParseBoolish(r.Header.Get(HeaderPremium)),
				ForceRecheck:  models.ParseBoolish(r.Header.Get(HeaderPremiumForceCheck)),
			}

			decision, err := g.Evaluate(r.Context(), req)
			if err != nil {
				logger.Error("quota backend unavailable, failing closed",
					"device_id", req.DeviceID,
					"path", r.URL.Path,
					"error", err)
				writeJSON(w, http.StatusServiceUnavailable,
					models.NewErrorResponse(models.ReasonStorageUnavailable,
						"Service temporarily unavailable. Please try again."))
				return
			}

			if !decision.Gated {
				next.ServeHTTP(w, r)
				return
			}

			if decision.BonusUsed {
				w.Header().Set(HeaderBonusUsed, "true")
				next.ServeHTTP(w, r)
				return
			}

			setQuotaHeaders(w, decision)

			if !decision.Admitted {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", decision.ResetSeconds))
				writeJSON(w, http.StatusTooManyRequests, &models.QuotaExceededResponse{
					Error:           models.ReasonRateLimitExceeded,
					Message:         denyMessage(decision),
					ConsultedCities: decision.Cities,
					Limit:           decision.Limit,
					IsPremium:       decision.IsPremium,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func denyMessage(d Decision) string {
	if d.IsPremium {
		return fmt.Sprintf("Daily limit of %d different cities reached for your premium account. Try again tomorrow.", d.Limit)
	}
	return fmt.Sprintf("Daily limit of %d different cities reached. Go premium to look up to 30 cities!", d.Limit)
}

func setQuotaHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set(HeaderRateLimitLimit, fmt.Sprintf("%d", d.Limit))
	h.Set(HeaderRateLimitRemaining, fmt.Sprintf("%d", d.Remaining))
	h.Set(HeaderRateLimitReset, fmt.Sprintf("%d", d.ResetSeconds))
	h.Set(HeaderRateLimitCities, strings.Join(d.Cities, ","))
	h.Set(HeaderIsPremium, fmt.Sprintf("%t", d.IsPremium))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ClientIP extracts the client IP from the request, checking proxy
// headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
