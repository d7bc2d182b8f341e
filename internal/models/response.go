// Package models - API response types and error handling.
// Consistent JSON structure across all endpoints, machine-readable reason
// codes for programmatic handling, human-readable messages for user
// interfaces, RFC3339 timestamps.
package models

import "time"

// Machine-readable reason codes surfaced in JSON error bodies. Policy
// denials (quota, cooldown, token lifecycle) are expected outcomes and carry
// enough context for the caller to self-serve.
const (
	ReasonRateLimitExceeded   = "rate_limit_exceeded"
	ReasonCooldownActive      = "cooldown_active"
	ReasonMissingDeviceID     = "missing_device_id"
	ReasonMissingCity         = "missing_city"
	ReasonMissingNonce        = "missing_nonce"
	ReasonNonceNotFound       = "nonce_not_found"
	ReasonNonceExpired        = "nonce_expired"
	ReasonNonceAlreadyClaimed = "nonce_already_claimed"
	ReasonUpstreamFailed      = "upstream_failed"
	ReasonStorageUnavailable  = "storage_unavailable"
	ReasonInternalError       = "internal_error"
)

// ErrorResponse is the uniform JSON error body.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewErrorResponse builds an error body with the given reason code and
// human-readable message.
func NewErrorResponse(reason, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:     reason,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// QuotaExceededResponse is the 429 body returned when the daily distinct-city
// cap is reached. It carries the consulted cities so the client can show the
// user exactly what counted against the quota.
type QuotaExceededResponse struct {
	Error           string   `json:"error"`
	Message         string   `json:"message"`
	ConsultedCities []string `json:"consulted_cities"`
	Limit           int      `json:"limit"`
	IsPremium       bool     `json:"is_premium"`
}

// CooldownResponse is the 429 body returned when bonus issuance is inside the
// per-device cooldown window.
type CooldownResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	MinutesRemaining int    `json:"minutes_remaining"`
}

// IssueNonceResponse is the success body for bonus token issuance.
type IssueNonceResponse struct {
	Success          bool      `json:"success"`
	Nonce            string    `json:"nonce"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int       `json:"expires_in_seconds"`
}

// ClaimNonceResponse is the success body for a bonus token claim.
type ClaimNonceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Nonce   string `json:"nonce"`
}

// HealthCheckResponse reports service liveness and per-component status.
type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// NewHealthCheckResponse creates a health body with the given overall status.
func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]ComponentHealth),
	}
}

// AddComponent records the health of a named subsystem.
func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{Status: status, Message: message}
}
