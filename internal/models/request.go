// Package models - Incoming request types and validation.
// Identity inputs arrive as headers on every gated request; validation is
// applied before any stateful component is touched.
package models

import (
	"errors"
	"strings"
)

// Device identifier length bounds. Identifiers outside this range are treated
// as absent for gating purposes and rejected on the bonus endpoints.
const (
	DeviceIDMinLen = 8
	DeviceIDMaxLen = 100
)

var (
	// ErrMissingDeviceID indicates an absent or malformed device identifier.
	ErrMissingDeviceID = errors.New("device identifier is required")
	// ErrMissingNonce indicates an absent bonus token value.
	ErrMissingNonce = errors.New("bonus nonce is required")
)

// ValidDeviceID reports whether the device identifier is present and within
// the accepted length bounds.
func ValidDeviceID(deviceID string) bool {
	return len(deviceID) >= DeviceIDMinLen && len(deviceID) <= DeviceIDMaxLen
}

// NormalizeCity canonicalizes a city name for quota accounting: trimmed and
// case-folded so that "Lisboa" and " lisboa " count as one consulted city.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// ParseBoolish interprets the boolean-ish header values clients send
// ("true"/"TRUE" are true, everything else is false).
func ParseBoolish(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// IssueNonceRequest carries the inputs for a bonus token issuance.
type IssueNonceRequest struct {
	DeviceID string
	SourceIP string
}

// Validate rejects issuance requests without a usable device identifier.
func (r *IssueNonceRequest) Validate() error {
	if !ValidDeviceID(r.DeviceID) {
		return ErrMissingDeviceID
	}
	return nil
}

// ClaimNonceRequest carries the inputs for a bonus token claim.
type ClaimNonceRequest struct {
	DeviceID string
	Nonce    string
}

// Validate rejects claim requests without a usable device identifier or nonce.
func (r *ClaimNonceRequest) Validate() error {
	if !ValidDeviceID(r.DeviceID) {
		return ErrMissingDeviceID
	}
	if strings.TrimSpace(r.Nonce) == "" {
		return ErrMissingNonce
	}
	return nil
}
