package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tidegate/internal/bonus"
	"tidegate/internal/gate"
	"tidegate/internal/models"
	"tidegate/internal/tide"
	"tidegate/internal/version"

	"github.com/gorilla/mux"
)

// Handlers contains HTTP handlers for the tidegate API
type Handlers struct {
	bonusStore bonus.Store
	tides      tide.Provider
}

// NewHandlers creates a new handlers instance
func NewHandlers(bonusStore bonus.Store, tides tide.Provider) *Handlers {
	return &Handlers{
		bonusStore: bonusStore,
		tides:      tides,
	}
}

// IssueNonce handles bonus token issuance requests
// POST /api/v1/bonus/nonce
func (h *Handlers) IssueNonce(w http.ResponseWriter, r *http.Request) {
	req := &models.IssueNonceRequest{
		DeviceID: strings.TrimSpace(r.Header.Get(gate.HeaderDeviceID)),
		SourceIP: gate.ClientIP(r),
	}
	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ReasonMissingDeviceID, err.Error())
		return
	}

	token, err := h.bonusStore.Issue(r.Context(), req.DeviceID, req.SourceIP)
	if err != nil {
		if errors.Is(err, bonus.ErrCooldownActive) {
			minutes, cerr := h.bonusStore.CooldownRemaining(r.Context(), req.DeviceID)
			if cerr != nil {
				h.writeErrorResponse(w, http.StatusServiceUnavailable,
					models.ReasonStorageUnavailable, "Bonus store unavailable")
				return
			}
			resp := models.CooldownResponse{
				Error:            models.ReasonCooldownActive,
				Message:          fmt.Sprintf("Bonus already requested. Try again in %d minutes.", minutes),
				MinutesRemaining: minutes,
			}
			h.writeJSONResponse(w, http.StatusTooManyRequests, resp)
			return
		}
		h.writeErrorResponse(w, http.StatusServiceUnavailable,
			models.ReasonStorageUnavailable, "Bonus store unavailable")
		return
	}

	resp := models.IssueNonceResponse{
		Success:          true,
		Nonce:            token.Token,
		ExpiresAt:        token.ExpiresAt,
		ExpiresInSeconds: int(token.ExpiresAt.Sub(token.IssuedAt).Seconds()),
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// ClaimNonce handles bonus token claim requests
// POST /api/v1/bonus/claim
func (h *Handlers) ClaimNonce(w http.ResponseWriter, r *http.Request) {
	req := &models.ClaimNonceRequest{
		DeviceID: strings.TrimSpace(r.Header.Get(gate.HeaderDeviceID)),
		Nonce:    strings.TrimSpace(r.Header.Get(gate.HeaderBonusNonce)),
	}
	if req.Nonce == "" && r.Body != nil {
		// Clients may also send the nonce as a JSON body.
		var body struct {
			Nonce string `json:"nonce"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			req.Nonce = strings.TrimSpace(body.Nonce)
		}
	}
	if err := req.Validate(); err != nil {
		reason := models.ReasonMissingNonce
		if errors.Is(err, models.ErrMissingDeviceID) {
			reason = models.ReasonMissingDeviceID
		}
		h.writeErrorResponse(w, http.StatusBadRequest, reason, err.Error())
		return
	}

	if err := h.bonusStore.Claim(r.Context(), req.Nonce, req.DeviceID); err != nil {
		switch {
		case errors.Is(err, bonus.ErrNotFound):
			h.writeErrorResponse(w, http.StatusNotFound,
				models.ReasonNonceNotFound, "Bonus nonce not found")
		case errors.Is(err, bonus.ErrExpired):
			h.writeErrorResponse(w, http.StatusGone,
				models.ReasonNonceExpired, "Bonus nonce has expired")
		case errors.Is(err, bonus.ErrAlreadyClaimed):
			h.writeErrorResponse(w, http.StatusConflict,
				models.ReasonNonceAlreadyClaimed, "Bonus nonce was already claimed")
		default:
			h.writeErrorResponse(w, http.StatusServiceUnavailable,
				models.ReasonStorageUnavailable, "Bonus store unavailable")
		}
		return
	}

	resp := models.ClaimNonceResponse{
		Success: true,
		Message: "Bonus claimed. Send the nonce with your next tide request.",
		Nonce:   req.Nonce,
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// TideLookup handles tide forecast requests. The quota gate runs as
// middleware before this handler, so by the time we get here the request has
// already been admitted.
// GET /api/v1/tides/{city}
func (h *Handlers) TideLookup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	city := models.NormalizeCity(vars["city"])
	if city == "" {
		h.writeErrorResponse(w, http.StatusBadRequest,
			models.ReasonMissingCity, "City is required")
		return
	}

	payload, err := h.tides.Lookup(r.Context(), city)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadGateway,
			models.ReasonUpstreamFailed, "Tide provider request failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		fmt.Printf("Error writing tide response: %v\n", err)
	}
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version

	response.AddComponent("api", models.StatusHealthy, "API is operational")
	response.AddComponent("bonus_store", models.StatusHealthy, "Bonus store is operational")

	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// If we can't encode the response, log it but don't try to send another
		// response as headers have already been written
		fmt.Printf("Error encoding JSON response: %v\n", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, reason, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(reason, message))
}
