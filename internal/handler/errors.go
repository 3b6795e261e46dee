package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ourhall/backend/internal/service"
)

// retryAfterConflict is the Retry-After hint sent with a transient conflict.
const retryAfterConflict = "1"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// errorStatus maps a service error onto the HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrCampaignNotFound):
		return http.StatusNotFound, "campaign_not_found"
	case errors.Is(err, service.ErrPaymentNotFound):
		return http.StatusNotFound, "payment_not_found"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, service.ErrWebhookSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, service.ErrCampaignNotOpen):
		return http.StatusConflict, "campaign_not_open"
	case errors.Is(err, service.ErrTransientConflict):
		return http.StatusServiceUnavailable, "conflict_retry"
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, service.ErrPaymentProvider):
		return http.StatusBadGateway, "payment_provider_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeServiceError writes the JSON error for err. Server-side failures are
// logged with op; invalid input carries the validation message.
func writeServiceError(w http.ResponseWriter, op string, err error, attrs ...any) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", append([]any{"error", err}, attrs...)...)
	}
	if errors.Is(err, service.ErrTransientConflict) {
		w.Header().Set("Retry-After", retryAfterConflict)
	}
	if code == "invalid_input" {
		writeJSON(w, status, map[string]string{"error": code, "message": invalidMessage(err)})
		return
	}
	writeError(w, status, code)
}

func invalidMessage(err error) string {
	return strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")
}

// writeWebhookResult acknowledges a processed webhook. Conditions a
// redelivery cannot fix are logged and acknowledged with 200 so the
// processor stops retrying; everything else gets a non-2xx answer.
func writeWebhookResult(w http.ResponseWriter, provider string, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	switch {
	case errors.Is(err, service.ErrWebhookSignature):
		slog.Warn("webhook signature rejected", "provider", provider, "error", err)
		writeError(w, http.StatusBadRequest, "invalid_signature")
	case errors.Is(err, service.ErrCampaignNotFound),
		errors.Is(err, service.ErrPaymentNotFound),
		errors.Is(err, service.ErrInvalidInput):
		slog.Warn("webhook event dropped", "provider", provider, "error", err)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	default:
		writeServiceError(w, provider+" webhook", err, "provider", provider)
	}
}
