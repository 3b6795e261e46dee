package handler

import (
	"io"
	"net/http"

	"github.com/ourhall/backend/internal/model"
	"github.com/ourhall/backend/internal/service"
)

// PayPalHandler handles PayPal order creation, capture and webhooks.
type PayPalHandler struct {
	svc service.PayPalService
}

func NewPayPalHandler(svc service.PayPalService) *PayPalHandler {
	return &PayPalHandler{svc: svc}
}

// CreateOrder handles POST /api/donations/paypal/order
func (h *PayPalHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body checkoutBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "campaign_id_required")
		return
	}

	res, err := h.svc.CreateOrder(r.Context(), body.request())
	if err != nil {
		writeServiceError(w, "paypal order", err, "campaign_id", body.CampaignID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": res.ID, "approve_url": res.URL})
}

// Capture handles POST /api/donations/paypal/capture
func (h *PayPalHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID string `json:"order_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required")
		return
	}

	res, err := h.svc.CaptureOrder(r.Context(), body.OrderID)
	if err != nil {
		writeServiceError(w, "paypal capture", err, "order_id", body.OrderID)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(res))
}

// Webhook handles POST /api/webhooks/paypal
func (h *PayPalHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_body_failed")
		return
	}
	writeWebhookResult(w, model.ProviderPayPal, h.svc.ProcessWebhook(r.Context(), r.Header, payload))
}
