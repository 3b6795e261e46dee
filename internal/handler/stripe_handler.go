package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ourhall/backend/internal/model"
	"github.com/ourhall/backend/internal/service"
	"github.com/shopspring/decimal"
)

const (
	maxJSONBody    = 64 << 10 // 64 KB
	maxWebhookBody = 1 << 20  // 1 MB
)

// checkoutBody は寄付チェックアウト作成リクエストの JSON（Stripe / PayPal 共通）
type checkoutBody struct {
	CampaignID  string          `json:"campaign_id"`
	Amount      decimal.Decimal `json:"amount"`
	IsRecurring bool            `json:"is_recurring"`
	FirstName   string          `json:"first_name"`
	LastName    string          `json:"last_name"`
	Anonymous   bool            `json:"anonymous"`
	Locale      string          `json:"locale"`
}

func (b checkoutBody) request() service.CheckoutRequest {
	return service.CheckoutRequest{
		CampaignID:  b.CampaignID,
		Amount:      b.Amount,
		IsRecurring: b.IsRecurring,
		Donor: model.Donor{
			FirstName: b.FirstName,
			LastName:  b.LastName,
			Anonymous: b.Anonymous,
		},
		Locale: b.Locale,
	}
}

// decodeJSON reads a size-limited JSON body into v and writes 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

// StripeHandler は Stripe 関連の HTTP ハンドラ
type StripeHandler struct {
	svc service.StripeService
}

// NewStripeHandler は StripeHandler を生成する
func NewStripeHandler(svc service.StripeService) *StripeHandler {
	return &StripeHandler{svc: svc}
}

// Checkout handles POST /api/donations/checkout
// Stripe Checkout Session を作成して checkout_url を返す。
func (h *StripeHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var body checkoutBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.CampaignID == "" {
		writeError(w, http.StatusBadRequest, "campaign_id_required")
		return
	}

	res, err := h.svc.CreateCheckout(r.Context(), body.request())
	if err != nil {
		writeServiceError(w, "stripe checkout", err, "campaign_id", body.CampaignID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": res.URL, "session_id": res.ID})
}

// Confirm handles POST /api/donations/confirm
// ブラウザから受け取るのは PaymentIntent ID のみ。金額は Stripe から取得する。
func (h *StripeHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PaymentIntentID string `json:"payment_intent_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.PaymentIntentID == "" {
		writeError(w, http.StatusBadRequest, "payment_intent_id_required")
		return
	}

	res, err := h.svc.ConfirmPayment(r.Context(), body.PaymentIntentID)
	if err != nil {
		writeServiceError(w, "stripe confirm", err, "payment_intent_id", body.PaymentIntentID)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(res))
}

// Webhook handles POST /api/webhooks/stripe
// Stripe Webhook シグネチャ検証後にイベントを処理する。
func (h *StripeHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		writeError(w, http.StatusBadRequest, "missing_signature")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_body_failed")
		return
	}

	writeWebhookResult(w, model.ProviderStripe, h.svc.ProcessWebhook(r.Context(), payload, sigHeader))
}

// recordResponse is the public view of a recorded payment.
type recordResponse struct {
	Outcome      string          `json:"outcome"`
	PaymentRef   string          `json:"payment_ref"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	CampaignID   string          `json:"campaign_id"`
	TotalDonated decimal.Decimal `json:"total_donated"`
	DonorsCount  int             `json:"donors_count"`
}

func newRecordResponse(res *service.RecordResult) recordResponse {
	out := recordResponse{Outcome: res.Outcome}
	if p := res.Payment; p != nil {
		out.PaymentRef = p.Ref
		out.Status = p.Status
		out.Amount = p.Amount
		out.Currency = p.Currency
		out.CampaignID = p.CampaignID
	}
	if c := res.Campaign; c != nil {
		out.TotalDonated = c.TotalDonated
		out.DonorsCount = c.DonorsCount
	}
	return out
}
