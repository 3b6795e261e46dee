package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func signedHeader(secret string, ts time.Time, payload []byte) string {
	t := fmt.Sprintf("%d", ts.Unix())
	return fmt.Sprintf("t=%s,v1=%s", t, ComputeSignature(secret, t, payload))
}

func TestRealClient_VerifyWebhookSignature_Valid(t *testing.T) {
	secret := "whsec_test_secret"
	c := NewClient("sk_test", secret)
	payload := []byte(`{"type":"payment_intent.succeeded"}`)

	if err := c.VerifyWebhookSignature(payload, signedHeader(secret, time.Now(), payload)); err != nil {
		t.Fatalf("expected valid signature to pass, got: %v", err)
	}
}

func TestRealClient_VerifyWebhookSignature_Invalid(t *testing.T) {
	c := NewClient("sk_test", "whsec_test_secret")
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sigHeader := fmt.Sprintf("t=%s,v1=wrongsignature", ts)

	err := c.VerifyWebhookSignature([]byte(`{}`), sigHeader)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestRealClient_VerifyWebhookSignature_TamperedPayload(t *testing.T) {
	secret := "whsec_test_secret"
	c := NewClient("sk_test", secret)
	header := signedHeader(secret, time.Now(), []byte(`{"amount":100}`))

	if err := c.VerifyWebhookSignature([]byte(`{"amount":999}`), header); err == nil {
		t.Error("expected error for tampered payload")
	}
}

func TestRealClient_VerifyWebhookSignature_ExpiredTimestamp(t *testing.T) {
	secret := "whsec_test_secret"
	c := NewClient("sk_test", secret)
	payload := []byte(`{}`)

	// 10 minutes old
	header := signedHeader(secret, time.Now().Add(-10*time.Minute), payload)
	if err := c.VerifyWebhookSignature(payload, header); err == nil {
		t.Error("expected error for expired timestamp")
	}
}

func TestRealClient_VerifyWebhookSignature_MalformedHeader(t *testing.T) {
	c := NewClient("sk_test", "whsec_test_secret")
	for _, h := range []string{"", "garbage", "t=abc,v1=00", "v1=00"} {
		if err := c.VerifyWebhookSignature([]byte(`{}`), h); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("header %q: expected ErrInvalidSignature, got %v", h, err)
		}
	}
}

func TestRealClient_VerifyWebhookSignature_NotConfigured(t *testing.T) {
	c := NewClient("sk_test", "") // empty webhook secret
	if err := c.VerifyWebhookSignature([]byte(`{}`), "t=123,v1=abc"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRealClient_ParseWebhookEvent(t *testing.T) {
	c := NewClient("sk_test", "whsec")
	payload := []byte(`{
		"id": "evt_123",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1", "object": "charge", "amount": 2500, "currency": "gbp",
			"payment_intent": "pi_1", "refunded": true, "amount_refunded": 2500}}
	}`)

	event, err := c.ParseWebhookEvent(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != "charge.refunded" {
		t.Errorf("expected type charge.refunded, got %s", event.Type)
	}
	obj := event.Data.Object
	if obj.PaymentIntent != "pi_1" || !obj.Refunded || obj.AmountRefunded != 2500 {
		t.Errorf("unexpected object: %+v", obj)
	}
}

func TestRealClient_ParseWebhookEvent_RejectsMissingType(t *testing.T) {
	c := NewClient("sk_test", "whsec")
	if _, err := c.ParseWebhookEvent([]byte(`{"id":"evt_1"}`)); err == nil {
		t.Error("expected error for event without type")
	}
	if _, err := c.ParseWebhookEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestRealClient_CreateCheckoutSession_WritesCampaignMetadata(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "sk_test" {
			t.Errorf("expected basic auth with secret key")
		}
		_ = r.ParseForm()
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "cs_1", "url": "https://checkout.stripe.com/cs_1"})
	}))
	defer srv.Close()

	c := NewClient("sk_test", "whsec")
	c.BaseURL = srv.URL
	session, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		CampaignID: "C1",
		UnitAmount: 2500,
		Currency:   "GBP",
		SuccessURL: "https://example.org/ok",
		CancelURL:  "https://example.org/cancel",
		Metadata:   map[string]string{MetaDonorFirstName: "Ada", MetaDonorLastName: ""},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "cs_1" {
		t.Errorf("expected session id cs_1, got %s", session.ID)
	}

	want := map[string]string{
		"mode":                                   "payment",
		"line_items[0][price_data][currency]":    "gbp",
		"line_items[0][price_data][unit_amount]": "2500",
		"metadata[campaign_id]":                  "C1",
		"payment_intent_data[metadata][campaign_id]":      "C1",
		"payment_intent_data[metadata][donor_first_name]": "Ada",
	}
	for k, v := range want {
		if got := first(form[k]); got != v {
			t.Errorf("form[%s] = %q, want %q", k, got, v)
		}
	}
	if _, ok := form["metadata[donor_last_name]"]; ok {
		t.Error("empty metadata values must be omitted")
	}
}

func TestRealClient_CreateCheckoutSession_Subscription(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		_, _ = w.Write([]byte(`{"id":"cs_2","url":"https://checkout.stripe.com/cs_2"}`))
	}))
	defer srv.Close()

	c := NewClient("sk_test", "whsec")
	c.BaseURL = srv.URL
	_, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{
		CampaignID:    "C1",
		CampaignTitle: "Roof",
		UnitAmount:    500,
		Currency:      "gbp",
		IsRecurring:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first(form["mode"]) != "subscription" {
		t.Errorf("expected subscription mode, got %q", first(form["mode"]))
	}
	if first(form["subscription_data[metadata][campaign_id]"]) != "C1" {
		t.Error("expected campaign_id on subscription metadata")
	}
	if !strings.HasPrefix(first(form["line_items[0][price_data][product_data][name]"]), "Monthly") {
		t.Errorf("unexpected product name %q", first(form["line_items[0][price_data][product_data][name]"]))
	}
}

func TestRealClient_RetrievePaymentIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payment_intents/pi_1":
			_, _ = w.Write([]byte(`{"id":"pi_1","amount":1050,"currency":"gbp","status":"succeeded","metadata":{"campaign_id":"C1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such payment_intent"}}`))
		}
	}))
	defer srv.Close()

	c := NewClient("sk_test", "whsec")
	c.BaseURL = srv.URL

	pi, err := c.RetrievePaymentIntent(context.Background(), "pi_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pi.Amount != 1050 || pi.Status != "succeeded" || pi.Metadata["campaign_id"] != "C1" {
		t.Errorf("unexpected payment intent: %+v", pi)
	}

	_, err = c.RetrievePaymentIntent(context.Background(), "pi_missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "resource_missing" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestRealClient_NotConfigured(t *testing.T) {
	c := NewClient("", "")
	if _, err := c.CreateCheckoutSession(context.Background(), CheckoutParams{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := c.RetrievePaymentIntent(context.Background(), "pi_1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestAmountConversion(t *testing.T) {
	tests := []struct {
		major    string
		currency string
		minor    int64
	}{
		{"25", "GBP", 2500},
		{"10.50", "usd", 1050},
		{"0.01", "EUR", 1},
		{"1000", "JPY", 1000},
		{"500", "krw", 500},
	}
	for _, tt := range tests {
		d := decimal.RequireFromString(tt.major)
		if got := ToMinorUnits(d, tt.currency); got != tt.minor {
			t.Errorf("ToMinorUnits(%s, %s) = %d, want %d", tt.major, tt.currency, got, tt.minor)
		}
		if got := FromMinorUnits(tt.minor, tt.currency); !got.Equal(d) {
			t.Errorf("FromMinorUnits(%d, %s) = %s, want %s", tt.minor, tt.currency, got, d)
		}
	}
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
