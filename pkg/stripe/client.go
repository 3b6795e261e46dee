// Package stripe provides a lightweight Stripe API client.
// Uses raw HTTP calls (no SDK) to minimize external dependencies.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the Stripe REST API endpoint.
const DefaultBaseURL = "https://api.stripe.com"

// WebhookTolerance は署名タイムスタンプの許容ずれ
const WebhookTolerance = 5 * time.Minute

// Metadata keys written on checkout sessions, payment intents and subscriptions.
const (
	MetaCampaignID     = "campaign_id"
	MetaDonorFirstName = "donor_first_name"
	MetaDonorLastName  = "donor_last_name"
	MetaAnonymous      = "anonymous"
)

// CheckoutParams はチェックアウトセッション作成に必要なパラメータ
type CheckoutParams struct {
	CampaignID    string
	CampaignTitle string
	UnitAmount    int64  // minor units
	Currency      string // lowercase ISO code, e.g. "gbp"
	IsRecurring   bool
	Locale        string // "en" | "auto" ...
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string // copied to the session and to the payment intent / subscription
}

// CheckoutSession is the subset of a created Checkout Session the caller needs.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PaymentIntent is the subset of a PaymentIntent used to record a payment.
type PaymentIntent struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

// WebhookEventObject は payment_intent / charge / invoice の data.object
type WebhookEventObject struct {
	ID       string            `json:"id"`
	Object   string            `json:"object"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`

	// charge
	PaymentIntent  string `json:"payment_intent"`
	Refunded       bool   `json:"refunded"`
	AmountRefunded int64  `json:"amount_refunded"`

	// invoice
	AmountPaid          int64  `json:"amount_paid"`
	Subscription        string `json:"subscription"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

// WebhookEvent は Stripe Webhook のイベント
type WebhookEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Data struct {
		Object WebhookEventObject `json:"object"`
	} `json:"data"`
}

// Client は Stripe API クライアントのインターフェース
type Client interface {
	// CreateCheckoutSession は Stripe Checkout Session を作成する
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error)
	// RetrievePaymentIntent は PaymentIntent をサーバー側で取得する
	RetrievePaymentIntent(ctx context.Context, id string) (PaymentIntent, error)
	// VerifyWebhookSignature は Stripe-Signature ヘッダーを検証する
	VerifyWebhookSignature(payload []byte, sigHeader string) error
	// ParseWebhookEvent は Webhook ペイロードをパースする
	ParseWebhookEvent(payload []byte) (WebhookEvent, error)
}

// RealClient は Stripe API への raw HTTP クライアント実装
type RealClient struct {
	SecretKey     string
	WebhookSecret string // whsec_...
	BaseURL       string
	httpClient    *http.Client
	now           func() time.Time
}

// NewClient は RealClient を生成する
func NewClient(secretKey, webhookSecret string) *RealClient {
	return &RealClient{
		SecretKey:     secretKey,
		WebhookSecret: webhookSecret,
		BaseURL:       DefaultBaseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		now:           time.Now,
	}
}

var (
	// ErrNotConfigured は Stripe が設定されていない場合のエラー
	ErrNotConfigured = errors.New("stripe: not configured")
	// ErrInvalidSignature is returned when a webhook signature does not verify.
	ErrInvalidSignature = errors.New("stripe: invalid webhook signature")
)

// APIError is an error response from the Stripe API.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// CreateCheckoutSession は campaign metadata 付きの Checkout Session を作成する
func (c *RealClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error) {
	if c.SecretKey == "" {
		return CheckoutSession{}, ErrNotConfigured
	}

	data := url.Values{}
	name := "Donation"
	if params.CampaignTitle != "" {
		name = "Donation: " + params.CampaignTitle
	}
	if params.IsRecurring {
		data.Set("mode", "subscription")
		data.Set("line_items[0][price_data][recurring][interval]", "month")
		name = "Monthly " + strings.ToLower(name[:1]) + name[1:]
	} else {
		data.Set("mode", "payment")
	}
	data.Set("line_items[0][price_data][product_data][name]", name)
	data.Set("line_items[0][price_data][currency]", strings.ToLower(params.Currency))
	data.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.UnitAmount, 10))
	data.Set("line_items[0][quantity]", "1")
	data.Set("success_url", params.SuccessURL)
	data.Set("cancel_url", params.CancelURL)
	data.Set("client_reference_id", params.CampaignID)
	if params.Locale != "" {
		data.Set("locale", params.Locale)
	}

	// 後続のイベントがすべて campaign_id を持つように
	// session と payment_intent / subscription の両方に metadata を書く
	meta := map[string]string{MetaCampaignID: params.CampaignID}
	for k, v := range params.Metadata {
		if v != "" {
			meta[k] = v
		}
	}
	target := "payment_intent_data"
	if params.IsRecurring {
		target = "subscription_data"
	}
	for k, v := range meta {
		data.Set("metadata["+k+"]", v)
		data.Set(target+"[metadata]["+k+"]", v)
	}

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", data, &session); err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe create checkout session: %w", err)
	}
	if session.URL == "" {
		return CheckoutSession{}, errors.New("stripe create checkout session: empty URL in response")
	}
	return session, nil
}

// RetrievePaymentIntent は PaymentIntent を取得する
func (c *RealClient) RetrievePaymentIntent(ctx context.Context, id string) (PaymentIntent, error) {
	if c.SecretKey == "" {
		return PaymentIntent{}, ErrNotConfigured
	}
	if id == "" {
		return PaymentIntent{}, errors.New("stripe retrieve payment intent: empty id")
	}
	var pi PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(id), nil, &pi); err != nil {
		return PaymentIntent{}, fmt.Errorf("stripe retrieve payment intent: %w", err)
	}
	return pi, nil
}

func (c *RealClient) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.SetBasicAuth(c.SecretKey, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error *APIError `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error == nil {
			errResp.Error = &APIError{Message: http.StatusText(resp.StatusCode)}
		}
		errResp.Error.StatusCode = resp.StatusCode
		return errResp.Error
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// VerifyWebhookSignature は Stripe-Signature ヘッダーを HMAC-SHA256 で検証する
func (c *RealClient) VerifyWebhookSignature(payload []byte, sigHeader string) error {
	if c.WebhookSecret == "" {
		return ErrNotConfigured
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: invalid signature header format", ErrInvalidSignature)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp in signature header", ErrInvalidSignature)
	}
	age := c.now().Sub(time.Unix(ts, 0))
	if age > WebhookTolerance || age < -WebhookTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance (replay attack protection)", ErrInvalidSignature)
	}

	expected := ComputeSignature(c.WebhookSecret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature verification failed", ErrInvalidSignature)
}

// ComputeSignature returns the hex v1 signature Stripe sends for payload.
func ComputeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhookEvent は Webhook ペイロードのイベントタイプと ID をパースする
func (c *RealClient) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, err
	}
	if event.Type == "" {
		return WebhookEvent{}, errors.New("stripe: webhook event without type")
	}
	return event, nil
}
