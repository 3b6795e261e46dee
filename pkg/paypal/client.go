// Package paypal provides a small PayPal REST client for orders, captures and
// webhook verification. Access tokens come from the OAuth2 client-credentials
// flow and are cached by golang.org/x/oauth2.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// API base URLs.
const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

// Capture statuses as reported by PayPal.
const (
	CaptureCompleted         = "COMPLETED"
	CapturePending           = "PENDING"
	CaptureDeclined          = "DECLINED"
	CaptureFailed            = "FAILED"
	CaptureRefunded          = "REFUNDED"
	CapturePartiallyRefunded = "PARTIALLY_REFUNDED"
)

// Webhook event types handled by the service.
const (
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	EventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
)

var (
	// ErrNotConfigured は PayPal が設定されていない場合のエラー
	ErrNotConfigured = errors.New("paypal: not configured")
	// ErrInvalidSignature is returned when PayPal does not confirm a webhook signature.
	ErrInvalidSignature = errors.New("paypal: invalid webhook signature")
)

// Money is PayPal's amount object. Value is a decimal string in major units.
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Decimal parses Value.
func (m Money) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(m.Value)
}

// CurrencyExponent returns the decimal places PayPal accepts for currency.
// HUF, JPY and TWD take no decimals.
func CurrencyExponent(currency string) int32 {
	switch strings.ToUpper(currency) {
	case "HUF", "JPY", "TWD":
		return 0
	}
	return 2
}

// NewMoney formats amount for the PayPal API.
func NewMoney(amount decimal.Decimal, currency string) Money {
	currency = strings.ToUpper(currency)
	return Money{CurrencyCode: currency, Value: amount.StringFixed(CurrencyExponent(currency))}
}

// Link is a HATEOAS link.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// OrderParams はオーダー作成に必要なパラメータ
type OrderParams struct {
	CampaignID  string
	Description string
	Amount      decimal.Decimal
	Currency    string
	ReturnURL   string
	CancelURL   string
}

// Order is a created order and the URL the donor approves it at.
type Order struct {
	ID         string
	Status     string
	ApproveURL string
}

// Capture is one capture of a captured order.
type Capture struct {
	ID         string
	OrderID    string
	Status     string
	Amount     Money
	CampaignID string
	PayerGiven string
	PayerSur   string
}

// WebhookResource is the resource of a PAYMENT.CAPTURE.* event: a capture,
// or for refunds, the refund whose "up" link points at the capture.
type WebhookResource struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   Money             `json:"amount"`
	CustomID string            `json:"custom_id"`
	Links    []Link            `json:"links"`
	Payable  *PayableBreakdown `json:"seller_payable_breakdown,omitempty"`
}

// PayableBreakdown is the seller_payable_breakdown of a refund.
type PayableBreakdown struct {
	TotalRefundedAmount Money `json:"total_refunded_amount"`
}

// RefundedTotal returns everything refunded on the capture so far. Older
// payloads without seller_payable_breakdown fall back to this refund's amount.
func (r WebhookResource) RefundedTotal() (decimal.Decimal, error) {
	if r.Payable != nil && r.Payable.TotalRefundedAmount.Value != "" {
		return r.Payable.TotalRefundedAmount.Decimal()
	}
	return r.Amount.Decimal()
}

// WebhookEvent は PayPal Webhook のイベント
type WebhookEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  WebhookResource `json:"resource"`
}

// CaptureIDFromLinks returns the capture id a refund resource refers to.
func (r WebhookResource) CaptureIDFromLinks() string {
	for _, l := range r.Links {
		if l.Rel != "up" {
			continue
		}
		u, err := url.Parse(l.Href)
		if err != nil {
			return ""
		}
		parts := strings.Split(strings.TrimRight(u.Path, "/"), "/")
		if len(parts) >= 2 && parts[len(parts)-2] == "captures" {
			return parts[len(parts)-1]
		}
	}
	return ""
}

// Client は PayPal API クライアントのインターフェース
type Client interface {
	CreateOrder(ctx context.Context, params OrderParams) (Order, error)
	CaptureOrder(ctx context.Context, orderID string) (Capture, error)
	// VerifyWebhookSignature は verify-webhook-signature API で署名を検証する
	VerifyWebhookSignature(ctx context.Context, header http.Header, payload []byte) error
	ParseWebhookEvent(payload []byte) (WebhookEvent, error)
}

// RealClient は PayPal REST API クライアント実装
type RealClient struct {
	BaseURL    string
	WebhookID  string
	configured bool
	httpClient *http.Client
}

// NewClient creates a client authenticated with the client-credentials flow.
// baseURL defaults to the sandbox.
func NewClient(clientID, clientSecret, webhookID, baseURL string) *RealClient {
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := &http.Client{Timeout: 30 * time.Second}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(ctx)
	httpClient.Timeout = 30 * time.Second

	return &RealClient{
		BaseURL:    baseURL,
		WebhookID:  webhookID,
		configured: clientID != "" && clientSecret != "",
		httpClient: httpClient,
	}
}

// APIError is an error response from the PayPal API.
type APIError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal: %d %s: %s", e.StatusCode, e.Name, e.Message)
}

// CreateOrder は CAPTURE intent のオーダーを作成する
func (c *RealClient) CreateOrder(ctx context.Context, params OrderParams) (Order, error) {
	if !c.configured {
		return Order{}, ErrNotConfigured
	}
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"custom_id":   params.CampaignID,
			"description": params.Description,
			"amount":      NewMoney(params.Amount, params.Currency),
		}},
		"application_context": map[string]any{
			"return_url":          params.ReturnURL,
			"cancel_url":          params.CancelURL,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
		},
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []Link `json:"links"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", "", body, &resp); err != nil {
		return Order{}, fmt.Errorf("paypal create order: %w", err)
	}
	order := Order{ID: resp.ID, Status: resp.Status}
	for _, l := range resp.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			order.ApproveURL = l.Href
			break
		}
	}
	if order.ApproveURL == "" {
		return Order{}, errors.New("paypal create order: no approve link in response")
	}
	return order, nil
}

// CaptureOrder captures an approved order. The order id is sent as
// PayPal-Request-Id so a retried capture returns the original result.
func (c *RealClient) CaptureOrder(ctx context.Context, orderID string) (Capture, error) {
	if !c.configured {
		return Capture{}, ErrNotConfigured
	}
	if orderID == "" {
		return Capture{}, errors.New("paypal capture order: empty order id")
	}

	var resp struct {
		ID    string `json:"id"`
		Payer struct {
			Name struct {
				GivenName string `json:"given_name"`
				Surname   string `json:"surname"`
			} `json:"name"`
		} `json:"payer"`
		PurchaseUnits []struct {
			CustomID string `json:"custom_id"`
			Payments struct {
				Captures []struct {
					ID       string `json:"id"`
					Status   string `json:"status"`
					Amount   Money  `json:"amount"`
					CustomID string `json:"custom_id"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, "capture-"+orderID, map[string]any{}, &resp); err != nil {
		return Capture{}, fmt.Errorf("paypal capture order: %w", err)
	}
	if len(resp.PurchaseUnits) == 0 || len(resp.PurchaseUnits[0].Payments.Captures) == 0 {
		return Capture{}, errors.New("paypal capture order: no capture in response")
	}
	pu := resp.PurchaseUnits[0]
	cp := pu.Payments.Captures[0]
	campaignID := cp.CustomID
	if campaignID == "" {
		campaignID = pu.CustomID
	}
	return Capture{
		ID:         cp.ID,
		OrderID:    resp.ID,
		Status:     cp.Status,
		Amount:     cp.Amount,
		CampaignID: campaignID,
		PayerGiven: resp.Payer.Name.GivenName,
		PayerSur:   resp.Payer.Name.Surname,
	}, nil
}

// VerifyWebhookSignature asks PayPal to verify the transmission headers
// against the configured webhook id.
func (c *RealClient) VerifyWebhookSignature(ctx context.Context, header http.Header, payload []byte) error {
	if !c.configured || c.WebhookID == "" {
		return ErrNotConfigured
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not JSON", ErrInvalidSignature)
	}
	body := map[string]any{
		"auth_algo":         header.Get("Paypal-Auth-Algo"),
		"cert_url":          header.Get("Paypal-Cert-Url"),
		"transmission_id":   header.Get("Paypal-Transmission-Id"),
		"transmission_sig":  header.Get("Paypal-Transmission-Sig"),
		"transmission_time": header.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", "", body, &resp); err != nil {
		return fmt.Errorf("paypal verify webhook signature: %w", err)
	}
	if resp.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: status %q", ErrInvalidSignature, resp.VerificationStatus)
	}
	return nil
}

// ParseWebhookEvent は Webhook ペイロードをパースする
func (c *RealClient) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, err
	}
	if event.EventType == "" {
		return WebhookEvent{}, errors.New("paypal: webhook event without event_type")
	}
	return event, nil
}

func (c *RealClient) do(ctx context.Context, method, path, requestID string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
