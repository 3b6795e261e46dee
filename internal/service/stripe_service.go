package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ourhall/backend/internal/model"
	pkgstripe "github.com/ourhall/backend/pkg/stripe"
)

// Stripe webhook event types handled by ProcessWebhook.
const (
	stripeEventPISucceeded  = "payment_intent.succeeded"
	stripeEventPIFailed     = "payment_intent.payment_failed"
	stripeEventPICanceled   = "payment_intent.canceled"
	stripeEventChargeRefund = "charge.refunded"
	stripeEventInvoicePaid  = "invoice.paid"
)

// StripeService は Stripe 連携のビジネスロジック
type StripeService interface {
	// CreateCheckout は Stripe Checkout Session を作成し URL を返す
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	// ProcessWebhook は Webhook のシグネチャを検証してイベントを処理する
	ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) error
	// ConfirmPayment は PaymentIntent をサーバー側で取得して記録する
	ConfirmPayment(ctx context.Context, paymentIntentID string) (*RecordResult, error)
}

// StripeServiceImpl は StripeService の実装
type StripeServiceImpl struct {
	client      pkgstripe.Client
	campaigns   CampaignReader
	payments    PaymentLookup
	aggregator  Aggregator
	frontendURL string
	now         func() time.Time
}

// NewStripeService は StripeServiceImpl を生成する
func NewStripeService(client pkgstripe.Client, campaigns CampaignReader, payments PaymentLookup, aggregator Aggregator, frontendURL string) *StripeServiceImpl {
	return &StripeServiceImpl{
		client:      client,
		campaigns:   campaigns,
		payments:    payments,
		aggregator:  aggregator,
		frontendURL: frontendURL,
		now:         time.Now,
	}
}

// CreateCheckout はキャンペーンを確認して Checkout Session を作成する
func (s *StripeServiceImpl) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	c, err := openCampaign(ctx, s.campaigns, req, s.now(), pkgstripe.CurrencyExponent)
	if err != nil {
		return nil, err
	}

	locale := req.Locale
	if locale == "" {
		locale = "auto"
	}
	campaignURL := s.frontendURL + "/campaigns/" + url.PathEscape(c.ID)
	params := pkgstripe.CheckoutParams{
		CampaignID:    c.ID,
		CampaignTitle: c.Title,
		UnitAmount:    pkgstripe.ToMinorUnits(req.Amount, c.Currency),
		Currency:      c.Currency,
		IsRecurring:   req.IsRecurring,
		Locale:        locale,
		SuccessURL:    campaignURL + "?donated=1&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     campaignURL,
		Metadata:      donorMetadata(req.Donor),
	}
	session, err := s.client.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	return &CheckoutResult{Provider: model.ProviderStripe, ID: session.ID, URL: session.URL}, nil
}

// ProcessWebhook は Webhook シグネチャを検証してイベントを処理する。
// Unknown events are acknowledged and ignored.
func (s *StripeServiceImpl) ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	if err := s.client.VerifyWebhookSignature(payload, sigHeader); err != nil {
		if errors.Is(err, pkgstripe.ErrNotConfigured) {
			return fmt.Errorf("%w: %v", ErrPaymentProvider, err)
		}
		return fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}
	event, err := s.client.ParseWebhookEvent(payload)
	if err != nil {
		return invalidInput("stripe webhook payload: %v", err)
	}

	obj := event.Data.Object
	switch event.Type {
	case stripeEventPISucceeded:
		return s.recordPaymentIntent(ctx, event, model.PaymentSucceeded)
	case stripeEventPIFailed:
		return s.recordPaymentIntent(ctx, event, model.PaymentFailed)
	case stripeEventPICanceled:
		return s.recordPaymentIntent(ctx, event, model.PaymentCanceled)
	case stripeEventChargeRefund:
		return s.handleChargeRefunded(ctx, event)
	case stripeEventInvoicePaid:
		return s.handleInvoicePaid(ctx, event)
	default:
		slog.Debug("stripe webhook ignored", "event_id", event.ID, "type", event.Type, "object_id", obj.ID)
	}
	return nil
}

// ConfirmPayment records a PaymentIntent as Stripe reports it. The browser
// only supplies the id; amount, currency, status and campaign come from Stripe.
func (s *StripeServiceImpl) ConfirmPayment(ctx context.Context, paymentIntentID string) (*RecordResult, error) {
	if paymentIntentID == "" {
		return nil, invalidInput("payment intent id is required")
	}
	pi, err := s.client.RetrievePaymentIntent(ctx, paymentIntentID)
	if err != nil {
		var apiErr *pkgstripe.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	campaignID := pi.Metadata[pkgstripe.MetaCampaignID]
	if campaignID == "" {
		return nil, invalidInput("payment intent %s has no campaign", pi.ID)
	}
	return s.aggregator.RecordDonation(ctx, DonationEvent{
		CampaignID: campaignID,
		PaymentRef: pi.ID,
		Provider:   model.ProviderStripe,
		Status:     paymentIntentStatus(pi.Status),
		Amount:     pkgstripe.FromMinorUnits(pi.Amount, pi.Currency),
		Currency:   pi.Currency,
		Donor:      donorFromMetadata(pi.Metadata),
	})
}

func (s *StripeServiceImpl) recordPaymentIntent(ctx context.Context, event pkgstripe.WebhookEvent, status string) error {
	obj := event.Data.Object
	campaignID := obj.Metadata[pkgstripe.MetaCampaignID]
	if campaignID == "" {
		// 定期課金の PaymentIntent は metadata を持たない。invoice.paid で記録する
		prev, err := storedPayment(ctx, s.payments, obj.ID)
		if err != nil {
			return err
		}
		if prev == nil {
			slog.Info("stripe webhook: payment intent without campaign ignored",
				"event_id", event.ID, "type", event.Type, "payment_ref", obj.ID)
			return nil
		}
		campaignID = prev.CampaignID
	}
	_, err := s.aggregator.RecordDonation(ctx, DonationEvent{
		CampaignID: campaignID,
		PaymentRef: obj.ID,
		Provider:   model.ProviderStripe,
		Status:     status,
		Amount:     pkgstripe.FromMinorUnits(obj.Amount, obj.Currency),
		Currency:   obj.Currency,
		Donor:      donorFromMetadata(obj.Metadata),
	})
	return err
}

// handleChargeRefunded reverses the payment a fully refunded charge belongs to.
// Partial refunds leave the payment counted.
func (s *StripeServiceImpl) handleChargeRefunded(ctx context.Context, event pkgstripe.WebhookEvent) error {
	obj := event.Data.Object
	if !obj.Refunded {
		slog.Info("stripe webhook: partial refund ignored",
			"event_id", event.ID, "charge_id", obj.ID, "amount_refunded", obj.AmountRefunded)
		return nil
	}
	prev, err := storedPayment(ctx, s.payments, obj.PaymentIntent)
	if err != nil {
		return err
	}
	if prev == nil {
		slog.Warn("stripe webhook: refund for unknown payment",
			"event_id", event.ID, "charge_id", obj.ID, "payment_ref", obj.PaymentIntent)
		return nil
	}
	_, err = s.aggregator.RecordDonation(ctx, reversalEvent(prev, model.PaymentRefunded))
	return err
}

// handleInvoicePaid records one recurring gift, keyed by the invoice's payment intent.
func (s *StripeServiceImpl) handleInvoicePaid(ctx context.Context, event pkgstripe.WebhookEvent) error {
	obj := event.Data.Object
	if obj.AmountPaid <= 0 {
		return nil
	}
	meta := obj.Metadata
	if obj.SubscriptionDetails != nil && obj.SubscriptionDetails.Metadata[pkgstripe.MetaCampaignID] != "" {
		meta = obj.SubscriptionDetails.Metadata
	}
	campaignID := meta[pkgstripe.MetaCampaignID]
	if campaignID == "" {
		slog.Info("stripe webhook: invoice without campaign ignored", "event_id", event.ID, "invoice_id", obj.ID)
		return nil
	}
	ref := obj.PaymentIntent
	if ref == "" {
		ref = obj.ID
	}
	_, err := s.aggregator.RecordDonation(ctx, DonationEvent{
		CampaignID:  campaignID,
		PaymentRef:  ref,
		Provider:    model.ProviderStripe,
		Status:      model.PaymentSucceeded,
		Amount:      pkgstripe.FromMinorUnits(obj.AmountPaid, obj.Currency),
		Currency:    obj.Currency,
		Donor:       donorFromMetadata(meta),
		DonationRef: obj.Subscription,
	})
	return err
}

// paymentIntentStatus maps a Stripe PaymentIntent status to a payment status.
func paymentIntentStatus(status string) string {
	switch status {
	case "succeeded":
		return model.PaymentSucceeded
	case "processing", "requires_capture":
		return model.PaymentPending
	case "canceled":
		return model.PaymentCanceled
	}
	return model.PaymentCreated
}

func donorMetadata(d model.Donor) map[string]string {
	m := map[string]string{
		pkgstripe.MetaDonorFirstName: d.FirstName,
		pkgstripe.MetaDonorLastName:  d.LastName,
	}
	if d.Anonymous {
		m[pkgstripe.MetaAnonymous] = "true"
	}
	return m
}

func donorFromMetadata(m map[string]string) model.Donor {
	return model.Donor{
		FirstName: m[pkgstripe.MetaDonorFirstName],
		LastName:  m[pkgstripe.MetaDonorLastName],
		Anonymous: m[pkgstripe.MetaAnonymous] == "true",
	}
}
