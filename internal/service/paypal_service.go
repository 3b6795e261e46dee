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
	"github.com/ourhall/backend/pkg/paypal"
)

// PayPalService is the PayPal event source: order creation, server-side
// capture and capture webhooks.
type PayPalService interface {
	CreateOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	// CaptureOrder captures an approved order and records the capture.
	CaptureOrder(ctx context.Context, orderID string) (*RecordResult, error)
	ProcessWebhook(ctx context.Context, header http.Header, payload []byte) error
}

// PayPalServiceImpl implements PayPalService.
type PayPalServiceImpl struct {
	client      paypal.Client
	campaigns   CampaignReader
	payments    PaymentLookup
	aggregator  Aggregator
	frontendURL string
	now         func() time.Time
}

// NewPayPalService creates a PayPalServiceImpl.
func NewPayPalService(client paypal.Client, campaigns CampaignReader, payments PaymentLookup, aggregator Aggregator, frontendURL string) *PayPalServiceImpl {
	return &PayPalServiceImpl{
		client:      client,
		campaigns:   campaigns,
		payments:    payments,
		aggregator:  aggregator,
		frontendURL: frontendURL,
		now:         time.Now,
	}
}

func (s *PayPalServiceImpl) CreateOrder(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.IsRecurring {
		return nil, invalidInput("recurring donations are not available with PayPal")
	}
	c, err := openCampaign(ctx, s.campaigns, req, s.now(), paypal.CurrencyExponent)
	if err != nil {
		return nil, err
	}
	campaignURL := s.frontendURL + "/campaigns/" + url.PathEscape(c.ID)
	order, err := s.client.CreateOrder(ctx, paypal.OrderParams{
		CampaignID:  c.ID,
		Description: c.Title,
		Amount:      req.Amount,
		Currency:    c.Currency,
		ReturnURL:   campaignURL + "?paypal=return",
		CancelURL:   campaignURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	return &CheckoutResult{Provider: model.ProviderPayPal, ID: order.ID, URL: order.ApproveURL}, nil
}

func (s *PayPalServiceImpl) CaptureOrder(ctx context.Context, orderID string) (*RecordResult, error) {
	if orderID == "" {
		return nil, invalidInput("order id is required")
	}
	capture, err := s.client.CaptureOrder(ctx, orderID)
	if err != nil {
		var apiErr *paypal.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrPaymentNotFound
		}
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			return nil, invalidInput("order %s cannot be captured: %s", orderID, apiErr.Message)
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	if capture.CampaignID == "" {
		return nil, invalidInput("order %s has no campaign", orderID)
	}
	amount, err := capture.Amount.Decimal()
	if err != nil {
		return nil, invalidInput("capture amount %q: %v", capture.Amount.Value, err)
	}
	return s.aggregator.RecordDonation(ctx, DonationEvent{
		CampaignID:  capture.CampaignID,
		PaymentRef:  capture.ID,
		Provider:    model.ProviderPayPal,
		Status:      captureStatus(capture.Status),
		Amount:      amount,
		Currency:    capture.Amount.CurrencyCode,
		Donor:       model.Donor{FirstName: capture.PayerGiven, LastName: capture.PayerSur},
		DonationRef: capture.OrderID,
	})
}

// ProcessWebhook verifies the transmission with PayPal and records
// PAYMENT.CAPTURE.* events. Other events are acknowledged and ignored.
func (s *PayPalServiceImpl) ProcessWebhook(ctx context.Context, header http.Header, payload []byte) error {
	if err := s.client.VerifyWebhookSignature(ctx, header, payload); err != nil {
		if errors.Is(err, paypal.ErrInvalidSignature) {
			return fmt.Errorf("%w: %v", ErrWebhookSignature, err)
		}
		return fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	event, err := s.client.ParseWebhookEvent(payload)
	if err != nil {
		return invalidInput("paypal webhook payload: %v", err)
	}

	res := event.Resource
	switch event.EventType {
	case paypal.EventCaptureCompleted:
		return s.recordCapture(ctx, event, model.PaymentSucceeded)
	case paypal.EventCaptureDenied:
		return s.recordCapture(ctx, event, model.PaymentFailed)
	case paypal.EventCaptureRefunded:
		return s.handleRefund(ctx, event)
	default:
		slog.Debug("paypal webhook ignored", "event_id", event.ID, "type", event.EventType, "resource_id", res.ID)
	}
	return nil
}

func (s *PayPalServiceImpl) recordCapture(ctx context.Context, event paypal.WebhookEvent, status string) error {
	res := event.Resource
	campaignID := res.CustomID
	if campaignID == "" {
		prev, err := storedPayment(ctx, s.payments, res.ID)
		if err != nil {
			return err
		}
		if prev == nil {
			slog.Info("paypal webhook: capture without campaign ignored", "event_id", event.ID, "payment_ref", res.ID)
			return nil
		}
		campaignID = prev.CampaignID
	}
	amount, err := res.Amount.Decimal()
	if err != nil {
		return invalidInput("capture amount %q: %v", res.Amount.Value, err)
	}
	_, err = s.aggregator.RecordDonation(ctx, DonationEvent{
		CampaignID: campaignID,
		PaymentRef: res.ID,
		Provider:   model.ProviderPayPal,
		Status:     status,
		Amount:     amount,
		Currency:   res.Amount.CurrencyCode,
	})
	return err
}

// handleRefund reverses the capture a refund points at once the cumulative
// refunded amount covers the capture. Until then the payment stays counted.
func (s *PayPalServiceImpl) handleRefund(ctx context.Context, event paypal.WebhookEvent) error {
	captureID := event.Resource.CaptureIDFromLinks()
	prev, err := storedPayment(ctx, s.payments, captureID)
	if err != nil {
		return err
	}
	if prev == nil {
		slog.Warn("paypal webhook: refund for unknown capture",
			"event_id", event.ID, "refund_id", event.Resource.ID, "payment_ref", captureID)
		return nil
	}
	refunded, err := event.Resource.RefundedTotal()
	if err != nil {
		return invalidInput("refund amount: %v", err)
	}
	if refunded.LessThan(prev.Amount) {
		slog.Info("paypal webhook: partial refund ignored",
			"event_id", event.ID, "payment_ref", captureID, "refunded_total", refunded.String())
		return nil
	}
	_, err = s.aggregator.RecordDonation(ctx, reversalEvent(prev, model.PaymentRefunded))
	return err
}

// captureStatus maps a PayPal capture status to a payment status.
func captureStatus(status string) string {
	switch status {
	case paypal.CaptureCompleted, paypal.CapturePartiallyRefunded:
		return model.PaymentSucceeded
	case paypal.CapturePending:
		return model.PaymentPending
	case paypal.CaptureDeclined, paypal.CaptureFailed:
		return model.PaymentFailed
	case paypal.CaptureRefunded:
		return model.PaymentRefunded
	}
	return model.PaymentCreated
}
