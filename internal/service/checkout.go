package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ourhall/backend/internal/model"
	"github.com/ourhall/backend/internal/repository"
	"github.com/shopspring/decimal"
)

// CheckoutRequest は寄付チェックアウト作成のリクエスト（Stripe / PayPal 共通）
type CheckoutRequest struct {
	CampaignID  string
	Amount      decimal.Decimal // major units, in the campaign currency
	IsRecurring bool
	Donor       model.Donor
	Locale      string
}

// CheckoutResult is the redirect target of a created checkout.
type CheckoutResult struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	URL      string `json:"url"`
}

// CampaignReader is the campaign lookup the payment services need.
type CampaignReader interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
}

// PaymentLookup resolves a stored payment by reference. Refund notifications
// carry no campaign metadata, so the campaign is taken from the stored record.
type PaymentLookup interface {
	GetByRef(ctx context.Context, ref string) (*model.Payment, error)
}

// maxDonationAmount caps a single checkout.
var maxDonationAmount = decimal.NewFromInt(1_000_000)

// openCampaign loads the campaign for a checkout and checks that it is
// accepting donations at now. exponent gives the provider's minor-unit digits
// for a currency; amounts finer than that are rejected rather than rounded.
func openCampaign(ctx context.Context, campaigns CampaignReader, req CheckoutRequest, now time.Time, exponent func(currency string) int32) (*model.Campaign, error) {
	if strings.TrimSpace(req.CampaignID) == "" {
		return nil, invalidInput("campaign id is required")
	}
	if !req.Amount.IsPositive() {
		return nil, invalidInput("amount must be greater than 0")
	}
	if req.Amount.GreaterThan(maxDonationAmount) {
		return nil, invalidInput("amount exceeds %s", maxDonationAmount)
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, invalidInput("amount has more than 2 decimal places")
	}

	c, err := campaigns.GetByID(ctx, req.CampaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, storageError("get campaign", err)
	}
	if !c.AcceptsDonations(now) {
		return nil, ErrCampaignNotOpen
	}
	if places := exponent(c.Currency); !req.Amount.Equal(req.Amount.Truncate(places)) {
		return nil, invalidInput("amount has more than %d decimal places for %s", places, c.Currency)
	}
	return c, nil
}

// storageError maps a repository error outside the ledger to the service taxonomy.
func storageError(op string, err error) error {
	if errors.Is(err, repository.ErrUnavailable) {
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// storedPayment looks up ref, returning nil without error when no record exists.
func storedPayment(ctx context.Context, payments PaymentLookup, ref string) (*model.Payment, error) {
	if ref == "" {
		return nil, nil
	}
	p, err := payments.GetByRef(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get payment", err)
	}
	return p, nil
}

// reversalEvent builds the event that takes a stored payment out of the totals.
func reversalEvent(p *model.Payment, status string) DonationEvent {
	return DonationEvent{
		CampaignID: p.CampaignID,
		PaymentRef: p.Ref,
		Provider:   p.Provider,
		Status:     status,
		Amount:     p.Amount,
		Currency:   p.Currency,
	}
}
