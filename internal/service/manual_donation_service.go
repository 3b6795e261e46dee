package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/ourhall/backend/internal/model"
	"github.com/ourhall/backend/internal/repository"
	"github.com/shopspring/decimal"
)

// ManualRefPrefix marks payment references synthesized for manual entries so
// they never collide with processor references.
const ManualRefPrefix = "manual_"

// ManualDonationRequest is an offline donation entered by an admin.
type ManualDonationRequest struct {
	Amount      decimal.Decimal
	Currency    string // defaults to the campaign currency; any other value is rejected
	Donor       model.Donor
	ExternalRef string // optional receipt / cheque number
}

// ManualDonationService records admin-entered donations.
type ManualDonationService interface {
	RecordManual(ctx context.Context, adminID, campaignID string, req ManualDonationRequest) (*RecordResult, error)
}

// ManualDonationServiceImpl implements ManualDonationService.
type ManualDonationServiceImpl struct {
	campaigns  CampaignReader
	aggregator Aggregator
	newRef     func() string
}

// NewManualDonationService creates a ManualDonationServiceImpl.
func NewManualDonationService(campaigns CampaignReader, aggregator Aggregator) *ManualDonationServiceImpl {
	return &ManualDonationServiceImpl{
		campaigns:  campaigns,
		aggregator: aggregator,
		newRef:     uuid.NewString,
	}
}

// RecordManual records the donation as confirmed. Without an external
// reference every call synthesizes a fresh payment reference, so two entries
// of the same amount are two donations. With one, re-submitting the same
// reference is idempotent.
func (s *ManualDonationServiceImpl) RecordManual(ctx context.Context, adminID, campaignID string, req ManualDonationRequest) (*RecordResult, error) {
	c, err := s.campaigns.GetByID(ctx, campaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, storageError("get campaign", err)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = c.Currency
	}
	// An admin entry in a foreign currency is a typo, not a payment to reconcile.
	if currency != c.Currency {
		return nil, invalidInput("currency %s does not match campaign currency %s", currency, c.Currency)
	}

	ref := ManualRefPrefix + s.newRef()
	if ext := strings.TrimSpace(req.ExternalRef); ext != "" {
		ref = ManualRefPrefix + ext
	}

	res, err := s.aggregator.RecordDonation(ctx, DonationEvent{
		CampaignID: campaignID,
		PaymentRef: ref,
		Provider:   model.ProviderManual,
		Status:     model.PaymentConfirmed,
		Amount:     req.Amount,
		Currency:   currency,
		Donor:      req.Donor,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("manual donation recorded",
		"admin_id", adminID, "campaign_id", campaignID, "payment_ref", ref, "outcome", res.Outcome)
	return res, nil
}
