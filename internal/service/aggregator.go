package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ourhall/backend/internal/model"
	"github.com/ourhall/backend/internal/repository"
	"github.com/shopspring/decimal"
)

// DonationEvent is what every event source hands to the aggregator: one
// observation of a payment attempt. PaymentRef is the idempotency key.
type DonationEvent struct {
	CampaignID  string
	PaymentRef  string
	Provider    string
	Status      string
	Amount      decimal.Decimal // major currency units
	Currency    string
	Donor       model.Donor
	DonationRef string // optional link to a provider-side donation detail (checkout session, order)
}

// RecordResult describes what a RecordDonation call did.
type RecordResult struct {
	Outcome  string
	Payment  *model.Payment
	Campaign *model.Campaign
}

// TotalsChanged reports whether the call moved the campaign totals.
func (r *RecordResult) TotalsChanged() bool {
	return r.Outcome == OutcomeCounted || r.Outcome == OutcomeReversed
}

// Aggregator folds payment observations into campaign totals exactly once
// per payment reference.
type Aggregator interface {
	// RecordDonation is safe to call concurrently and repeatedly with the same
	// event; totals change only when the counted state of the payment flips.
	RecordDonation(ctx context.Context, ev DonationEvent) (*RecordResult, error)
	// RebuildCampaign recomputes the campaign aggregate from its counted payments.
	RebuildCampaign(ctx context.Context, campaignID string) (*model.Campaign, error)
}

// AggregatorConfig tunes the aggregator. Zero values select defaults.
type AggregatorConfig struct {
	LastDonorsWindow int
	MaxAttempts      uint          // transaction attempts before ErrTransientConflict
	InitialBackoff   time.Duration // first retry delay, grows exponentially
	MaxBackoff       time.Duration
	Now              func() time.Time
}

type aggregator struct {
	ledger repository.Ledger
	cfg    AggregatorConfig
}

// NewAggregator creates an Aggregator over the given ledger.
func NewAggregator(ledger repository.Ledger, cfg AggregatorConfig) Aggregator {
	if cfg.LastDonorsWindow <= 0 {
		cfg.LastDonorsWindow = DefaultLastDonorsWindow
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 25 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &aggregator{ledger: ledger, cfg: cfg}
}

func (a *aggregator) RecordDonation(ctx context.Context, ev DonationEvent) (*RecordResult, error) {
	ev, err := normalizeEvent(ev)
	if err != nil {
		return nil, err
	}

	var result *RecordResult
	err = a.inTx(ctx, func(tx repository.LedgerTx) error {
		c, err := tx.LockCampaign(ctx, ev.CampaignID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCampaignNotFound
		}
		if err != nil {
			return err
		}

		prev, err := tx.GetPayment(ctx, ev.PaymentRef)
		if errors.Is(err, repository.ErrNotFound) {
			prev = nil
		} else if err != nil {
			return err
		}
		if prev != nil && prev.CampaignID != ev.CampaignID {
			return invalidInput("payment %s belongs to campaign %s", ev.PaymentRef, prev.CampaignID)
		}

		next := &model.Payment{
			Ref:         ev.PaymentRef,
			CampaignID:  ev.CampaignID,
			Provider:    ev.Provider,
			Status:      ev.Status,
			Amount:      ev.Amount,
			Currency:    ev.Currency,
			Donor:       ev.Donor,
			DonationRef: ev.DonationRef,
		}
		outcome := foldPayment(c, prev, next, a.cfg.LastDonorsWindow, a.cfg.Now())

		if outcome == OutcomeCounted || outcome == OutcomeReversed {
			if err := tx.SaveAggregate(ctx, c); err != nil {
				return err
			}
		}
		if err := tx.UpsertPayment(ctx, next); err != nil {
			return err
		}
		result = &RecordResult{Outcome: outcome, Payment: next, Campaign: c}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case OutcomeCurrencyMismatch:
		slog.Warn("payment currency does not match campaign",
			"campaign_id", ev.CampaignID, "payment_ref", ev.PaymentRef,
			"payment_currency", ev.Currency, "campaign_currency", result.Campaign.Currency)
	case OutcomeCounted, OutcomeReversed:
		slog.Info("campaign aggregate updated",
			"campaign_id", ev.CampaignID, "payment_ref", ev.PaymentRef,
			"provider", ev.Provider, "outcome", result.Outcome,
			"total_donated", result.Campaign.TotalDonated.String(),
			"donors_count", result.Campaign.DonorsCount)
	default:
		slog.Debug("payment recorded",
			"campaign_id", ev.CampaignID, "payment_ref", ev.PaymentRef, "outcome", result.Outcome)
	}
	return result, nil
}

func (a *aggregator) RebuildCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	if strings.TrimSpace(campaignID) == "" {
		return nil, invalidInput("campaign id is required")
	}

	var rebuilt *model.Campaign
	err := a.inTx(ctx, func(tx repository.LedgerTx) error {
		c, err := tx.LockCampaign(ctx, campaignID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCampaignNotFound
		}
		if err != nil {
			return err
		}
		payments, err := tx.ListCountedPayments(ctx, campaignID)
		if err != nil {
			return err
		}
		rebuildAggregate(c, payments, a.cfg.LastDonorsWindow)
		if err := tx.SaveAggregate(ctx, c); err != nil {
			return err
		}
		rebuilt = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("campaign aggregate rebuilt",
		"campaign_id", campaignID,
		"total_donated", rebuilt.TotalDonated.String(),
		"donors_count", rebuilt.DonorsCount)
	return rebuilt, nil
}

// inTx runs fn in a ledger transaction, re-running the whole transaction
// while it reports repository.ErrConflict or ErrDuplicate, up to MaxAttempts.
func (a *aggregator) inTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.InitialBackoff
	b.MaxInterval = a.cfg.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := a.ledger.InTx(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		// A duplicate key means a concurrent transaction inserted the same
		// payment first; re-reading it on the next attempt resolves the race.
		if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrDuplicate) {
			slog.Debug("ledger transaction conflict, retrying", "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(a.cfg.MaxAttempts))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%w: gave up after %d attempts: %v", ErrTransientConflict, attempt, err)
	case errors.Is(err, repository.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	case errors.Is(err, ErrCampaignNotFound), errors.Is(err, ErrInvalidInput):
		return err
	}
	return fmt.Errorf("ledger transaction: %w", err)
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// normalizeEvent validates ev at the boundary, before any transaction is opened.
func normalizeEvent(ev DonationEvent) (DonationEvent, error) {
	ev.CampaignID = strings.TrimSpace(ev.CampaignID)
	ev.PaymentRef = strings.TrimSpace(ev.PaymentRef)
	ev.Provider = strings.ToLower(strings.TrimSpace(ev.Provider))
	ev.Status = strings.ToLower(strings.TrimSpace(ev.Status))
	ev.Currency = strings.ToUpper(strings.TrimSpace(ev.Currency))

	if ev.CampaignID == "" {
		return ev, invalidInput("campaign id is required")
	}
	if ev.PaymentRef == "" {
		return ev, invalidInput("payment reference is required")
	}
	if !model.ValidProvider(ev.Provider) {
		return ev, invalidInput("unknown provider %q", ev.Provider)
	}
	if !model.ValidPaymentStatus(ev.Status) {
		return ev, invalidInput("unknown payment status %q", ev.Status)
	}
	if !currencyPattern.MatchString(ev.Currency) {
		return ev, invalidInput("currency must be an ISO 4217 code, got %q", ev.Currency)
	}
	if ev.Amount.IsNegative() {
		return ev, invalidInput("amount must not be negative")
	}
	if model.IsSuccessStatus(ev.Status) && !ev.Amount.IsPositive() {
		return ev, invalidInput("amount must be greater than 0")
	}
	if !ev.Amount.Equal(ev.Amount.Round(2)) {
		return ev, invalidInput("amount has more than 2 decimal places")
	}
	return ev, nil
}
