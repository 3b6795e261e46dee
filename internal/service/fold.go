package service

import (
	"strings"
	"time"

	"github.com/ourhall/backend/internal/model"
	"github.com/shopspring/decimal"
)

// Outcomes of folding one payment observation into a campaign.
const (
	OutcomeCounted          = "counted"           // totals increased
	OutcomeReversed         = "reversed"          // totals decreased
	OutcomeDuplicate        = "duplicate"         // already counted, totals untouched
	OutcomeRecorded         = "recorded"          // non-success status stored, totals untouched
	OutcomeStale            = "stale"             // event older than the stored state, ignored
	OutcomeCurrencyMismatch = "currency_mismatch" // stored uncounted for reconciliation
)

// DefaultLastDonorsWindow bounds Campaign.LastDonors.
const DefaultLastDonorsWindow = 20

// foldPayment brings c in line with next given the stored state prev (nil on
// first observation). It sets next's Counted and CountedAmount and returns
// the outcome. Totals move by countedAmount(next) - countedAmount(prev).
func foldPayment(c *model.Campaign, prev, next *model.Payment, window int, now time.Time) string {
	wasCounted := prev != nil && prev.Counted
	if prev != nil {
		next.CreatedAt = prev.CreatedAt
		if next.DonationRef == "" {
			next.DonationRef = prev.DonationRef
		}
		if next.Donor.IsZero() {
			next.Donor = prev.Donor
		}
	}

	switch {
	case prev != nil && isTerminal(prev.Status):
		keepStored(next, prev)
		return OutcomeStale

	case wasCounted && model.IsSuccessStatus(next.Status):
		next.Amount = prev.Amount
		next.Currency = prev.Currency
		next.Counted = true
		next.CountedAmount = prev.CountedAmount
		return OutcomeDuplicate

	case wasCounted && model.IsReversalStatus(next.Status):
		c.TotalDonated = c.TotalDonated.Sub(prev.CountedAmount)
		if c.DonorsCount > 0 {
			c.DonorsCount--
		}
		c.LastDonors = removeLastDonor(c.LastDonors, next.Ref)
		next.Amount = prev.Amount
		next.Currency = prev.Currency
		next.Counted = false
		next.CountedAmount = decimal.Zero
		return OutcomeReversed

	case wasCounted:
		// created/pending/failed after success: delivered out of order.
		keepStored(next, prev)
		return OutcomeStale

	case model.IsSuccessStatus(next.Status):
		if !strings.EqualFold(next.Currency, c.Currency) {
			next.Counted = false
			next.CountedAmount = decimal.Zero
			return OutcomeCurrencyMismatch
		}
		c.TotalDonated = c.TotalDonated.Add(next.Amount)
		c.DonorsCount++
		c.LastDonors = pushLastDonor(c.LastDonors, model.LastDonor{
			Name:       next.Donor.DisplayName(),
			Amount:     next.Amount,
			At:         now.UnixMilli(),
			PaymentRef: next.Ref,
		}, window)
		next.Counted = true
		next.CountedAmount = next.Amount
		return OutcomeCounted
	}

	next.Counted = false
	next.CountedAmount = decimal.Zero
	return OutcomeRecorded
}

// isTerminal reports whether a stored payment status can no longer change.
// A refunded or canceled payment is never counted again, even if an older
// success event is redelivered afterwards.
func isTerminal(status string) bool {
	return status == model.PaymentRefunded || status == model.PaymentCanceled
}

func keepStored(next, prev *model.Payment) {
	next.Status = prev.Status
	next.Amount = prev.Amount
	next.Currency = prev.Currency
	next.Counted = prev.Counted
	next.CountedAmount = prev.CountedAmount
}

func pushLastDonor(list []model.LastDonor, d model.LastDonor, window int) []model.LastDonor {
	if window <= 0 {
		window = DefaultLastDonorsWindow
	}
	out := make([]model.LastDonor, 0, min(len(list)+1, window))
	out = append(out, d)
	for _, e := range list {
		if len(out) == window {
			break
		}
		out = append(out, e)
	}
	return out
}

func removeLastDonor(list []model.LastDonor, paymentRef string) []model.LastDonor {
	out := make([]model.LastDonor, 0, len(list))
	for _, e := range list {
		if e.PaymentRef == paymentRef {
			continue
		}
		out = append(out, e)
	}
	return out
}

// rebuildAggregate recomputes the aggregate of c from its counted payments.
// payments must be ordered oldest first.
func rebuildAggregate(c *model.Campaign, payments []*model.Payment, window int) {
	if window <= 0 {
		window = DefaultLastDonorsWindow
	}
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.CountedAmount)
	}
	c.TotalDonated = total
	c.DonorsCount = len(payments)

	c.LastDonors = make([]model.LastDonor, 0, min(len(payments), window))
	for i := len(payments) - 1; i >= 0 && len(c.LastDonors) < window; i-- {
		p := payments[i]
		c.LastDonors = append(c.LastDonors, model.LastDonor{
			Name:       p.Donor.DisplayName(),
			Amount:     p.CountedAmount,
			At:         p.CreatedAt.UnixMilli(),
			PaymentRef: p.Ref,
		})
	}
}
