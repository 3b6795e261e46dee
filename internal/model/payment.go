package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payment providers.
const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
	ProviderManual = "manual"
)

// Payment statuses.
const (
	PaymentCreated   = "created"
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentConfirmed = "confirmed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
	PaymentCanceled  = "canceled"
)

// AnonymousDonorName is shown in place of a donor's name when none is given
// or the donor asked to stay anonymous.
const AnonymousDonorName = "Anonymous"

// Donor holds the optional donor identity attached to a payment.
type Donor struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// DisplayName returns the name shown in the recent donor list.
func (d Donor) DisplayName() string {
	if d.Anonymous {
		return AnonymousDonorName
	}
	if name := strings.TrimSpace(d.FullName); name != "" {
		return name
	}
	if name := strings.TrimSpace(d.FirstName + " " + d.LastName); name != "" {
		return name
	}
	return AnonymousDonorName
}

// IsZero reports whether no donor field is set.
func (d Donor) IsZero() bool {
	return d == Donor{}
}

// Payment is the record of one payment attempt, keyed by the provider's
// reference. Counted tracks whether Amount is currently included in the
// campaign aggregate; CountedAmount is the amount that was added.
type Payment struct {
	Ref           string          `json:"payment_ref"`
	CampaignID    string          `json:"campaign_id"`
	Provider      string          `json:"provider"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Donor         Donor           `json:"donor"`
	Counted       bool            `json:"counted"`
	CountedAmount decimal.Decimal `json:"counted_amount"`
	DonationRef   string          `json:"donation_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ValidProvider reports whether p is a known payment provider.
func ValidProvider(p string) bool {
	switch p {
	case ProviderStripe, ProviderPayPal, ProviderManual:
		return true
	}
	return false
}

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentCreated, PaymentPending, PaymentSucceeded, PaymentConfirmed,
		PaymentFailed, PaymentRefunded, PaymentCanceled:
		return true
	}
	return false
}

// IsSuccessStatus reports whether a payment in status s counts toward the campaign totals.
func IsSuccessStatus(s string) bool {
	return s == PaymentSucceeded || s == PaymentConfirmed
}

// IsReversalStatus reports whether s takes a previously counted payment back out of the totals.
// A collected payment cannot fail afterwards, so failed is not a reversal.
func IsReversalStatus(s string) bool {
	return s == PaymentRefunded || s == PaymentCanceled
}
