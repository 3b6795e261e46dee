package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Campaign statuses.
const (
	CampaignDraft  = "draft"
	CampaignActive = "active"
	CampaignPaused = "paused"
	CampaignClosed = "closed"
)

// Campaign is a donation campaign together with its running aggregate.
// TotalDonated, DonorsCount and LastDonors are written only by the aggregator.
type Campaign struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	GoalAmount   decimal.Decimal `json:"goal_amount"`
	Currency     string          `json:"currency"`
	TotalDonated decimal.Decimal `json:"total_donated"`
	DonorsCount  int             `json:"donors_count"`
	LastDonors   []LastDonor     `json:"last_donors"`
	Status       string          `json:"status"`
	StartAt      *time.Time      `json:"start_at,omitempty"`
	EndAt        *time.Time      `json:"end_at,omitempty"`
	ImageURL     string          `json:"image_url,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LastDonor is one entry of the newest-first recent donor cache.
// PaymentRef lets a reversal drop the entry it belongs to.
type LastDonor struct {
	Name       string          `json:"name"`
	Amount     decimal.Decimal `json:"amount"`
	At         int64           `json:"at"` // unix millis
	PaymentRef string          `json:"payment_ref,omitempty"`
}

// AcceptsDonations reports whether new checkouts may be opened for the campaign at now.
func (c *Campaign) AcceptsDonations(now time.Time) bool {
	if c.Status != CampaignActive {
		return false
	}
	if c.StartAt != nil && now.Before(*c.StartAt) {
		return false
	}
	if c.EndAt != nil && !now.Before(*c.EndAt) {
		return false
	}
	return true
}

// ValidCampaignStatus reports whether s is a known campaign status.
func ValidCampaignStatus(s string) bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignClosed:
		return true
	}
	return false
}

// CanTransition reports whether a campaign may move from one status to another.
// closed is terminal.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case CampaignDraft:
		return to == CampaignActive || to == CampaignClosed
	case CampaignActive:
		return to == CampaignPaused || to == CampaignClosed
	case CampaignPaused:
		return to == CampaignActive || to == CampaignClosed
	}
	return false
}
