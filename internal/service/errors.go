package service

import (
	"errors"
	"fmt"
)

var (
	// ErrCampaignNotFound is returned when the referenced campaign does not exist.
	// Retrying will not help.
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrPaymentNotFound is returned when no payment record exists for a reference.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrInvalidInput is returned for requests rejected before any transaction is opened.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCampaignNotOpen is returned when a checkout is requested for a campaign
	// that is not accepting donations.
	ErrCampaignNotOpen = errors.New("campaign is not accepting donations")
	// ErrTransientConflict is returned when a ledger transaction kept losing
	// concurrency races after the bounded retries. The caller may retry later.
	ErrTransientConflict = errors.New("transient conflict")
	// ErrStorageUnavailable is returned when the database cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrPaymentProvider is returned when a payment provider call fails.
	ErrPaymentProvider = errors.New("payment provider error")
	// ErrWebhookSignature is returned when a webhook payload fails verification.
	ErrWebhookSignature = errors.New("invalid webhook signature")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
