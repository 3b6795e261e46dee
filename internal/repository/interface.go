package repository

import (
	"context"
	"time"

	"github.com/ourhall/backend/internal/model"
)

// DB は DB 接続の生存確認を行うインターフェース
type DB interface {
	Ping(ctx context.Context) error
}

// CampaignRepository handles campaign persistence outside of aggregation.
// Aggregate columns are never written through it.
type CampaignRepository interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateImageURL(ctx context.Context, id, imageURL string) error
	// CloseExpired closes every active or paused campaign whose end_at is
	// before now and returns the number of campaigns closed.
	CloseExpired(ctx context.Context, now time.Time) (int, error)
}

// PaymentRepository reads payment records outside of a ledger transaction.
type PaymentRepository interface {
	GetByRef(ctx context.Context, ref string) (*model.Payment, error)
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.Payment, error)
}

// Ledger runs fn inside one atomic transaction over campaigns and payments.
// fn must not retain tx after it returns. A lost serialization race is
// reported as ErrConflict so the caller can run fn again.
type Ledger interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the set of reads and writes available inside a ledger
// transaction. All reads happen before any write in the aggregator.
type LedgerTx interface {
	// LockCampaign reads the campaign and holds it until commit.
	// Returns ErrNotFound if the campaign does not exist.
	LockCampaign(ctx context.Context, id string) (*model.Campaign, error)
	// GetPayment returns ErrNotFound if no record exists for ref.
	GetPayment(ctx context.Context, ref string) (*model.Payment, error)
	// ListCountedPayments returns the counted payments of a campaign, oldest first.
	ListCountedPayments(ctx context.Context, campaignID string) ([]*model.Payment, error)
	SaveAggregate(ctx context.Context, c *model.Campaign) error
	UpsertPayment(ctx context.Context, p *model.Payment) error
}
