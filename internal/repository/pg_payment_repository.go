package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ourhall/backend/internal/model"
)

type pgPaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPgPaymentRepository returns a PostgreSQL-backed PaymentRepository.
func NewPgPaymentRepository(pool *pgxpool.Pool) PaymentRepository {
	return &pgPaymentRepository{pool: pool}
}

const paymentSelectCols = `payment_ref, campaign_id, provider, status, amount, currency,
	donor, counted, counted_amount, COALESCE(donation_ref, ''), created_at, updated_at`

func scanPayment(scan func(...any) error) (*model.Payment, error) {
	p := &model.Payment{}
	return p, scan(
		&p.Ref, &p.CampaignID, &p.Provider, &p.Status, &p.Amount, &p.Currency,
		&p.Donor, &p.Counted, &p.CountedAmount, &p.DonationRef, &p.CreatedAt, &p.UpdatedAt,
	)
}

func (r *pgPaymentRepository) GetByRef(ctx context.Context, ref string) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentSelectCols+` FROM payments WHERE payment_ref = $1`, ref)
	p, err := scanPayment(row.Scan)
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

func (r *pgPaymentRepository) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentSelectCols+`
		 FROM payments
		 WHERE campaign_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		campaignID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var list []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, classify(err)
		}
		list = append(list, p)
	}
	return list, classify(rows.Err())
}
