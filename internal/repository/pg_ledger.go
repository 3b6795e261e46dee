package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ourhall/backend/internal/model"
)

type pgLedger struct {
	pool *pgxpool.Pool
}

// NewPgLedger returns a PostgreSQL-backed Ledger. Transactions run at
// SERIALIZABLE and take a row lock on the campaign first, so every
// aggregation for one campaign is serialized through that row.
func NewPgLedger(pool *pgxpool.Pool) Ledger {
	return &pgLedger{pool: pool}
}

func (l *pgLedger) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(&pgLedgerTx{tx: tx})
	})
	return classify(err)
}

type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) LockCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+campaignSelectCols+` FROM campaigns WHERE id = $1 FOR UPDATE`, id)
	c, err := scanCampaign(row.Scan)
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

func (t *pgLedgerTx) GetPayment(ctx context.Context, ref string) (*model.Payment, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+paymentSelectCols+` FROM payments WHERE payment_ref = $1 FOR UPDATE`, ref)
	p, err := scanPayment(row.Scan)
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

func (t *pgLedgerTx) ListCountedPayments(ctx context.Context, campaignID string) ([]*model.Payment, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+paymentSelectCols+`
		 FROM payments
		 WHERE campaign_id = $1 AND counted
		 ORDER BY created_at, payment_ref`, campaignID)
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

func (t *pgLedgerTx) SaveAggregate(ctx context.Context, c *model.Campaign) error {
	lastDonors := c.LastDonors
	if lastDonors == nil {
		lastDonors = []model.LastDonor{}
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE campaigns
		 SET total_donated = $1, donors_count = $2, last_donors = $3, updated_at = NOW()
		 WHERE id = $4`,
		c.TotalDonated, c.DonorsCount, lastDonors, c.ID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgLedgerTx) UpsertPayment(ctx context.Context, p *model.Payment) error {
	row := t.tx.QueryRow(ctx,
		`INSERT INTO payments
		 (payment_ref, campaign_id, provider, status, amount, currency, donor,
		  counted, counted_amount, donation_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		 ON CONFLICT (payment_ref) DO UPDATE SET
		   status = EXCLUDED.status,
		   amount = EXCLUDED.amount,
		   currency = EXCLUDED.currency,
		   donor = EXCLUDED.donor,
		   counted = EXCLUDED.counted,
		   counted_amount = EXCLUDED.counted_amount,
		   donation_ref = COALESCE(EXCLUDED.donation_ref, payments.donation_ref),
		   updated_at = NOW()
		 RETURNING created_at, updated_at`,
		p.Ref, p.CampaignID, p.Provider, p.Status, p.Amount, p.Currency, p.Donor,
		p.Counted, p.CountedAmount, p.DonationRef,
	)
	return classify(row.Scan(&p.CreatedAt, &p.UpdatedAt))
}
