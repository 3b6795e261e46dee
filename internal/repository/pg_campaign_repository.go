package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ourhall/backend/internal/model"
)

type pgCampaignRepository struct {
	pool *pgxpool.Pool
}

// NewPgCampaignRepository returns a PostgreSQL-backed CampaignRepository.
func NewPgCampaignRepository(pool *pgxpool.Pool) CampaignRepository {
	return &pgCampaignRepository{pool: pool}
}

const campaignSelectCols = `id, title, COALESCE(description, ''), goal_amount, currency,
	total_donated, donors_count, last_donors, status, start_at, end_at,
	COALESCE(image_url, ''), created_at, updated_at`

func scanCampaign(scan func(...any) error) (*model.Campaign, error) {
	c := &model.Campaign{}
	if err := scan(
		&c.ID, &c.Title, &c.Description, &c.GoalAmount, &c.Currency,
		&c.TotalDonated, &c.DonorsCount, &c.LastDonors, &c.Status, &c.StartAt, &c.EndAt,
		&c.ImageURL, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if c.LastDonors == nil {
		c.LastDonors = []model.LastDonor{}
	}
	return c, nil
}

func (r *pgCampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO campaigns
		 (title, description, goal_amount, currency, status, start_at, end_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		 RETURNING `+campaignSelectCols,
		c.Title, c.Description, c.GoalAmount, c.Currency, c.Status, c.StartAt, c.EndAt,
	)
	created, err := scanCampaign(row.Scan)
	if err != nil {
		return classify(err)
	}
	*c = *created
	return nil
}

func (r *pgCampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+campaignSelectCols+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row.Scan)
	if err != nil {
		return nil, classify(err)
	}
	return c, nil
}

func (r *pgCampaignRepository) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgCampaignRepository) UpdateImageURL(ctx context.Context, id, imageURL string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE campaigns SET image_url = NULLIF($1, ''), updated_at = NOW() WHERE id = $2`, imageURL, id)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgCampaignRepository) CloseExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE campaigns SET status = 'closed', updated_at = NOW()
		 WHERE status IN ('active', 'paused') AND end_at IS NOT NULL AND end_at <= $1`, now)
	if err != nil {
		return 0, classify(err)
	}
	return int(tag.RowsAffected()), nil
}
