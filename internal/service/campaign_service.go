package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ourhall/backend/internal/model"
	"github.com/ourhall/backend/internal/repository"
	"github.com/ourhall/backend/internal/storage"
	"github.com/shopspring/decimal"
)

// Admin payment list bounds.
const (
	DefaultPaymentListLimit = 50
	MaxPaymentListLimit     = 200
)

// ImageContentTypes maps accepted campaign image types to file extensions.
var ImageContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// CreateCampaignRequest は POST /api/admin/campaigns のリクエスト
type CreateCampaignRequest struct {
	Title       string
	Description string
	GoalAmount  decimal.Decimal
	Currency    string
	Status      string // draft (default) or active
	StartAt     *time.Time
	EndAt       *time.Time
}

// CampaignService はキャンペーン管理のビジネスロジック。
// Aggregate fields are never written here except through Rebuild.
type CampaignService interface {
	Create(ctx context.Context, req CreateCampaignRequest) (*model.Campaign, error)
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, id, status string) (*model.Campaign, error)
	ReplaceImage(ctx context.Context, id string, data io.Reader, contentType string) (string, error)
	RemoveImage(ctx context.Context, id string) error
	ListPayments(ctx context.Context, id string, limit int) ([]*model.Payment, error)
	Rebuild(ctx context.Context, id string) (*model.Campaign, error)
}

// CampaignServiceImpl は CampaignService の実装
type CampaignServiceImpl struct {
	campaigns  repository.CampaignRepository
	payments   repository.PaymentRepository
	aggregator Aggregator
	storage    storage.Storage
}

// NewCampaignService は CampaignServiceImpl を生成する
func NewCampaignService(campaigns repository.CampaignRepository, payments repository.PaymentRepository, aggregator Aggregator, store storage.Storage) *CampaignServiceImpl {
	return &CampaignServiceImpl{campaigns: campaigns, payments: payments, aggregator: aggregator, storage: store}
}

func (s *CampaignServiceImpl) Create(ctx context.Context, req CreateCampaignRequest) (*model.Campaign, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, invalidInput("title is required")
	}
	if len(title) > 200 {
		return nil, invalidInput("title is too long")
	}
	if !req.GoalAmount.IsPositive() {
		return nil, invalidInput("goal amount must be greater than 0")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !currencyPattern.MatchString(currency) {
		return nil, invalidInput("currency must be an ISO 4217 code, got %q", req.Currency)
	}
	status := req.Status
	if status == "" {
		status = model.CampaignDraft
	}
	if status != model.CampaignDraft && status != model.CampaignActive {
		return nil, invalidInput("a new campaign must be draft or active")
	}
	if req.StartAt != nil && req.EndAt != nil && !req.EndAt.After(*req.StartAt) {
		return nil, invalidInput("end must be after start")
	}

	c := &model.Campaign{
		Title:        title,
		Description:  strings.TrimSpace(req.Description),
		GoalAmount:   req.GoalAmount,
		Currency:     currency,
		TotalDonated: decimal.Zero,
		LastDonors:   []model.LastDonor{},
		Status:       status,
		StartAt:      req.StartAt,
		EndAt:        req.EndAt,
	}
	if err := s.campaigns.Create(ctx, c); err != nil {
		return nil, storageError("create campaign", err)
	}
	slog.Info("campaign created", "campaign_id", c.ID, "status", c.Status, "currency", c.Currency)
	return c, nil
}

func (s *CampaignServiceImpl) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := s.campaigns.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, storageError("get campaign", err)
	}
	return c, nil
}

func (s *CampaignServiceImpl) UpdateStatus(ctx context.Context, id, status string) (*model.Campaign, error) {
	if !model.ValidCampaignStatus(status) {
		return nil, invalidInput("unknown campaign status %q", status)
	}
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(c.Status, status) {
		return nil, invalidInput("cannot change status from %s to %s", c.Status, status)
	}
	if c.Status == status {
		return c, nil
	}
	if err := s.campaigns.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, storageError("update campaign status", err)
	}
	slog.Info("campaign status changed", "campaign_id", id, "from", c.Status, "to", status)
	c.Status = status
	return c, nil
}

// ReplaceImage stores a new cover image and drops the previous one.
func (s *CampaignServiceImpl) ReplaceImage(ctx context.Context, id string, data io.Reader, contentType string) (string, error) {
	ext, ok := ImageContentTypes[contentType]
	if !ok {
		return "", invalidInput("unsupported image type %q", contentType)
	}
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	key := path.Join("campaigns", c.ID, uuid.NewString()+ext)
	imageURL, err := s.storage.Save(ctx, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("save image: %w", err)
	}
	if err := s.campaigns.UpdateImageURL(ctx, c.ID, imageURL); err != nil {
		_ = s.storage.Delete(ctx, key)
		return "", storageError("update image url", err)
	}
	s.deleteImage(ctx, c.ID, c.ImageURL)
	return imageURL, nil
}

func (s *CampaignServiceImpl) RemoveImage(ctx context.Context, id string) error {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.ImageURL == "" {
		return nil
	}
	if err := s.campaigns.UpdateImageURL(ctx, c.ID, ""); err != nil {
		return storageError("clear image url", err)
	}
	s.deleteImage(ctx, c.ID, c.ImageURL)
	return nil
}

// deleteImage は古い画像を削除する（失敗しても無視）
func (s *CampaignServiceImpl) deleteImage(ctx context.Context, campaignID, imageURL string) {
	if imageURL == "" {
		return
	}
	key, ok := s.storage.KeyForURL(imageURL)
	if !ok {
		return
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		slog.Warn("old campaign image not deleted", "error", err, "campaign_id", campaignID, "key", key)
	}
}

func (s *CampaignServiceImpl) ListPayments(ctx context.Context, id string, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = DefaultPaymentListLimit
	}
	if limit > MaxPaymentListLimit {
		limit = MaxPaymentListLimit
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	payments, err := s.payments.ListByCampaign(ctx, id, limit)
	if err != nil {
		return nil, storageError("list payments", err)
	}
	return payments, nil
}

func (s *CampaignServiceImpl) Rebuild(ctx context.Context, id string) (*model.Campaign, error) {
	return s.aggregator.RebuildCampaign(ctx, id)
}
