package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ourhall/backend/internal/model"
	"github.com/ourhall/backend/internal/service"
	"github.com/ourhall/backend/pkg/auth"
	"github.com/shopspring/decimal"
)

// CampaignHandler serves the public campaign read and the admin campaign endpoints.
type CampaignHandler struct {
	svc    service.CampaignService
	manual service.ManualDonationService
}

func NewCampaignHandler(svc service.CampaignService, manual service.ManualDonationService) *CampaignHandler {
	return &CampaignHandler{svc: svc, manual: manual}
}

// publicDonor is a lastDonors entry without its payment reference.
type publicDonor struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	At     int64           `json:"at"`
}

type publicCampaign struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	GoalAmount   decimal.Decimal `json:"goal_amount"`
	Currency     string          `json:"currency"`
	TotalDonated decimal.Decimal `json:"total_donated"`
	DonorsCount  int             `json:"donors_count"`
	LastDonors   []publicDonor   `json:"last_donors"`
	Status       string          `json:"status"`
	StartAt      *time.Time      `json:"start_at,omitempty"`
	EndAt        *time.Time      `json:"end_at,omitempty"`
	ImageURL     string          `json:"image_url,omitempty"`
}

func toPublicCampaign(c *model.Campaign) publicCampaign {
	donors := make([]publicDonor, 0, len(c.LastDonors))
	for _, d := range c.LastDonors {
		donors = append(donors, publicDonor{Name: d.Name, Amount: d.Amount, At: d.At})
	}
	return publicCampaign{
		ID:           c.ID,
		Title:        c.Title,
		Description:  c.Description,
		GoalAmount:   c.GoalAmount,
		Currency:     c.Currency,
		TotalDonated: c.TotalDonated,
		DonorsCount:  c.DonorsCount,
		LastDonors:   donors,
		Status:       c.Status,
		StartAt:      c.StartAt,
		EndAt:        c.EndAt,
		ImageURL:     c.ImageURL,
	}
}

// Get handles GET /api/campaigns/{id}
// Draft campaigns are not visible publicly.
func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "get campaign", err, "campaign_id", r.PathValue("id"))
		return
	}
	if c.Status == model.CampaignDraft {
		writeError(w, http.StatusNotFound, "campaign_not_found")
		return
	}
	writeJSON(w, http.StatusOK, toPublicCampaign(c))
}

// AdminGet handles GET /api/admin/campaigns/{id}
func (h *CampaignHandler) AdminGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "get campaign", err, "campaign_id", r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Create handles POST /api/admin/campaigns
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		GoalAmount  decimal.Decimal `json:"goal_amount"`
		Currency    string          `json:"currency"`
		Status      string          `json:"status"`
		StartAt     *time.Time      `json:"start_at"`
		EndAt       *time.Time      `json:"end_at"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	c, err := h.svc.Create(r.Context(), service.CreateCampaignRequest{
		Title:       body.Title,
		Description: body.Description,
		GoalAmount:  body.GoalAmount,
		Currency:    body.Currency,
		Status:      body.Status,
		StartAt:     body.StartAt,
		EndAt:       body.EndAt,
	})
	if err != nil {
		writeServiceError(w, "create campaign", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// UpdateStatus handles PATCH /api/admin/campaigns/{id}/status
func (h *CampaignHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Status == "" {
		writeError(w, http.StatusBadRequest, "status_required")
		return
	}

	c, err := h.svc.UpdateStatus(r.Context(), r.PathValue("id"), body.Status)
	if err != nil {
		writeServiceError(w, "update campaign status", err, "campaign_id", r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Rebuild handles POST /api/admin/campaigns/{id}/rebuild
func (h *CampaignHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Rebuild(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "rebuild campaign", err, "campaign_id", r.PathValue("id"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListPayments handles GET /api/admin/campaigns/{id}/payments?limit=N
func (h *CampaignHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	limit := service.DefaultPaymentListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= service.MaxPaymentListLimit {
			limit = n
		}
	}

	payments, err := h.svc.ListPayments(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, "list payments", err, "campaign_id", r.PathValue("id"))
		return
	}
	if payments == nil {
		payments = []*model.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// RecordDonation handles POST /api/admin/campaigns/{id}/donations
// 現金・小切手など決済代行を経由しない寄付を記録する。
func (h *CampaignHandler) RecordDonation(w http.ResponseWriter, r *http.Request) {
	adminID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body struct {
		Amount      decimal.Decimal `json:"amount"`
		Currency    string          `json:"currency"`
		DonorName   string          `json:"donor_name"`
		Anonymous   bool            `json:"anonymous"`
		ExternalRef string          `json:"external_ref"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.manual.RecordManual(r.Context(), adminID, r.PathValue("id"), service.ManualDonationRequest{
		Amount:      body.Amount,
		Currency:    body.Currency,
		Donor:       model.Donor{FullName: body.DonorName, Anonymous: body.Anonymous},
		ExternalRef: body.ExternalRef,
	})
	if err != nil {
		writeServiceError(w, "record manual donation", err, "campaign_id", r.PathValue("id"))
		return
	}

	// 201 only when this call added the donation to the totals
	status := http.StatusCreated
	if res.Outcome != service.OutcomeCounted {
		status = http.StatusOK
	}
	writeJSON(w, status, newRecordResponse(res))
}
