package handler

import (
	"errors"
	"net/http"

	"github.com/ourhall/backend/internal/service"
)

const maxImageSize = 5 << 20 // 5 MB

// ImageHandler はキャンペーン画像のアップロード・削除を処理する
type ImageHandler struct {
	campaigns service.CampaignService
}

// NewImageHandler は ImageHandler を生成する
func NewImageHandler(campaigns service.CampaignService) *ImageHandler {
	return &ImageHandler{campaigns: campaigns}
}

// Upload は POST /api/admin/campaigns/{id}/image を処理する
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	if campaignID == "" {
		writeError(w, http.StatusBadRequest, "id_required")
		return
	}

	const maxBody = maxImageSize + 512<<10 // multipart framing
	if r.ContentLength > maxBody {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file_too_large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image_required")
		return
	}
	defer file.Close()

	if header.Size > maxImageSize {
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large")
		return
	}

	ct := header.Header.Get("Content-Type")
	if _, ok := service.ImageContentTypes[ct]; !ok {
		writeError(w, http.StatusBadRequest, "invalid_content_type")
		return
	}

	imageURL, err := h.campaigns.ReplaceImage(r.Context(), campaignID, file, ct)
	if err != nil {
		writeServiceError(w, "image upload", err, "campaign_id", campaignID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"image_url": imageURL})
}

// Delete は DELETE /api/admin/campaigns/{id}/image を処理する
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	campaignID := r.PathValue("id")
	if err := h.campaigns.RemoveImage(r.Context(), campaignID); err != nil {
		writeServiceError(w, "image delete", err, "campaign_id", campaignID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
