package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthPingTimeout keeps a hung database from stalling the probe.
const healthPingTimeout = 2 * time.Second

type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
}

// Health は DB への疎通を確認する。エラー詳細はログにのみ出す
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("health check failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:   "unhealthy",
			Service:  "ourhall",
			Database: "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Service: "ourhall", Database: "ok"})
}
