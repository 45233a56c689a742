package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/xela07ax/groupflow/internal/audit"
	"go.uber.org/zap"
)

type AuditLogProvider interface {
	FetchLogs(ctx context.Context, requestID string, limit int) ([]audit.Event, error)
}

type AuditHandler struct {
	service AuditLogProvider
	logger  *zap.Logger
}

func NewAuditHandler(s AuditLogProvider, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger.Named("audit")}
}

// GetLogs возвращает историю саг и уведомлений по заявке
// GET /v1/audit?request_id=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.service.FetchLogs(r.Context(), requestID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
