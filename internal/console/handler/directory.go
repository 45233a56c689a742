package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/groupflow/internal/domain"
	"go.uber.org/zap"
)

type ApproverLister interface {
	DefaultApprovers(ctx context.Context) ([]domain.User, error)
}

type GroupLookup interface {
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
}

// DirectoryHandler отдает справочные данные: согласующих и группы каталога.
type DirectoryHandler struct {
	approvers ApproverLister
	groups    GroupLookup
	logger    *zap.Logger
}

func NewDirectoryHandler(approvers ApproverLister, groups GroupLookup, logger *zap.Logger) *DirectoryHandler {
	return &DirectoryHandler{approvers: approvers, groups: groups, logger: logger.Named("directory")}
}

// Approvers: GET /v1/approvers, список из кэша с TTL.
func (h *DirectoryHandler) Approvers(w http.ResponseWriter, r *http.Request) {
	list, err := h.approvers.DefaultApprovers(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Group: GET /v1/groups/{id}
func (h *DirectoryHandler) Group(w http.ResponseWriter, r *http.Request) {
	group, err := h.groups.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}
