package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/infra/auth"
	"github.com/xela07ax/groupflow/internal/workflow"
	"go.uber.org/zap"
)

// RequestService: то, что обработчику нужно от конечного автомата заявок.
type RequestService interface {
	Submit(ctx context.Context, requester string, in *domain.Request) (*workflow.Resolution, error)
	Decide(ctx context.Context, reviewer, id string, decision domain.Decision) (*workflow.Resolution, error)
	Get(ctx context.Context, id string) (*domain.Request, error)
	ListByCreator(ctx context.Context, creator string, status domain.RequestStatus) ([]*domain.Request, error)
	ListByApprover(ctx context.Context, approver string, status domain.RequestStatus) ([]*domain.Request, error)
}

type RequestHandler struct {
	service RequestService
	logger  *zap.Logger
}

func NewRequestHandler(s RequestService, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{service: s, logger: logger.Named("requests")}
}

// Routes монтируется на /v1/requests.
func (h *RequestHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/create", h.Create)
	r.Post("/join", h.Join)
	r.Post("/owner", h.Owner)
	r.Get("/creator", h.ListMine)
	r.Get("/approver", h.ListToApprove)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/approve", h.decide(domain.DecisionApprove))
		r.Put("/deny", h.decide(domain.DecisionDeny))
	})
	return r
}

type requestMeta struct {
	Creator  string `json:"creator,omitempty"`
	Approver string `json:"approver,omitempty"`
}

type createBody struct {
	requestMeta
	domain.CreateGroupPayload
}

type joinBody struct {
	requestMeta
	domain.JoinGroupPayload
}

type ownerBody struct {
	requestMeta
	domain.TransferOwnershipPayload
}

// Create: POST /v1/requests/create
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if !decode(w, r, &body) {
		return
	}
	h.submit(w, r, &domain.Request{
		Kind: domain.KindCreateGroup, Creator: body.Creator, Approver: body.Approver,
		Create: &body.CreateGroupPayload,
	})
}

// Join: POST /v1/requests/join
func (h *RequestHandler) Join(w http.ResponseWriter, r *http.Request) {
	var body joinBody
	if !decode(w, r, &body) {
		return
	}
	h.submit(w, r, &domain.Request{
		Kind: domain.KindJoinGroup, Creator: body.Creator, Approver: body.Approver,
		Join: &body.JoinGroupPayload,
	})
}

// Owner: POST /v1/requests/owner
func (h *RequestHandler) Owner(w http.ResponseWriter, r *http.Request) {
	var body ownerBody
	if !decode(w, r, &body) {
		return
	}
	h.submit(w, r, &domain.Request{
		Kind: domain.KindTransferOwnership, Creator: body.Creator, Approver: body.Approver,
		Transfer: &body.TransferOwnershipPayload,
	})
}

func (h *RequestHandler) submit(w http.ResponseWriter, r *http.Request, in *domain.Request) {
	res, err := h.service.Submit(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *RequestHandler) decide(decision domain.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := h.service.Decide(r.Context(), auth.UserID(r.Context()), id, decision)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Get: GET /v1/requests/{id}
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ListMine: GET /v1/requests/creator?status=Pending
func (h *RequestHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	status := domain.RequestStatus(r.URL.Query().Get("status"))
	list, err := h.service.ListByCreator(r.Context(), auth.UserID(r.Context()), status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListToApprove: GET /v1/requests/approver?status=Pending
func (h *RequestHandler) ListToApprove(w http.ResponseWriter, r *http.Request) {
	status := domain.RequestStatus(r.URL.Query().Get("status"))
	list, err := h.service.ListByApprover(r.Context(), auth.UserID(r.Context()), status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
