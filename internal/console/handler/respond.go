package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/saga"
	"go.uber.org/zap"
)

// ErrorResponse: тело ответа с ошибкой. Для отказов саги заполнены outcome и шаги.
type ErrorResponse struct {
	Error        string   `json:"error"`
	Outcome      string   `json:"outcome,omitempty"` // rolled_back, inconsistent
	FailedStep   string   `json:"failed_step,omitempty"`
	UndoFailures []string `json:"undo_failures,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку домена в HTTP-статус.
// Три исхода саги различимы: успех, чистый откат (502/503), неконсистентность (500).
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, ErrorResponse) {
	body := ErrorResponse{Error: err.Error()}

	var (
		vErr     *domain.ValidationError
		aErr     *domain.AdmissionRejectedError
		stepErr  *saga.StepActionFailed
		compFail *saga.CompensationFailed
	)
	switch {
	case errors.As(err, &compFail):
		body.Outcome = string(saga.OutcomeInconsistent)
		body.FailedStep = compFail.Action.StepID
		body.UndoFailures = compFail.FailedUndoSteps()
		return http.StatusInternalServerError, body
	case errors.As(err, &vErr), errors.As(err, &aErr):
		return http.StatusBadRequest, body
	case errors.Is(err, domain.ErrAlreadyDecided):
		return http.StatusConflict, body
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, body
	case errors.As(err, &stepErr) && stepErr.StepID == "applyToDirectory":
		body.Outcome = string(saga.OutcomeRolledBack)
		body.FailedStep = stepErr.StepID
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return http.StatusServiceUnavailable, body
		}
		return http.StatusBadGateway, body
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, domain.ErrGatewayUnavailable), errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable, body
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
}
