package workflow

import (
	"errors"

	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/saga"
)

// errorType: метка ошибки для groupflow_errors_total.
func errorType(err error) string {
	var (
		vErr     *domain.ValidationError
		aErr     *domain.AdmissionRejectedError
		compFail *saga.CompensationFailed
	)
	switch {
	case errors.As(err, &compFail):
		return "inconsistent"
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &aErr):
		return "admission"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrAlreadyDecided):
		return "already_decided"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "gateway"
	case errors.Is(err, domain.ErrTransient):
		return "storage"
	}
	return "internal"
}
