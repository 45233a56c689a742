package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/groupflow/internal/audit"
	"github.com/xela07ax/groupflow/internal/domain"
)

const maxAuditPage = 500

type AuditService struct {
	repo audit.Reader
}

func NewAuditService(repo audit.Reader) *AuditService {
	return &AuditService{repo: repo}
}

// FetchLogs: прогоны саг и доставленные уведомления по заявке, в порядке времени.
func (s *AuditService) FetchLogs(ctx context.Context, requestID string, limit int) ([]audit.Event, error) {
	if requestID == "" {
		return nil, domain.Invalid("request_id", "is required")
	}
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}
	logs, err := s.repo.ListByRequest(ctx, requestID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
