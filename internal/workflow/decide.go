package workflow

import (
	"context"
	"fmt"

	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/notify"
	"github.com/xela07ax/groupflow/internal/saga"
	"go.uber.org/zap"
)

// Decide принимает решение по заявке в статусе Pending.
//
// Deny: одно условное обновление без саги. Approve: сага markApproved +
// applyToDirectory. Проигравший гонку за одну заявку получает ErrAlreadyDecided
// и до каталога не доходит.
func (s *Service) Decide(ctx context.Context, reviewer, id string, decision domain.Decision) (*Resolution, error) {
	if decision != domain.DecisionApprove && decision != domain.DecisionDeny {
		return nil, domain.Invalid("decision", fmt.Sprintf("unknown decision %q", decision))
	}

	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("decide %s: %w", id, err)
	}
	if req.Status != domain.StatusPending {
		s.countError(domain.ErrAlreadyDecided)
		return nil, fmt.Errorf("request %s is %s: %w", id, req.Status, domain.ErrAlreadyDecided)
	}
	if err := s.authorize(ctx, reviewer, req); err != nil {
		s.countError(err)
		return nil, err
	}

	if decision == domain.DecisionDeny {
		return s.deny(ctx, reviewer, req)
	}
	return s.approve(ctx, reviewer, req)
}

// authorize: решать может назначенный согласующий или любой владелец ранга согласующего.
func (s *Service) authorize(ctx context.Context, reviewer string, req *domain.Request) error {
	if reviewer == "" {
		return fmt.Errorf("anonymous reviewer: %w", domain.ErrForbidden)
	}
	if req.Approver != "" && req.Approver == reviewer {
		return nil
	}
	ok, err := s.authority.IsApprover(ctx, reviewer)
	if err != nil {
		return fmt.Errorf("check authority of %s: %w", reviewer, err)
	}
	if !ok {
		return fmt.Errorf("user %s may not decide request %s: %w", reviewer, req.ID, domain.ErrForbidden)
	}
	return nil
}

func (s *Service) deny(ctx context.Context, reviewer string, req *domain.Request) (*Resolution, error) {
	denied := domain.StatusDenied
	updated, err := s.repo.UpdateByID(ctx, req.ID, domain.RequestPatch{
		Status:       &denied,
		Approver:     &reviewer,
		ExpectStatus: domain.StatusPending,
	})
	if err != nil {
		s.countError(err)
		return nil, fmt.Errorf("deny %s: %w", req.ID, err)
	}

	s.metrics.Requests.WithLabelValues(string(updated.Kind), "denied").Inc()
	s.logger.Info("request denied",
		zap.String("request_id", updated.ID),
		zap.String("reviewer", reviewer))
	s.emit(ctx, notify.EventRequestDenied, updated, reviewer)

	return &Resolution{Request: updated}, nil
}

func (s *Service) approve(ctx context.Context, reviewer string, req *domain.Request) (*Resolution, error) {
	res := s.run(ctx, SagaApprove, req, reviewer,
		s.markApprovedStep(req, reviewer),
		s.applyToDirectoryStep(markApprovedKey),
	)
	if err := res.Err(); err != nil {
		s.countError(err)
		return nil, err
	}

	approved, _ := saga.Get(res.Responses, markApprovedKey)
	result, _ := saga.Get(res.Responses, applyToDirectoryKey)

	s.metrics.Requests.WithLabelValues(string(approved.Kind), "approved").Inc()
	s.logger.Info("request approved",
		zap.String("request_id", approved.ID),
		zap.String("reviewer", reviewer),
		zap.String("group_id", approved.GroupID()))
	s.emit(ctx, notify.EventRequestApproved, approved, reviewer)

	return &Resolution{Request: approved, Directory: &result}, nil
}
