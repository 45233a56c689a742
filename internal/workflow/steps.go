package workflow

import (
	"context"
	"fmt"

	"github.com/xela07ax/groupflow/internal/directory"
	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/saga"
)

// Имена саг в логах, метриках и аудите.
const (
	SagaApprove     = "approve"
	SagaAutoApprove = "auto_approve"
)

// Ключи шагов. Шаг каталога читает заявку из результата первого шага.
var (
	markApprovedKey     = saga.NewKey[*domain.Request]("markApproved")
	insertApprovedKey   = saga.NewKey[*domain.Request]("insertApproved")
	applyToDirectoryKey = saga.NewKey[directory.Result]("applyToDirectory")
)

// markApprovedStep переводит Pending -> Approved условным обновлением и
// отдает следующим шагам прежнюю запись целиком, с новым статусом.
// Откат возвращает Pending и прежнего согласующего, тоже условно.
func (s *Service) markApprovedStep(prior *domain.Request, reviewer string) saga.Step {
	id, prevApprover := prior.ID, prior.Approver
	approved, pending := domain.StatusApproved, domain.StatusPending

	return saga.NewStep(markApprovedKey,
		func(ctx context.Context, _ saga.Responses) (*domain.Request, error) {
			updated, err := s.repo.UpdateByID(ctx, id, domain.RequestPatch{
				Status:       &approved,
				Approver:     &reviewer,
				ExpectStatus: domain.StatusPending,
			})
			if err != nil {
				return nil, err
			}
			out := *prior
			out.Status, out.Approver = updated.Status, updated.Approver
			out.UpdatedAt = updated.UpdatedAt
			return &out, nil
		},
		func(ctx context.Context, _ error, _ saga.Responses) error {
			_, err := s.repo.UpdateByID(ctx, id, domain.RequestPatch{
				Status:       &pending,
				Approver:     &prevApprover,
				ExpectStatus: domain.StatusApproved,
			})
			if err != nil {
				return fmt.Errorf("revert %s to pending: %w", id, err)
			}
			return nil
		},
	)
}

// insertApprovedStep сразу пишет заявку в статусе Approved. Откат удаляет запись.
func (s *Service) insertApprovedStep(req *domain.Request) saga.Step {
	return saga.NewStep(insertApprovedKey,
		func(ctx context.Context, _ saga.Responses) (*domain.Request, error) {
			if _, err := s.repo.Insert(ctx, req); err != nil {
				return nil, err
			}
			return req, nil
		},
		func(ctx context.Context, _ error, prev saga.Responses) error {
			inserted, ok := saga.Get(prev, insertApprovedKey)
			if !ok {
				return fmt.Errorf("no inserted request to remove")
			}
			if err := s.repo.RemoveByID(ctx, inserted.ID); err != nil {
				return fmt.Errorf("remove %s: %w", inserted.ID, err)
			}
			return nil
		},
	)
}

// applyToDirectoryStep применяет заявку к каталогу. Компенсации нет:
// частично примененная внешняя мутация не откатывается.
func (s *Service) applyToDirectoryStep(source saga.Key[*domain.Request]) saga.Step {
	return saga.NewStep(applyToDirectoryKey,
		func(ctx context.Context, prev saga.Responses) (directory.Result, error) {
			req, ok := saga.Get(prev, source)
			if !ok || req == nil {
				return directory.Result{}, fmt.Errorf("step %s produced no request", source.ID())
			}
			return s.apply(ctx, req)
		},
		nil,
	)
}

func (s *Service) apply(ctx context.Context, req *domain.Request) (directory.Result, error) {
	switch req.Kind {
	case domain.KindCreateGroup:
		return s.directory.CreateGroup(ctx, *req.Create)
	case domain.KindJoinGroup:
		return s.directory.AddMembers(ctx, req.Join.GroupID, []string{req.Join.User})
	case domain.KindTransferOwnership:
		return s.directory.ChangeOwner(ctx, req.Transfer.GroupID, req.Transfer.NewOwner)
	}
	return directory.Result{}, fmt.Errorf("unsupported request kind %q", req.Kind)
}
