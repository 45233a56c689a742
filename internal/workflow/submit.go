package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/xela07ax/groupflow/internal/admission"
	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/notify"
	"github.com/xela07ax/groupflow/internal/saga"
	"go.uber.org/zap"
)

// Submit принимает новую заявку от requester.
//
// Порядок: валидация и проверки по каталогу, контроль допуска, выдача ID группы,
// затем запись Pending либо, для рангов с автоодобрением, сага
// insertApproved + applyToDirectory. Ошибки валидации и допуска возвращаются
// до того, как создано хоть какое-то состояние.
func (s *Service) Submit(ctx context.Context, requester string, in *domain.Request) (*Resolution, error) {
	req, proposal, err := s.prepare(ctx, requester, in)
	if err != nil {
		s.countError(err)
		return nil, err
	}

	if proposal != nil {
		isApprover, err := s.authority.IsApprover(ctx, requester)
		if err != nil {
			return nil, fmt.Errorf("check authority of %s: %w", requester, err)
		}
		if err := s.admission.Check(ctx, isApprover, *proposal); err != nil {
			s.countError(err)
			return nil, err
		}
	}

	if err := s.assignGroupID(ctx, req); err != nil {
		return nil, err
	}

	auto, err := s.authority.CanAutoApprove(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("check auto-approve of %s: %w", requester, err)
	}
	if auto {
		return s.autoApprove(ctx, requester, req)
	}

	if _, err := s.repo.Insert(ctx, req); err != nil {
		s.countError(err)
		return nil, fmt.Errorf("store request: %w", err)
	}

	s.metrics.Requests.WithLabelValues(string(req.Kind), "submitted").Inc()
	s.logger.Info("request submitted",
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("creator", requester),
		zap.String("group_id", req.GroupID()))
	s.emit(ctx, notify.EventRequestCreated, req, requester)

	return &Resolution{Request: req}, nil
}

func (s *Service) autoApprove(ctx context.Context, requester string, req *domain.Request) (*Resolution, error) {
	req.Status = domain.StatusApproved
	req.Approver = requester

	res := s.run(ctx, SagaAutoApprove, req, requester,
		s.insertApprovedStep(req),
		s.applyToDirectoryStep(insertApprovedKey),
	)
	if err := res.Err(); err != nil {
		s.countError(err)
		return nil, err
	}

	result, _ := saga.Get(res.Responses, applyToDirectoryKey)
	s.metrics.Requests.WithLabelValues(string(req.Kind), "auto_approved").Inc()
	s.logger.Info("request auto-approved",
		zap.String("request_id", req.ID),
		zap.String("creator", requester),
		zap.String("group_id", req.GroupID()))
	s.emit(ctx, notify.EventRequestApproved, req, requester)

	return &Resolution{Request: req, Directory: &result}, nil
}

// prepare проверяет ввод и возвращает нормализованную заявку.
// proposal == nil означает, что заявка не меняет состав группы.
func (s *Service) prepare(ctx context.Context, requester string, in *domain.Request) (*domain.Request, *admission.Proposal, error) {
	if in == nil {
		return nil, nil, domain.Invalid("request", "is empty")
	}
	if requester == "" {
		return nil, nil, fmt.Errorf("anonymous requester: %w", domain.ErrForbidden)
	}
	if !in.Kind.Valid() {
		return nil, nil, domain.Invalid("kind", fmt.Sprintf("unknown request kind %q", in.Kind))
	}
	if in.Creator != "" && in.Creator != requester {
		return nil, nil, domain.Invalid("creator", "must match the authenticated user")
	}

	req := &domain.Request{
		ID:       uuid.NewString(),
		Kind:     in.Kind,
		Creator:  requester,
		Approver: strings.TrimSpace(in.Approver),
		Status:   domain.StatusPending,
	}
	if err := s.checkApprover(ctx, req.Approver); err != nil {
		return nil, nil, err
	}

	var (
		proposal *admission.Proposal
		err      error
	)
	switch in.Kind {
	case domain.KindCreateGroup:
		if in.Create == nil {
			return nil, nil, domain.Invalid("create", "payload is required")
		}
		p := *in.Create
		req.Create = &p
		proposal, err = s.prepareCreate(ctx, requester, req.Create)
	case domain.KindJoinGroup:
		if in.Join == nil {
			return nil, nil, domain.Invalid("join", "payload is required")
		}
		p := *in.Join
		req.Join = &p
		proposal, err = s.prepareJoin(ctx, requester, req.Join)
	case domain.KindTransferOwnership:
		if in.Transfer == nil {
			return nil, nil, domain.Invalid("transfer", "payload is required")
		}
		p := *in.Transfer
		req.Transfer = &p
		err = s.prepareTransfer(ctx, req.Transfer)
	}
	if err != nil {
		return nil, nil, err
	}
	return req, proposal, nil
}

// checkApprover: назначенный согласующий обязан иметь ранг согласующего.
func (s *Service) checkApprover(ctx context.Context, approver string) error {
	if approver == "" {
		return nil
	}
	ok, err := s.authority.IsApprover(ctx, approver)
	if err != nil {
		return fmt.Errorf("check authority of %s: %w", approver, err)
	}
	if !ok {
		return domain.Invalid("approver", fmt.Sprintf("%s is not an approver", approver))
	}
	return nil
}

func (s *Service) prepareCreate(ctx context.Context, requester string, p *domain.CreateGroupPayload) (*admission.Proposal, error) {
	p.GroupName = strings.TrimSpace(p.GroupName)
	p.Hierarchy = strings.TrimSpace(p.Hierarchy)
	switch {
	case p.GroupName == "":
		return nil, domain.Invalid("group_name", "is required")
	case p.Hierarchy == "":
		return nil, domain.Invalid("hierarchy", "is required")
	case !slices.Contains(domain.Classifications, p.Classification):
		return nil, domain.Invalid("classification",
			fmt.Sprintf("must be one of %s", strings.Join(domain.Classifications, ", ")))
	case !s.ids.Known(p.Type):
		return nil, domain.Invalid("type", fmt.Sprintf("unknown group type %q", p.Type))
	}
	if p.Owner == "" {
		p.Owner = requester
	}
	p.Members = uniqueMembers(p.Members)
	p.GroupID = ""

	if s.ids.Validated(p.Type) {
		// имя выбирает человек: оно же идентификатор, и оно должно быть свободно
		_, err := s.directory.GetGroup(ctx, p.GroupName)
		switch {
		case err == nil:
			return nil, domain.Invalid("group_name", fmt.Sprintf("group %q already exists", p.GroupName))
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("check group name %s: %w", p.GroupName, err)
		}
		p.GroupID = p.GroupName
	}

	return &admission.Proposal{Event: admission.EventCreate, Members: p.Members}, nil
}

func (s *Service) prepareJoin(ctx context.Context, requester string, p *domain.JoinGroupPayload) (*admission.Proposal, error) {
	p.GroupID = strings.TrimSpace(p.GroupID)
	if p.GroupID == "" {
		return nil, domain.Invalid("group_id", "is required")
	}
	if p.User == "" {
		p.User = requester
	}
	if p.User != requester {
		return nil, domain.Invalid("user", "only the requester can join a group")
	}

	group, err := s.directory.GetGroup(ctx, p.GroupID)
	if err != nil {
		return nil, fmt.Errorf("lookup group %s: %w", p.GroupID, err)
	}
	if slices.Contains(group.Members, p.User) {
		return nil, domain.Invalid("user", fmt.Sprintf("%s is already a member of %s", p.User, p.GroupID))
	}

	return &admission.Proposal{Event: admission.EventUpdate, GroupID: p.GroupID, Members: []string{p.User}}, nil
}

func (s *Service) prepareTransfer(ctx context.Context, p *domain.TransferOwnershipPayload) error {
	p.GroupID = strings.TrimSpace(p.GroupID)
	p.NewOwner = strings.TrimSpace(p.NewOwner)
	switch {
	case p.GroupID == "":
		return domain.Invalid("group_id", "is required")
	case p.NewOwner == "":
		return domain.Invalid("new_owner", "is required")
	}

	group, err := s.directory.GetGroup(ctx, p.GroupID)
	if err != nil {
		return fmt.Errorf("lookup group %s: %w", p.GroupID, err)
	}
	if group.Owner == p.NewOwner {
		return domain.Invalid("new_owner", fmt.Sprintf("%s already owns %s", p.NewOwner, p.GroupID))
	}
	return nil
}

// assignGroupID выдает ID новой группы после допуска, чтобы отказ не сжигал номер.
func (s *Service) assignGroupID(ctx context.Context, req *domain.Request) error {
	if req.Kind != domain.KindCreateGroup || req.Create.GroupID != "" {
		return nil
	}
	id, err := s.ids.Next(ctx, req.Create.Type)
	if err != nil {
		s.countError(err)
		return fmt.Errorf("issue group id: %w", err)
	}
	req.Create.GroupID = id
	return nil
}

// uniqueMembers убирает пустые и повторяющиеся имена, сохраняя порядок.
func uniqueMembers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
