// Package workflow: конечный автомат согласования заявок на группы.
//
// Заявка живет в двух независимо отказывающих системах: в журнале заявок и в
// удаленном каталоге. Одобрение собирается как сага из двух шагов (журнал,
// затем каталог), и заявка никогда не остается Approved в журнале, если
// мутация каталога не прошла. Откат мутаций каталога не выполняется.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/groupflow/internal/admission"
	"github.com/xela07ax/groupflow/internal/audit"
	"github.com/xela07ax/groupflow/internal/directory"
	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/metrics"
	"github.com/xela07ax/groupflow/internal/notify"
	"github.com/xela07ax/groupflow/internal/saga"
	"go.uber.org/zap"
)

// RequestRepository: журнал заявок.
// UpdateByID с непустым ExpectStatus обязан быть compare-and-set.
type RequestRepository interface {
	Insert(ctx context.Context, req *domain.Request) (string, error)
	UpdateByID(ctx context.Context, id string, patch domain.RequestPatch) (*domain.Request, error)
	FindByID(ctx context.Context, id string) (*domain.Request, error)
	Find(ctx context.Context, q domain.RequestQuery) ([]*domain.Request, error)
	RemoveByID(ctx context.Context, id string) error
}

// Authority отвечает на вопросы о полномочиях пользователя.
type Authority interface {
	IsApprover(ctx context.Context, userID string) (bool, error)
	CanAutoApprove(ctx context.Context, userID string) (bool, error)
}

// Admission: контроль допуска по размеру группы.
type Admission interface {
	Check(ctx context.Context, isApprover bool, p admission.Proposal) error
}

// IDGenerator выдает идентификаторы новых групп.
type IDGenerator interface {
	Known(groupType string) bool
	Validated(groupType string) bool
	Next(ctx context.Context, groupType string) (string, error)
}

// Notifier принимает события заявок. Ошибка доставки не меняет исход операции.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event) error
}

// Deps: зависимости сервиса.
type Deps struct {
	Repo      RequestRepository
	Directory directory.Gateway
	Authority Authority
	Admission Admission
	IDs       IDGenerator
	Notifier  Notifier
	Auditor   audit.Auditor
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Resolution: итог приема или решения по заявке.
// Directory заполнен, только если в этом вызове прошла мутация каталога.
type Resolution struct {
	Request   *domain.Request   `json:"request"`
	Directory *directory.Result `json:"directory,omitempty"`
}

type Service struct {
	repo      RequestRepository
	directory directory.Gateway
	authority Authority
	admission Admission
	ids       IDGenerator
	notifier  Notifier
	auditor   audit.Auditor
	executor  *saga.Executor
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Service{
		repo:      d.Repo,
		directory: d.Directory,
		authority: d.Authority,
		admission: d.Admission,
		ids:       d.IDs,
		notifier:  d.Notifier,
		auditor:   d.Auditor,
		executor:  saga.NewExecutor(logger),
		metrics:   m,
		logger:    logger.Named("workflow"),
		now:       time.Now,
	}
}

// Get возвращает заявку по ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Request, error) {
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return req, nil
}

// ListByCreator возвращает заявки, поданные пользователем. Пустой status означает все статусы.
func (s *Service) ListByCreator(ctx context.Context, creator string, status domain.RequestStatus) ([]*domain.Request, error) {
	return s.list(ctx, domain.RequestQuery{Creator: creator, Status: status})
}

// ListByApprover: заявки, где пользователь назначен согласующим.
func (s *Service) ListByApprover(ctx context.Context, approver string, status domain.RequestStatus) ([]*domain.Request, error) {
	return s.list(ctx, domain.RequestQuery{Approver: approver, Status: status})
}

func (s *Service) list(ctx context.Context, q domain.RequestQuery) ([]*domain.Request, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, domain.Invalid("status", fmt.Sprintf("unknown status %q", q.Status))
	}
	out, err := s.repo.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

// emit отправляет уведомление. Сбой только логируется.
func (s *Service) emit(ctx context.Context, typ notify.EventType, req *domain.Request, actor string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, notify.Event{
		Type:    typ,
		Request: req,
		Actor:   actor,
		TraceID: TraceID(ctx),
		At:      s.now().UTC(),
	})
	if err != nil {
		s.metrics.ErrorTotal.WithLabelValues("notify").Inc()
		s.logger.Warn("notification delivery failed",
			zap.String("event", string(typ)),
			zap.String("request_id", req.ID),
			zap.Error(err))
	}
}

// record пишет прогон саги в аудит и метрики.
func (s *Service) record(ctx context.Context, res *saga.Result, req *domain.Request, actor string, took time.Duration) {
	outcome := string(res.Outcome())
	s.metrics.SagaOutcomes.WithLabelValues(res.Name, outcome).Inc()
	s.metrics.SagaDuration.WithLabelValues(res.Name, outcome).Observe(took.Seconds())

	if s.auditor == nil {
		return
	}
	event := audit.Event{
		TraceID:    TraceID(ctx),
		RequestID:  req.ID,
		Name:       res.Name,
		Actor:      actor,
		Payload:    map[string]any{"kind": string(req.Kind), "group_id": req.GroupID()},
		Outcome:    outcome,
		FailedStep: res.FailedStepID,
		DurationMs: took.Milliseconds(),
	}
	if res.Cause != nil {
		event.Error = res.Cause.Error()
	}
	for _, f := range res.UndoFailures {
		event.UndoFailures = append(event.UndoFailures, f.StepID)
	}
	s.auditor.Log(event)
}

// run исполняет сагу и фиксирует ее исход.
func (s *Service) run(ctx context.Context, name string, req *domain.Request, actor string, steps ...saga.Step) *saga.Result {
	start := s.now()
	res := s.executor.Execute(ctx, name, steps...)
	s.record(ctx, res, req, actor, s.now().Sub(start))

	if res.Outcome() == saga.OutcomeInconsistent {
		s.logger.Error("saga left inconsistent state, manual remediation required",
			zap.String("saga", name),
			zap.String("request_id", req.ID),
			zap.String("failed_step", res.FailedStepID),
			zap.Int("undo_failures", len(res.UndoFailures)))
	}
	return res
}

func (s *Service) countError(err error) {
	s.metrics.ErrorTotal.WithLabelValues(errorType(err)).Inc()
}
