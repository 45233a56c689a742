// Package admission ограничивает число участников, которое может затронуть одна заявка.
package admission

import (
	"context"
	"fmt"

	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/metrics"
	"go.uber.org/zap"
)

// Event: вид изменения, для которого считается итоговый размер группы.
type Event string

const (
	EventCreate Event = "create"
	EventUpdate Event = "update"
)

const (
	DefaultNotApprovedLimit = 100
	DefaultApprovedLimit    = 1000
)

// Limits задает жесткие потолки, ни один из них не является предупреждением.
type Limits struct {
	NotApproved int `mapstructure:"not_approved_limit"`
	Approved    int `mapstructure:"approved_limit"`
}

func (l Limits) forAuthority(isApprover bool) int {
	if isApprover {
		return l.Approved
	}
	return l.NotApproved
}

// GroupCounter: синхронный запрос текущего состояния группы в каталоге.
type GroupCounter interface {
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
}

// Proposal описывает предлагаемое изменение.
// Для Create Members: полный список участников, для Update: добавляемые участники.
type Proposal struct {
	Event   Event
	GroupID string
	Members []string
}

type Controller struct {
	limits  Limits
	groups  GroupCounter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewController(limits Limits, groups GroupCounter, m *metrics.Metrics, logger *zap.Logger) *Controller {
	if limits.NotApproved <= 0 {
		limits.NotApproved = DefaultNotApprovedLimit
	}
	if limits.Approved <= 0 {
		limits.Approved = DefaultApprovedLimit
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		limits:  limits,
		groups:  groups,
		metrics: m,
		logger:  logger.Named("admission"),
	}
}

func (c *Controller) Limits() Limits { return c.limits }

// Check решает, укладывается ли изменение в лимит для уровня полномочий инициатора.
// Отказ возвращается как *domain.AdmissionRejectedError. Ошибка каталога при Update
// пробрасывается как есть: без текущего размера группы решение принять нельзя.
func (c *Controller) Check(ctx context.Context, isApprover bool, p Proposal) error {
	count, err := c.resultingCount(ctx, p)
	if err != nil {
		return err
	}

	limit := c.limits.forAuthority(isApprover)
	if count <= limit {
		return nil
	}

	c.metrics.AdmissionRejected.WithLabelValues(string(p.Event)).Inc()
	c.logger.Warn("admission rejected",
		zap.String("event", string(p.Event)),
		zap.String("group_id", p.GroupID),
		zap.Int("count", count),
		zap.Int("limit", limit),
		zap.Bool("is_approver", isApprover),
	)
	return &domain.AdmissionRejectedError{
		Event:      string(p.Event),
		Requested:  count,
		Limit:      limit,
		IsApprover: isApprover,
	}
}

func (c *Controller) resultingCount(ctx context.Context, p Proposal) (int, error) {
	switch p.Event {
	case EventCreate:
		return len(p.Members), nil
	case EventUpdate:
		if p.GroupID == "" {
			return 0, domain.Invalid("group_id", "required for update admission")
		}
		group, err := c.groups.GetGroup(ctx, p.GroupID)
		if err != nil {
			return 0, fmt.Errorf("admission: load group %s: %w", p.GroupID, err)
		}
		return len(p.Members) + group.MemberCount(), nil
	default:
		return 0, domain.Invalid("event", fmt.Sprintf("unknown admission event %q", p.Event))
	}
}
