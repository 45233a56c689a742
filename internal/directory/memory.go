package directory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/xela07ax/groupflow/internal/domain"
)

// MemoryGateway: каталог в памяти процесса для локального запуска и тестов.
// Умеет имитировать задержку и отказы отдельных операций.
type MemoryGateway struct {
	groups *xsync.MapOf[string, domain.Group]
	calls  *xsync.MapOf[string, int]

	mu       sync.RWMutex
	failures map[string]error
	latency  time.Duration
}

func NewMemoryGateway(seed ...domain.Group) *MemoryGateway {
	m := &MemoryGateway{
		groups:   xsync.NewMapOf[string, domain.Group](),
		calls:    xsync.NewMapOf[string, int](),
		failures: make(map[string]error),
	}
	for _, g := range seed {
		m.groups.Store(g.ID, g)
	}
	return m
}

// FailOn заставляет операцию op возвращать err. nil снимает отказ.
func (m *MemoryGateway) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MemoryGateway) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// Calls: сколько раз вызывалась операция, включая неудачные вызовы.
func (m *MemoryGateway) Calls(op string) int {
	n, _ := m.calls.Load(op)
	return n
}

// Group возвращает копию записи группы.
func (m *MemoryGateway) Group(id string) (domain.Group, bool) {
	g, ok := m.groups.Load(id)
	if ok {
		g.Members = slices.Clone(g.Members)
	}
	return g, ok
}

func (m *MemoryGateway) enter(ctx context.Context, op string) error {
	m.calls.Compute(op, func(old int, _ bool) (int, bool) { return old + 1, false })

	m.mu.RLock()
	latency, failure := m.latency, m.failures[op]
	m.mu.RUnlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return failure
}

func (m *MemoryGateway) CreateGroup(ctx context.Context, spec domain.CreateGroupPayload) (Result, error) {
	if err := m.enter(ctx, "create"); err != nil {
		return Result{}, err
	}
	group := domain.Group{
		ID:          spec.GroupID,
		Name:        spec.GroupName,
		DisplayName: spec.DisplayName,
		Owner:       spec.Owner,
		Type:        spec.Type,
		Members:     slices.Clone(spec.Members),
	}
	if _, loaded := m.groups.LoadOrStore(spec.GroupID, group); loaded {
		return Result{}, &RemoteError{Op: "create", Message: fmt.Sprintf("group %s already exists", spec.GroupID)}
	}
	return Result{Success: true, Message: "group created", GroupID: spec.GroupID}, nil
}

func (m *MemoryGateway) AddMembers(ctx context.Context, groupID string, users []string) (Result, error) {
	if err := m.enter(ctx, "add_members"); err != nil {
		return Result{}, err
	}
	if len(users) == 0 {
		return Result{}, domain.Invalid("users", "at least one user required")
	}
	return m.update("add_members", groupID, func(g *domain.Group) {
		for _, u := range users {
			if !slices.Contains(g.Members, u) {
				g.Members = append(g.Members, u)
			}
		}
	})
}

func (m *MemoryGateway) RemoveMembers(ctx context.Context, groupID string, users []string) (Result, error) {
	if err := m.enter(ctx, "remove_members"); err != nil {
		return Result{}, err
	}
	return m.update("remove_members", groupID, func(g *domain.Group) {
		g.Members = slices.DeleteFunc(g.Members, func(u string) bool { return slices.Contains(users, u) })
	})
}

func (m *MemoryGateway) DeleteGroup(ctx context.Context, groupID string) (Result, error) {
	if err := m.enter(ctx, "delete"); err != nil {
		return Result{}, err
	}
	if _, ok := m.groups.LoadAndDelete(groupID); !ok {
		return Result{}, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	}
	return Result{Success: true, GroupID: groupID}, nil
}

func (m *MemoryGateway) UpdateField(ctx context.Context, groupID, field, value string) (Result, error) {
	if err := m.enter(ctx, "update_field"); err != nil {
		return Result{}, err
	}
	switch field {
	case FieldDisplayName, FieldName:
	default:
		return Result{}, &RemoteError{Op: "update_field", Message: fmt.Sprintf("unsupported field %q", field)}
	}
	return m.update("update_field", groupID, func(g *domain.Group) {
		if field == FieldName {
			g.Name = value
			return
		}
		g.DisplayName = value
	})
}

func (m *MemoryGateway) ChangeOwner(ctx context.Context, groupID, newOwner string) (Result, error) {
	if err := m.enter(ctx, "change_owner"); err != nil {
		return Result{}, err
	}
	return m.update("change_owner", groupID, func(g *domain.Group) { g.Owner = newOwner })
}

func (m *MemoryGateway) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	if err := m.enter(ctx, "get"); err != nil {
		return nil, err
	}
	g, ok := m.Group(groupID)
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	}
	return &g, nil
}

func (m *MemoryGateway) update(op, groupID string, mutate func(g *domain.Group)) (Result, error) {
	found := false
	m.groups.Compute(groupID, func(g domain.Group, loaded bool) (domain.Group, bool) {
		if !loaded {
			// delete=true для отсутствующего ключа ничего не создает
			return g, true
		}
		found = true
		g.Members = slices.Clone(g.Members)
		mutate(&g)
		return g, false
	})
	if !found {
		return Result{}, fmt.Errorf("directory %s: group %s: %w", op, groupID, domain.ErrNotFound)
	}
	return Result{Success: true, GroupID: groupID}, nil
}
