package approvers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/groupflow/internal/domain"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubUsers struct {
	mu        sync.Mutex
	users     map[string]domain.User
	getCalls  int
	listCalls int
	err       error
}

func (s *stubUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (s *stubUsers) ListByRanks(ctx context.Context, ranks []string) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	var out []domain.User
	for _, u := range s.users {
		for _, r := range ranks {
			if u.Rank == r {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (s *stubUsers) setRank(id, rank string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.Rank = rank
	s.users[id] = u
}

func TestCacheRefreshesOnExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewCache[string, int](time.Minute).WithClock(clock.Now)

	var loads int
	load := func(ctx context.Context) (int, error) {
		loads++
		return loads, nil
	}

	v, err := cache.Get(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clock.Advance(59 * time.Second)
	v, _ = cache.Get(context.Background(), "k", load)
	assert.Equal(t, 1, v)

	clock.Advance(time.Second)
	v, _ = cache.Get(context.Background(), "k", load)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, loads)
}

func TestCacheDoesNotKeepErrors(t *testing.T) {
	cache := NewCache[string, string](time.Minute)
	boom := errors.New("db down")

	_, err := cache.Get(context.Background(), "k", func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, cache.Len())

	v, err := cache.Get(context.Background(), "k", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestCacheCollapsesConcurrentLoads(t *testing.T) {
	cache := NewCache[string, string](time.Minute)
	release := make(chan struct{})
	var loads atomic.Int32

	load := func(ctx context.Context) (string, error) {
		loads.Add(1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cache.Get(context.Background(), "k", load)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
}

func TestCacheDefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultTTL, NewCache[string, int](0).TTL())
}

func newAuthority(users *stubUsers, cfg Config) *Authority {
	return NewAuthority(cfg, users, zap.NewNop())
}

func TestIsApproverUsesConfiguredRanks(t *testing.T) {
	users := &stubUsers{users: map[string]domain.User{
		"alice": {ID: "alice", Rank: "mega"},
		"bob":   {ID: "bob", Rank: "rookie"},
		"carol": {ID: "carol", Rank: "private"},
	}}
	a := newAuthority(users, Config{})

	for id, want := range map[string]bool{"alice": true, "bob": true, "carol": false, "ghost": false} {
		got, err := a.IsApprover(context.Background(), id)
		require.NoError(t, err, id)
		assert.Equal(t, want, got, id)
	}

	custom := newAuthority(users, Config{Ranks: []string{"private"}})
	ok, err := custom.IsApprover(context.Background(), "carol")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsApproverPropagatesLookupFailure(t *testing.T) {
	users := &stubUsers{users: map[string]domain.User{}, err: errors.New("conn reset")}
	_, err := newAuthority(users, Config{}).IsApprover(context.Background(), "alice")
	assert.Error(t, err)
}

func TestRankIsCachedUntilTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	users := &stubUsers{users: map[string]domain.User{"alice": {ID: "alice", Rank: "mega"}}}
	a := newAuthority(users, Config{CacheTTL: time.Minute}).WithClock(clock.Now)

	ok, _ := a.IsApprover(context.Background(), "alice")
	assert.True(t, ok)

	users.setRank("alice", "private")
	ok, _ = a.IsApprover(context.Background(), "alice")
	assert.True(t, ok, "stale value served before expiry")

	clock.Advance(time.Minute)
	ok, _ = a.IsApprover(context.Background(), "alice")
	assert.False(t, ok)
	assert.Equal(t, 2, users.getCalls)
}

func TestForgetDropsCachedRank(t *testing.T) {
	users := &stubUsers{users: map[string]domain.User{"alice": {ID: "alice", Rank: "mega"}}}
	a := newAuthority(users, Config{})

	_, _ = a.IsApprover(context.Background(), "alice")
	users.setRank("alice", "private")
	a.Forget("alice")

	ok, err := a.IsApprover(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanAutoApprove(t *testing.T) {
	users := &stubUsers{users: map[string]domain.User{
		"root":  {ID: "root", Rank: "general"},
		"alice": {ID: "alice", Rank: "mega"},
	}}

	none := newAuthority(users, Config{})
	ok, err := none.CanAutoApprove(context.Background(), "root")
	require.NoError(t, err)
	assert.False(t, ok)

	a := newAuthority(users, Config{AutoApproveRanks: []string{"general"}})
	ok, _ = a.CanAutoApprove(context.Background(), "root")
	assert.True(t, ok)
	ok, _ = a.CanAutoApprove(context.Background(), "alice")
	assert.False(t, ok)
}

func TestDefaultApproversAreCached(t *testing.T) {
	users := &stubUsers{users: map[string]domain.User{
		"alice": {ID: "alice", Rank: "mega"},
		"carol": {ID: "carol", Rank: "private"},
	}}
	a := newAuthority(users, Config{})

	list, err := a.DefaultApprovers(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].ID)

	_, _ = a.DefaultApprovers(context.Background())
	assert.Equal(t, 1, users.listCalls)
}

func TestNilLoggerIsAllowed(t *testing.T) {
	users := &stubUsers{users: map[string]domain.User{"alice": {ID: "alice", Rank: "mega"}}}
	a := NewAuthority(Config{}, users, nil)

	assert.NotPanics(t, func() {
		list, err := a.DefaultApprovers(context.Background())
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}
