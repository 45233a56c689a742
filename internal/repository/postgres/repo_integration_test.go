//go:build integration

package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/groupflow/internal/audit"
	"github.com/xela07ax/groupflow/internal/domain"
	"go.uber.org/zap"
)

func poolForTest(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, PoolConfig{URL: url})
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool, zap.NewNop()))
	return pool
}

func pendingJoin(creator string) *domain.Request {
	return &domain.Request{
		Kind:    domain.KindJoinGroup,
		Creator: creator,
		Status:  domain.StatusPending,
		Join:    &domain.JoinGroupPayload{GroupID: "FRDIS0000000001", User: creator},
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	pool := poolForTest(t)
	assert.NoError(t, EnsureSchema(context.Background(), pool, zap.NewNop()))
}

func TestRequestCompareAndSet(t *testing.T) {
	pool := poolForTest(t)
	repo := NewRequestRepo(pool)
	ctx := context.Background()
	creator := "u-" + uuid.NewString()

	id, err := repo.Insert(ctx, pendingJoin(creator))
	require.NoError(t, err)

	approved := domain.StatusApproved
	reviewer := "boss"
	got, err := repo.UpdateByID(ctx, id, domain.RequestPatch{
		Status: &approved, Approver: &reviewer, ExpectStatus: domain.StatusPending,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, "boss", got.Approver)
	require.NotNil(t, got.Join)
	assert.Equal(t, creator, got.Join.User)

	_, err = repo.UpdateByID(ctx, id, domain.RequestPatch{Status: &approved, ExpectStatus: domain.StatusPending})
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)

	_, err = repo.UpdateByID(ctx, uuid.NewString(), domain.RequestPatch{Status: &approved, ExpectStatus: domain.StatusPending})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := repo.Find(ctx, domain.RequestQuery{Creator: creator, Status: domain.StatusApproved})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	require.NoError(t, repo.RemoveByID(ctx, id))
	_, err = repo.FindByID(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentDecisionHasOneWinner(t *testing.T) {
	pool := poolForTest(t)
	repo := NewRequestRepo(pool)
	ctx := context.Background()

	id, err := repo.Insert(ctx, pendingJoin("u-"+uuid.NewString()))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	approved := domain.StatusApproved
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdateByID(ctx, id, domain.RequestPatch{Status: &approved, ExpectStatus: domain.StatusPending})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestSequenceIncrementIsAtomic(t *testing.T) {
	pool := poolForTest(t)
	repo := NewSequenceRepo(pool)
	groupType := "test-" + uuid.NewString()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]struct{}{}
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := repo.Increment(context.Background(), groupType)
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 25)
	current, err := repo.Current(context.Background(), groupType)
	require.NoError(t, err)
	assert.Equal(t, int64(25), current)
}

func TestAuditRoundTrip(t *testing.T) {
	pool := poolForTest(t)
	repo := NewAuditRepo(pool)
	requestID := uuid.NewString()

	err := repo.WriteBatch(context.Background(), []audit.Event{
		{ID: uuid.NewString(), RequestID: requestID, Name: "approve", Outcome: "inconsistent",
			FailedStep: "applyToDirectory", UndoFailures: []string{"markApproved"}, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	events, err := repo.ListByRequest(context.Background(), requestID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"markApproved"}, events[0].UndoFailures)
}
