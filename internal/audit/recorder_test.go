package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (s *memStorage) WriteBatch(ctx context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), events...))
	return s.err
}

func (s *memStorage) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestRecorderFlushesOnStop(t *testing.T) {
	store := &memStorage{}
	r := NewRecorder(store, Config{FlushInterval: time.Hour}, nil, zap.NewNop())
	r.Start()

	for i := 0; i < 5; i++ {
		r.Log(Event{Name: "approve", RequestID: "r1", Outcome: "committed"})
	}
	r.Stop()

	events := store.all()
	require.Len(t, events, 5)
	for _, e := range events {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestRecorderFlushesByBatchSize(t *testing.T) {
	store := &memStorage{}
	r := NewRecorder(store, Config{BatchSize: 2, FlushInterval: time.Hour}, nil, zap.NewNop())
	r.Start()
	defer r.Stop()

	r.Log(Event{Name: "a"})
	r.Log(Event{Name: "b"})

	assert.Eventually(t, func() bool { return len(store.all()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestRecorderFlushesOnTicker(t *testing.T) {
	store := &memStorage{}
	r := NewRecorder(store, Config{FlushInterval: 10 * time.Millisecond}, nil, zap.NewNop())
	r.Start()
	defer r.Stop()

	r.Log(Event{Name: "a"})
	assert.Eventually(t, func() bool { return len(store.all()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRecorderDropsAfterStop(t *testing.T) {
	store := &memStorage{}
	r := NewRecorder(store, Config{}, nil, zap.NewNop())
	r.Start()
	r.Stop()
	r.Stop() // повторный Stop безопасен

	r.Log(Event{Name: "late"})
	assert.Empty(t, store.all())
}

func TestRecorderSurvivesStorageFailure(t *testing.T) {
	store := &memStorage{err: errors.New("db down")}
	r := NewRecorder(store, Config{BatchSize: 1, FlushInterval: time.Hour}, nil, zap.NewNop())
	r.Start()

	r.Log(Event{Name: "a"})
	r.Log(Event{Name: "b"})
	r.Stop()

	assert.Len(t, store.all(), 2)
}

func TestRecorderShedsLoadWhenFull(t *testing.T) {
	store := &memStorage{}
	// воркер не запущен: буфер на одно событие заполняется сразу
	r := NewRecorder(store, Config{BufferSize: 1}, nil, zap.NewNop())

	r.Log(Event{Name: "kept"})
	r.Log(Event{Name: "dropped"})

	r.Start()
	r.Stop()

	events := store.all()
	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].Name)
}
