package audit

/*
Файл recorder.go реализует журнал аудита заявок.

- Non-blocking: Log не ждет базу, события уходят в буферизованный канал.
- Batching: воркер копит события и пишет их пачкой по таймеру или по размеру пачки.
- Drain: Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/groupflow/internal/metrics"
	"go.uber.org/zap"
)

// Storage определяет, куда физически будут сохраняться события
type Storage interface {
	WriteBatch(ctx context.Context, events []Event) error
}

// Reader отдает историю по заявке.
type Reader interface {
	ListByRequest(ctx context.Context, requestID string, limit int) ([]Event, error)
}

type Auditor interface {
	Log(event Event)
}

type Config struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type Recorder struct {
	ch      chan Event
	repo    Storage
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup

	// mu защищает закрытие канала от конкурентного Log
	mu     sync.RWMutex
	closed bool
}

func NewRecorder(repo Storage, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Recorder{
		ch:      make(chan Event, cfg.BufferSize),
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(zap.String("mod", "audit")),
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	r.logger.Info("stopping auditor: flushing buffer...")
	r.wg.Wait()
	r.logger.Info("auditor stopped gracefully")
}

func (r *Recorder) Log(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("audit event dropped: auditor is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: при переполнении событие уходит только в лог
	select {
	case r.ch <- event:
		r.metrics.AuditBufferFill.Set(float64(len(r.ch)))
	default:
		r.logger.Error("audit_buffer_overflow",
			zap.String("request_id", event.RequestID),
			zap.String("name", event.Name),
			zap.String("outcome", event.Outcome),
		)
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]Event, 0, r.cfg.BatchSize)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть уже закрыт
		if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
			r.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		r.metrics.AuditBufferFill.Set(float64(len(r.ch)))
	}

	for {
		select {
		case event, ok := <-r.ch:
			if !ok {
				flush()
				r.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= r.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
