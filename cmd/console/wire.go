package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/groupflow/internal/approvers"
	"github.com/xela07ax/groupflow/internal/audit"
	"github.com/xela07ax/groupflow/internal/console/service"
	"github.com/xela07ax/groupflow/internal/directory"
	"github.com/xela07ax/groupflow/internal/infra"
	"github.com/xela07ax/groupflow/internal/metrics"
	"github.com/xela07ax/groupflow/internal/repository/postgres"
	"github.com/xela07ax/groupflow/internal/repository/sqlite"
	"github.com/xela07ax/groupflow/internal/sequence"
	"github.com/xela07ax/groupflow/internal/workflow"
	"go.uber.org/zap"
)

// ledgerCounter: счетчик в БД, который умеет отдать текущее значение для сидирования Redis.
type ledgerCounter interface {
	sequence.Counter
	Current(ctx context.Context, groupType string) (int64, error)
}

type userStore interface {
	approvers.UserLookup
	service.UserStore
}

type auditStore interface {
	audit.Storage
	audit.Reader
}

// storage: реализации репозиториев выбранного драйвера.
type storage struct {
	requests workflow.RequestRepository
	counter  ledgerCounter
	users    userStore
	audit    auditStore
	close    func()
}

func openStorage(ctx context.Context, cfg infra.DatabaseConfig, logger *zap.Logger) (*storage, error) {
	switch cfg.Driver {
	case infra.DriverPostgres:
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			URL:      cfg.URL,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres unreachable: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return &storage{
			requests: postgres.NewRequestRepo(pool),
			counter:  postgres.NewSequenceRepo(pool),
			users:    postgres.NewUserRepo(pool),
			audit:    postgres.NewAuditRepo(pool),
			close:    pool.Close,
		}, nil

	case infra.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		return &storage{
			requests: sqlite.NewRequestRepo(db),
			counter:  sqlite.NewSequenceRepo(db),
			users:    sqlite.NewUserRepo(db),
			audit:    sqlite.NewAuditRepo(db),
			close:    func() { _ = db.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

func newRedis(ctx context.Context, cfg infra.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// newGenerator выбирает авторитетный счетчик. При переезде на Redis
// ключи сидируются последним значением из БД, чтобы номера не повторились.
func newGenerator(ctx context.Context, cfg sequence.Config, db ledgerCounter, rdb *redis.Client, logger *zap.Logger) (*sequence.Generator, error) {
	if cfg.Backend != "redis" {
		return sequence.NewGenerator(cfg, db), nil
	}

	counter := sequence.NewRedisCounter(rdb, infra.RedisKeySequence, logger)
	gen := sequence.NewGenerator(cfg, counter)
	for _, typ := range gen.Types() {
		current, err := db.Current(ctx, typ)
		if err != nil {
			return nil, fmt.Errorf("read ledger sequence %s: %w", typ, err)
		}
		if err := counter.Seed(ctx, typ, current); err != nil {
			return nil, err
		}
	}
	return gen, nil
}

// newDirectory: реальный каталог по HTTP или каталог в памяти для локального запуска.
func newDirectory(cfg infra.DirectoryConfig, m *metrics.Metrics, logger *zap.Logger) directory.Gateway {
	if cfg.Mode == infra.DirectoryMemory {
		logger.Warn("directory gateway runs in memory, changes are not persisted")
		return directory.NewMemoryGateway()
	}
	return directory.NewClient(cfg.ClientConfig, nil, m, logger)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
