// Notifier слушает события заявок в Redis и записывает каждое полученное событие в аудит.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/xela07ax/groupflow/internal/audit"
	"github.com/xela07ax/groupflow/internal/infra"
	"github.com/xela07ax/groupflow/internal/notify"
	"github.com/xela07ax/groupflow/internal/repository/postgres"
	"github.com/xela07ax/groupflow/internal/repository/sqlite"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	pflag.Parse()

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("notifier exited with error", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// При SIGTERM cancel() остановит слушателя
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(appCtx, 15*time.Second)
	defer cancel()

	storage, closeStorage, err := openAuditStorage(initCtx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(initCtx).Err(); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}

	recorder := audit.NewRecorder(storage, cfg.Audit, nil, logger)
	recorder.Start()
	defer recorder.Stop()

	logger.Info("notifier started", zap.String("channel", infra.RedisChanRequestEvents))
	notify.Listen(appCtx, rdb, infra.RedisChanRequestEvents, logger, func(e notify.Event) {
		logger.Info("request event received",
			zap.String("event", string(e.Type)),
			zap.String("request_id", e.Request.ID),
			zap.String("actor", e.Actor),
			zap.String("trace_id", e.TraceID))
		recorder.Log(notify.AuditEvent(e))
	})

	logger.Info("notifier stopping...")
	return nil
}

func openAuditStorage(ctx context.Context, cfg infra.DatabaseConfig, logger *zap.Logger) (audit.Storage, func(), error) {
	switch cfg.Driver {
	case infra.DriverPostgres:
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{URL: cfg.URL, MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unreachable: %w", err)
		}
		if err := postgres.SchemaReady(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		return postgres.NewAuditRepo(pool), pool.Close, nil
	case infra.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open: %w", err)
		}
		return sqlite.NewAuditRepo(db), func() { _ = db.Close() }, nil
	}
	logger.Error("unsupported database driver", zap.String("driver", cfg.Driver))
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}
