package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/groupflow/internal/domain"
)

// PoolConfig: параметры пула соединений.
type PoolConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	pcfg.MaxConns = 15
	pcfg.MinConns = 5
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 && cfg.MinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.MinConns
	}
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pcfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// classify переводит ошибку драйвера в ошибки домена.
// Таймауты и обрывы соединения, которые безопасно повторить, помечаются ErrTransient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, domain.ErrNotFound)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("postgres: %s: %w: %v", op, domain.ErrTransient, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isTransientCode(pgErr.Code) {
		return fmt.Errorf("postgres: %s: %w: %v", op, domain.ErrTransient, err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

// isTransientCode: serialization_failure, deadlock_detected, admin_shutdown, cannot_connect_now, too_many_connections.
func isTransientCode(code string) bool {
	switch code {
	case "40001", "40P01", "57P01", "57P03", "53300":
		return true
	}
	return false
}
