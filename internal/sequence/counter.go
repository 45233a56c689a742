package sequence

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCounter держит счетчики в Redis: INCR атомарен на стороне сервера,
// поэтому несколько инстансов не выдадут один номер дважды.
type RedisCounter struct {
	rdb    *redis.Client
	key    func(groupType string) string
	logger *zap.Logger
}

func NewRedisCounter(rdb *redis.Client, key func(string) string, logger *zap.Logger) *RedisCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCounter{rdb: rdb, key: key, logger: logger.Named("sequence")}
}

func (c *RedisCounter) Increment(ctx context.Context, groupType string) (int64, error) {
	n, err := c.rdb.Incr(ctx, c.key(groupType)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

// Seed выставляет стартовое значение, только если счетчика еще нет (SetNX).
// Используется при переезде со счетчика в БД, current равен последнему выданному значению.
func (c *RedisCounter) Seed(ctx context.Context, groupType string, current int64) error {
	ok, err := c.rdb.SetNX(ctx, c.key(groupType), current, 0).Result()
	if err != nil {
		return fmt.Errorf("redis seed: %w", err)
	}
	if ok {
		c.logger.Info("sequence seeded from ledger",
			zap.String("type", groupType), zap.Int64("current", current))
	}
	return nil
}

// MemoryCounter: счетчик для локального запуска в одном процессе.
type MemoryCounter struct {
	values *xsync.MapOf[string, int64]
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{values: xsync.NewMapOf[string, int64]()}
}

func (c *MemoryCounter) Increment(_ context.Context, groupType string) (int64, error) {
	n, _ := c.values.Compute(groupType, func(old int64, _ bool) (int64, bool) {
		return old + 1, false
	})
	return n, nil
}
