package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/groupflow/internal/infra"
	"go.uber.org/zap"
)

// publisher: часть клиента Redis, которая нужна для рассылки.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher публикует события JSON-ом в канал заявок.
type RedisPublisher struct {
	rdb     publisher
	channel string
	logger  *zap.Logger
}

func NewRedisPublisher(rdb publisher, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		rdb:     rdb,
		channel: infra.RedisChanRequestEvents,
		logger:  logger.Named("notify"),
	}
}

func (p *RedisPublisher) Notify(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Type, err)
	}
	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", e.Type, p.channel, err)
	}
	if receivers == 0 {
		p.logger.Debug("event published without subscribers", zap.String("event", string(e.Type)))
	}
	return nil
}

// LogNotifier пишет события только в лог. Используется, когда Redis выключен.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	fields := []zap.Field{zap.String("event", string(e.Type)), zap.String("actor", e.Actor)}
	if e.Request != nil {
		fields = append(fields, zap.String("request_id", e.Request.ID), zap.String("status", string(e.Request.Status)))
	}
	n.logger.Info("request event", fields...)
	return nil
}
