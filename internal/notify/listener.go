package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/groupflow/internal/audit"
	"go.uber.org/zap"
)

// Паузы перед повторной подпиской.
const (
	subscribeRetryDelay = 5 * time.Second
	reconnectDelay      = time.Second
)

// Listen: цикл "живучей" подписки на события заявок.
// Переподключается после обрыва и выходит только по отмене ctx.
func Listen(ctx context.Context, rdb *redis.Client, channel string, logger *zap.Logger, onEvent func(Event)) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleep(ctx, subscribeRetryDelay) {
				return
			}
			continue
		}
		logger.Info("subscribed", zap.String("chan", channel))

		if done := consume(ctx, pubsub.Channel(), logger, onEvent); done {
			_ = pubsub.Close()
			return
		}

		// Канал закрыт, идем на переподключение
		_ = pubsub.Close()
		if !sleep(ctx, reconnectDelay) {
			return
		}
	}
}

// consume читает сообщения до закрытия канала. true: контекст отменен.
func consume(ctx context.Context, ch <-chan *redis.Message, logger *zap.Logger, onEvent func(Event)) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			event, err := Decode(msg.Payload)
			if err != nil {
				logger.Error("invalid event payload", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			onEvent(event)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Decode разбирает событие из канала.
func Decode(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch e.Type {
	case EventRequestCreated, EventRequestApproved, EventRequestDenied:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Request == nil {
		return Event{}, fmt.Errorf("event %s carries no request", e.Type)
	}
	return e, nil
}

// AuditEvent переводит полученное уведомление в запись аудита.
func AuditEvent(e Event) audit.Event {
	return audit.Event{
		TraceID:   e.TraceID,
		RequestID: e.Request.ID,
		Name:      string(e.Type),
		Actor:     e.Actor,
		Payload: map[string]any{
			"kind":     string(e.Request.Kind),
			"status":   string(e.Request.Status),
			"creator":  e.Request.Creator,
			"approver": e.Request.Approver,
			"group_id": e.Request.GroupID(),
		},
		Outcome:   "delivered",
		Timestamp: e.At,
	}
}
