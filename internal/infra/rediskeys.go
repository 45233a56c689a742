package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "groupflow"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanRequestEvents: канал событий жизненного цикла заявок.
	RedisChanRequestEvents = RedisNamespace + ":requests:events"
)

// RedisKeySequence: счетчик идентификаторов групп для типа groupType.
func RedisKeySequence(groupType string) string {
	return fmt.Sprintf("%s:sequence:%s", RedisNamespace, groupType)
}
