package audit

import "time"

// Event описывает запись аудита (прогон саги или полученное уведомление).
type Event struct {
	ID        string         `json:"id"`         // UUID события
	TraceID   string         `json:"trace_id"`   // Сквозной ID запроса
	RequestID string         `json:"request_id"` // Заявка, к которой относится событие
	Name      string         `json:"name"`       // Имя саги или события (request.approved и т.п.)
	Actor     string         `json:"actor"`      // Кто инициировал
	Payload   map[string]any `json:"payload"`

	// Результат
	Outcome      string    `json:"outcome"` // committed, rolled_back, inconsistent, delivered
	FailedStep   string    `json:"failed_step,omitempty"`
	Error        string    `json:"error,omitempty"`
	UndoFailures []string  `json:"undo_failures,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}
