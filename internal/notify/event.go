// Package notify рассылает события жизненного цикла заявок.
// Доставка и оформление писем: забота подписчиков.
package notify

import (
	"time"

	"github.com/xela07ax/groupflow/internal/domain"
)

// EventType: имя события заявки.
type EventType string

const (
	EventRequestCreated  EventType = "request.created"
	EventRequestApproved EventType = "request.approved"
	EventRequestDenied   EventType = "request.denied"
)

// Event несет полную запись заявки на момент события.
type Event struct {
	Type    EventType       `json:"type"`
	Request *domain.Request `json:"request"`
	Actor   string          `json:"actor"`
	TraceID string          `json:"trace_id,omitempty"`
	At      time.Time       `json:"at"`
}
