package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/groupflow/internal/audit"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

const auditColumns = `id, trace_id, request_id, name, actor, payload, outcome, failed_step, error, undo_failures, duration_ms, timestamp`

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_logs
	const numFields = 12
	placeholders := make([]string, 0, len(events))
	vals := make([]any, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		ph := make([]string, numFields)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", p+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")

		payload, _ := json.Marshal(e.Payload)
		undo, _ := json.Marshal(e.UndoFailures)

		vals = append(vals,
			e.ID, e.TraceID, e.RequestID, e.Name, e.Actor, payload,
			e.Outcome, e.FailedStep, e.Error, undo, e.DurationMs, e.Timestamp,
		)
	}

	query := "INSERT INTO audit_logs (" + auditColumns + ") VALUES " + strings.Join(placeholders, ",") +
		" ON CONFLICT (id) DO NOTHING"
	_, err := r.pool.Exec(ctx, query, vals...)
	return classify("write audit batch", err)
}

func (r *AuditRepo) ListByRequest(ctx context.Context, requestID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = defaultFindLimit
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE request_id = $1 ORDER BY timestamp ASC LIMIT $2`,
		requestID, limit)
	if err != nil {
		return nil, classify("list audit", err)
	}
	defer rows.Close()

	out := make([]audit.Event, 0)
	for rows.Next() {
		var (
			e             audit.Event
			payload, undo []byte
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &e.RequestID, &e.Name, &e.Actor, &payload,
			&e.Outcome, &e.FailedStep, &e.Error, &undo, &e.DurationMs, &e.Timestamp); err != nil {
			return nil, classify("scan audit", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		if len(undo) > 0 {
			_ = json.Unmarshal(undo, &e.UndoFailures)
		}
		out = append(out, e)
	}
	return out, classify("iterate audit", rows.Err())
}
