package postgres

/*
Файл request_repo.go: журнал заявок. Смена статуса сделана compare-and-set
запросом: условие по текущему статусу стоит в WHERE, а RETURNING отдает
итоговую запись за один проход, без предварительного SELECT.
*/

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/groupflow/internal/domain"
)

const requestColumns = `id, kind, creator, approver, status, payload, created_at, updated_at`

const defaultFindLimit = 100

type RequestRepo struct {
	pool *pgxpool.Pool
}

func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool}
}

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var (
		req              domain.Request
		kind, status     string
		payload          []byte
		createdAt, updAt time.Time
	)
	if err := row.Scan(&req.ID, &kind, &req.Creator, &req.Approver, &status, &payload, &createdAt, &updAt); err != nil {
		return nil, err
	}
	req.Kind = domain.RequestKind(kind)
	req.Status = domain.RequestStatus(status)
	req.CreatedAt, req.UpdatedAt = createdAt.UTC(), updAt.UTC()
	if err := req.UnmarshalPayload(payload); err != nil {
		return nil, err
	}
	return &req, nil
}

// Insert сохраняет заявку. ID назначает репозиторий, если он не задан.
func (r *RequestRepo) Insert(ctx context.Context, req *domain.Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	payload, err := req.MarshalPayload()
	if err != nil {
		return "", err
	}

	query := `INSERT INTO requests (id, kind, creator, approver, status, group_id, payload)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING created_at, updated_at`
	err = r.pool.QueryRow(ctx, query,
		req.ID, string(req.Kind), req.Creator, req.Approver, string(req.Status), req.GroupID(), payload,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return "", classify("insert request", err)
	}
	req.CreatedAt, req.UpdatedAt = req.CreatedAt.UTC(), req.UpdatedAt.UTC()
	return req.ID, nil
}

// UpdateByID применяет patch. С непустым ExpectStatus обновление происходит,
// только если текущий статус совпадает (compare-and-set).
func (r *RequestRepo) UpdateByID(ctx context.Context, id string, patch domain.RequestPatch) (*domain.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}

	var status, approver *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	approver = patch.Approver

	query := `
		UPDATE requests
		SET status = COALESCE($2, status),
		    approver = COALESCE($3, approver),
		    updated_at = NOW()
		WHERE id = $1 AND ($4 = '' OR status = $4)
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id, status, approver, string(patch.ExpectStatus)))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, classify("update request", err)
	}

	// Ни одной строки: либо ID неверный, либо статус уже сменился
	var current string
	probeErr := r.pool.QueryRow(ctx, `SELECT status FROM requests WHERE id = $1`, id).Scan(&current)
	if probeErr != nil {
		return nil, classify("probe request", probeErr)
	}
	return nil, statusMismatch(id, patch.ExpectStatus, domain.RequestStatus(current))
}

func statusMismatch(id string, expected, current domain.RequestStatus) error {
	if expected == domain.StatusPending {
		return fmt.Errorf("request %s is %s: %w", id, current, domain.ErrAlreadyDecided)
	}
	return fmt.Errorf("request %s is %s, expected %s: %w", id, current, expected, domain.ErrInvalidTransition)
}

func (r *RequestRepo) FindByID(ctx context.Context, id string) (*domain.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id))
	if err != nil {
		return nil, classify("find request", err)
	}
	return req, nil
}

// Find фильтрует заявки, свежие первыми.
func (r *RequestRepo) Find(ctx context.Context, q domain.RequestQuery) ([]*domain.Request, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.Creator != "" {
		add("creator = $%d", q.Creator)
	}
	if q.Approver != "" {
		add("approver = $%d", q.Approver)
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if q.Kind != "" {
		add("kind = $%d", string(q.Kind))
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultFindLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("find requests", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, classify("scan request", err)
		}
		results = append(results, req)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate requests", err)
	}
	return results, nil
}

func (r *RequestRepo) RemoveByID(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM requests WHERE id = $1`, id)
	if err != nil {
		return classify("remove request", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
