package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/groupflow/internal/domain"
)

const requestColumns = `id, kind, creator, approver, status, payload, created_at, updated_at`

const defaultFindLimit = 100

type RequestRepo struct {
	db *DB
}

func NewRequestRepo(db *DB) *RequestRepo {
	return &RequestRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.Request, error) {
	var (
		req                  domain.Request
		kind, status         string
		payload              string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&req.ID, &kind, &req.Creator, &req.Approver, &status, &payload, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	req.Kind = domain.RequestKind(kind)
	req.Status = domain.RequestStatus(status)
	req.CreatedAt, req.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	if err := req.UnmarshalPayload([]byte(payload)); err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *RequestRepo) Insert(ctx context.Context, req *domain.Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	payload, err := req.MarshalPayload()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	req.CreatedAt, req.UpdatedAt = now, now

	_, err = r.db.sqlDB.ExecContext(ctx,
		`INSERT INTO requests (id, kind, creator, approver, status, group_id, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, string(req.Kind), req.Creator, req.Approver, string(req.Status), req.GroupID(),
		string(payload), toMillis(now), toMillis(now))
	if err != nil {
		return "", classify("insert request", err)
	}
	return req.ID, nil
}

// UpdateByID: compare-and-set по статусу при непустом ExpectStatus.
func (r *RequestRepo) UpdateByID(ctx context.Context, id string, patch domain.RequestPatch) (*domain.Request, error) {
	var status, approver any
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	if patch.Approver != nil {
		approver = *patch.Approver
	}
	expect := string(patch.ExpectStatus)

	row := r.db.sqlDB.QueryRowContext(ctx, `
		UPDATE requests
		SET status = COALESCE(?, status),
		    approver = COALESCE(?, approver),
		    updated_at = ?
		WHERE id = ? AND (? = '' OR status = ?)
		RETURNING `+requestColumns,
		status, approver, toMillis(time.Now()), id, expect, expect)

	req, err := scanRequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, classify("update request", err)
	}

	var current string
	if probeErr := r.db.sqlDB.QueryRowContext(ctx, `SELECT status FROM requests WHERE id = ?`, id).Scan(&current); probeErr != nil {
		return nil, classify("probe request", probeErr)
	}
	if patch.ExpectStatus == domain.StatusPending {
		return nil, fmt.Errorf("request %s is %s: %w", id, current, domain.ErrAlreadyDecided)
	}
	return nil, fmt.Errorf("request %s is %s, expected %s: %w", id, current, patch.ExpectStatus, domain.ErrInvalidTransition)
}

func (r *RequestRepo) FindByID(ctx context.Context, id string) (*domain.Request, error) {
	req, err := scanRequest(r.db.sqlDB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id))
	if err != nil {
		return nil, classify("find request", err)
	}
	return req, nil
}

func (r *RequestRepo) Find(ctx context.Context, q domain.RequestQuery) ([]*domain.Request, error) {
	var (
		where []string
		args  []any
	)
	if q.Creator != "" {
		where, args = append(where, "creator = ?"), append(args, q.Creator)
	}
	if q.Approver != "" {
		where, args = append(where, "approver = ?"), append(args, q.Approver)
	}
	if q.Status != "" {
		where, args = append(where, "status = ?"), append(args, string(q.Status))
	}
	if q.Kind != "" {
		where, args = append(where, "kind = ?"), append(args, string(q.Kind))
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultFindLimit
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("find requests", err)
	}
	defer rows.Close()

	results := make([]*domain.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, classify("scan request", err)
		}
		results = append(results, req)
	}
	return results, classify("iterate requests", rows.Err())
}

func (r *RequestRepo) RemoveByID(ctx context.Context, id string) error {
	res, err := r.db.sqlDB.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id)
	if err != nil {
		return classify("remove request", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
