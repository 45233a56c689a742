package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/groupflow/internal/audit"
	"github.com/xela07ax/groupflow/internal/domain"
)

// SequenceRepo: счетчик идентификаторов групп.
type SequenceRepo struct {
	db *DB
}

func NewSequenceRepo(db *DB) *SequenceRepo {
	return &SequenceRepo{db: db}
}

// Increment делает один upsert с RETURNING, увеличение и чтение не разделены.
func (r *SequenceRepo) Increment(ctx context.Context, groupType string) (int64, error) {
	var n int64
	err := r.db.sqlDB.QueryRowContext(ctx, `
		INSERT INTO group_sequences (group_type, counter) VALUES (?, 1)
		ON CONFLICT (group_type) DO UPDATE SET counter = counter + 1
		RETURNING counter`, groupType).Scan(&n)
	if err != nil {
		return 0, classify("increment sequence", err)
	}
	return n, nil
}

func (r *SequenceRepo) Current(ctx context.Context, groupType string) (int64, error) {
	var n int64
	err := r.db.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT counter FROM group_sequences WHERE group_type = ?), 0)`, groupType).Scan(&n)
	if err != nil {
		return 0, classify("read sequence", err)
	}
	return n, nil
}

const userColumns = `id, email, username, display_name, password_hash, rank, created_at, updated_at`

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                    domain.User
		createdAt, updatedAt int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.PasswordHash,
		&u.Rank, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt, u.UpdatedAt = fromMillis(createdAt), fromMillis(updatedAt)
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(r.db.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, classify("get user", err)
	}
	return u, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := scanUser(r.db.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		return nil, classify("get user by username", err)
	}
	return u, nil
}

func (r *UserRepo) ListByRanks(ctx context.Context, ranks []string) ([]domain.User, error) {
	out := make([]domain.User, 0)
	if len(ranks) == 0 {
		return out, nil
	}
	args := make([]any, len(ranks))
	for i, rank := range ranks {
		args[i] = rank
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ranks)), ",")

	rows, err := r.db.sqlDB.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE rank IN (`+placeholders+`) ORDER BY username`, args...)
	if err != nil {
		return nil, classify("list users by rank", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify("scan user", err)
		}
		out = append(out, *u)
	}
	return out, classify("iterate users", rows.Err())
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := r.db.sqlDB.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.DisplayName, u.PasswordHash, u.Rank, toMillis(now), toMillis(now))
	return classify("create user", err)
}

const auditColumns = `id, trace_id, request_id, name, actor, payload, outcome, failed_step, error, undo_failures, duration_ms, timestamp`

type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// WriteBatch пишет пачку в одной транзакции.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin audit batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO audit_logs (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return classify("prepare audit batch", err)
	}
	defer stmt.Close()

	for _, e := range events {
		payload, _ := json.Marshal(e.Payload)
		undo, _ := json.Marshal(e.UndoFailures)
		if _, err := stmt.ExecContext(ctx, e.ID, e.TraceID, e.RequestID, e.Name, e.Actor, string(payload),
			e.Outcome, e.FailedStep, e.Error, string(undo), e.DurationMs, toMillis(e.Timestamp)); err != nil {
			return classify("write audit event", err)
		}
	}
	return classify("commit audit batch", tx.Commit())
}

func (r *AuditRepo) ListByRequest(ctx context.Context, requestID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = defaultFindLimit
	}
	rows, err := r.db.sqlDB.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE request_id = ? ORDER BY timestamp ASC, rowid ASC LIMIT ?`,
		requestID, limit)
	if err != nil {
		return nil, classify("list audit", err)
	}
	defer rows.Close()

	out := make([]audit.Event, 0)
	for rows.Next() {
		var (
			e             audit.Event
			payload, undo string
			ts            int64
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &e.RequestID, &e.Name, &e.Actor, &payload,
			&e.Outcome, &e.FailedStep, &e.Error, &undo, &e.DurationMs, &ts); err != nil {
			return nil, classify("scan audit", err)
		}
		e.Timestamp = fromMillis(ts)
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &e.Payload)
		}
		if undo != "" {
			_ = json.Unmarshal([]byte(undo), &e.UndoFailures)
		}
		out = append(out, e)
	}
	return out, classify("iterate audit", rows.Err())
}
