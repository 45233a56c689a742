package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceRepo: авторитетный счетчик идентификаторов групп в БД.
type SequenceRepo struct {
	pool *pgxpool.Pool
}

func NewSequenceRepo(pool *pgxpool.Pool) *SequenceRepo {
	return &SequenceRepo{pool: pool}
}

// Increment увеличивает и читает счетчик одним upsert: параллельные вызовы
// сериализуются блокировкой строки и никогда не получат одно значение.
func (r *SequenceRepo) Increment(ctx context.Context, groupType string) (int64, error) {
	query := `
		INSERT INTO group_sequences (group_type, counter) VALUES ($1, 1)
		ON CONFLICT (group_type) DO UPDATE SET counter = group_sequences.counter + 1
		RETURNING counter`

	var n int64
	if err := r.pool.QueryRow(ctx, query, groupType).Scan(&n); err != nil {
		return 0, classify("increment sequence", err)
	}
	return n, nil
}

// Current: последнее выданное значение, 0 если счетчика еще нет.
func (r *SequenceRepo) Current(ctx context.Context, groupType string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT counter FROM group_sequences WHERE group_type = $1), 0)`, groupType,
	).Scan(&n)
	if err != nil {
		return 0, classify("read sequence", err)
	}
	return n, nil
}
