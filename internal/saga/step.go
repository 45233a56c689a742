package saga

import "context"

// ActionFunc выполняет работу шага. prev: результаты уже успешно выполненных шагов.
type ActionFunc func(ctx context.Context, prev Responses) (any, error)

// UndoFunc отменяет эффект шага. cause: ошибка, запустившая откат.
type UndoFunc func(ctx context.Context, cause error, prev Responses) error

// Step: одна единица работы саги.
// Шаг без Undo считается некомпенсируемым: его эффект после выполнения остается навсегда.
type Step struct {
	ID     string
	Action ActionFunc
	Undo   UndoFunc
}

// Compensable сообщает, есть ли у шага откат.
func (s Step) Compensable() bool { return s.Undo != nil }

// Key связывает идентификатор шага с типом его результата.
// Шаги, читающие результат предшественника, обращаются к нему через тот же Key,
// поэтому несовпадение типов видно при сборке саги, а не в рантайме.
type Key[T any] struct {
	id string
}

func NewKey[T any](id string) Key[T] {
	return Key[T]{id: id}
}

func (k Key[T]) ID() string { return k.id }

// NewStep собирает типизированный шаг: action обязан вернуть T.
func NewStep[T any](key Key[T], action func(ctx context.Context, prev Responses) (T, error), undo UndoFunc) Step {
	return Step{
		ID: key.id,
		Action: func(ctx context.Context, prev Responses) (any, error) {
			res, err := action(ctx, prev)
			if err != nil {
				return nil, err
			}
			return res, nil
		},
		Undo: undo,
	}
}

// Get достает типизированный результат предыдущего шага.
func Get[T any](r Responses, key Key[T]) (T, bool) {
	var zero T
	v, ok := r.Lookup(key.id)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
