package saga

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSaga = errors.New("invalid saga definition")

// Responses: упорядоченное (в порядке выполнения) представление результатов шагов.
// Снаружи пакета доступно только на чтение.
type Responses struct {
	ids    []string
	values map[string]any
}

func newResponses(capacity int) Responses {
	return Responses{
		ids:    make([]string, 0, capacity),
		values: make(map[string]any, capacity),
	}
}

func (r *Responses) put(id string, v any) {
	r.ids = append(r.ids, id)
	r.values[id] = v
}

// view отдает снимок: шаг видит только то, что было выполнено до него.
func (r Responses) view() Responses {
	return Responses{ids: r.ids[:len(r.ids):len(r.ids)], values: r.values}
}

func (r Responses) Len() int { return len(r.ids) }

// IDs возвращает идентификаторы шагов в порядке их выполнения.
func (r Responses) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

func (r Responses) Lookup(id string) (any, bool) {
	for _, known := range r.ids {
		if known == id {
			return r.values[id], true
		}
	}
	return nil, false
}

// Outcome: три различимых исхода саги.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeInconsistent: шаг упал и хотя бы одна компенсация тоже. Нужна ручная правка.
	OutcomeInconsistent Outcome = "inconsistent"
)

type UndoFailure struct {
	StepID string `json:"step_id"`
	Err    error  `json:"-"`
}

func (f UndoFailure) Error() string {
	return fmt.Sprintf("undo %q: %v", f.StepID, f.Err)
}

func (f UndoFailure) Unwrap() error { return f.Err }

// Result: итог одного прогона саги.
type Result struct {
	Name         string
	Responses    Responses
	FailedStepID string
	Cause        error
	UndoFailures []UndoFailure
}

func (r *Result) IsSuccess() bool {
	return r.Cause == nil
}

func (r *Result) Outcome() Outcome {
	switch {
	case r.Cause == nil:
		return OutcomeCommitted
	case len(r.UndoFailures) > 0:
		return OutcomeInconsistent
	default:
		return OutcomeRolledBack
	}
}

// Err возвращает nil, *StepActionFailed или *CompensationFailed.
func (r *Result) Err() error {
	if r.Cause == nil {
		return nil
	}
	if errors.Is(r.Cause, ErrInvalidSaga) {
		return r.Cause
	}
	stepErr := &StepActionFailed{Saga: r.Name, StepID: r.FailedStepID, Err: r.Cause}
	if len(r.UndoFailures) == 0 {
		return stepErr
	}
	return &CompensationFailed{Action: stepErr, UndoFailures: r.UndoFailures}
}

// StepActionFailed: действие шага завершилось ошибкой. Все компенсации выполнены.
type StepActionFailed struct {
	Saga   string
	StepID string
	Err    error
}

func (e *StepActionFailed) Error() string {
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.StepID, e.Err)
}

func (e *StepActionFailed) Unwrap() error { return e.Err }

// CompensationFailed всегда несет исходную ошибку шага вместе с ошибками откатов.
type CompensationFailed struct {
	Action       *StepActionFailed
	UndoFailures []UndoFailure
}

func (e *CompensationFailed) Error() string {
	parts := make([]string, 0, len(e.UndoFailures))
	for _, f := range e.UndoFailures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%v; compensation failed: %s", e.Action, strings.Join(parts, "; "))
}

func (e *CompensationFailed) Unwrap() []error {
	errs := make([]error, 0, len(e.UndoFailures)+1)
	errs = append(errs, e.Action)
	for _, f := range e.UndoFailures {
		errs = append(errs, f)
	}
	return errs
}

// FailedUndoSteps: идентификаторы шагов, откат которых не удался.
func (e *CompensationFailed) FailedUndoSteps() []string {
	ids := make([]string, 0, len(e.UndoFailures))
	for _, f := range e.UndoFailures {
		ids = append(ids, f.StepID)
	}
	return ids
}
