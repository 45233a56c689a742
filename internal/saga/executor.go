// Package saga исполняет упорядоченный список шагов с компенсациями.
//
// Шаги выполняются строго последовательно. При первой ошибке исполнение
// останавливается, а уже выполненные шаги откатываются в обратном порядке.
// Откат best-effort: упавшая компенсация фиксируется, но не прерывает
// остальные. Это не двухфазный коммит: если откат не удался, вызывающий
// получает полный список сбоев и решает вопрос ручной правки сам.
package saga

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Executor не хранит состояния между вызовами Execute.
type Executor struct {
	logger *zap.Logger
}

func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger.Named("saga")}
}

// Execute прогоняет шаги в объявленном порядке.
// Отмена ctx не прерывает сагу: действия и компенсации получают контекст
// без отмены, но со значениями вызывающего (trace-id и т.п.).
func (e *Executor) Execute(ctx context.Context, name string, steps ...Step) *Result {
	res := &Result{
		Name:         name,
		Responses:    newResponses(len(steps)),
		UndoFailures: make([]UndoFailure, 0),
	}

	if err := validate(steps); err != nil {
		res.Cause = err
		e.logger.Error("saga rejected", zap.String("saga", name), zap.Error(err))
		return res
	}

	start := time.Now()
	done := make([]Step, 0, len(steps))
	actionCtx := context.WithoutCancel(ctx)

	for _, step := range steps {
		out, err := runAction(actionCtx, step, res.Responses.view())
		if err != nil {
			res.FailedStepID = step.ID
			res.Cause = err
			e.logger.Warn("saga step failed, unwinding",
				zap.String("saga", name),
				zap.String("step", step.ID),
				zap.Int("completed", len(done)),
				zap.Error(err))

			res.UndoFailures = e.compensate(ctx, name, done, err, res.Responses.view())
			e.logOutcome(res, start)
			return res
		}

		res.Responses.put(step.ID, out)
		done = append(done, step)
		e.logger.Debug("saga step done", zap.String("saga", name), zap.String("step", step.ID))
	}

	e.logOutcome(res, start)
	return res
}

// compensate идет по выполненным шагам с конца и вызывает Undo там, где он задан.
func (e *Executor) compensate(ctx context.Context, name string, done []Step, cause error, prev Responses) []UndoFailure {
	undoCtx := context.WithoutCancel(ctx)
	failures := make([]UndoFailure, 0)

	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if !step.Compensable() {
			continue
		}
		if err := runUndo(undoCtx, step, cause, prev); err != nil {
			e.logger.Error("saga compensation failed",
				zap.String("saga", name),
				zap.String("step", step.ID),
				zap.NamedError("cause", cause),
				zap.Error(err))
			failures = append(failures, UndoFailure{StepID: step.ID, Err: err})
			continue
		}
		e.logger.Info("saga step compensated", zap.String("saga", name), zap.String("step", step.ID))
	}
	return failures
}

func (e *Executor) logOutcome(res *Result, start time.Time) {
	fields := []zap.Field{
		zap.String("saga", res.Name),
		zap.String("outcome", string(res.Outcome())),
		zap.Duration("took", time.Since(start)),
	}
	switch res.Outcome() {
	case OutcomeCommitted:
		e.logger.Info("saga committed", fields...)
	case OutcomeRolledBack:
		e.logger.Warn("saga rolled back", append(fields, zap.String("failed_step", res.FailedStepID))...)
	default:
		e.logger.Error("saga left inconsistent state",
			append(fields,
				zap.String("failed_step", res.FailedStepID),
				zap.Int("undo_failures", len(res.UndoFailures)))...)
	}
}

func runAction(ctx context.Context, step Step, prev Responses) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in step %q: %v", step.ID, p)
		}
	}()
	return step.Action(ctx, prev)
}

func runUndo(ctx context.Context, step Step, cause error, prev Responses) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in undo of step %q: %v", step.ID, p)
		}
	}()
	return step.Undo(ctx, cause, prev)
}

// validate проверяет определение до запуска: хотя бы один шаг, уникальные непустые ID, заданный Action.
func validate(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: saga requires at least one step", ErrInvalidSaga)
	}
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			return fmt.Errorf("%w: step #%d has no id", ErrInvalidSaga, i)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step %q", ErrInvalidSaga, step.ID)
		}
		if step.Action == nil {
			return fmt.Errorf("%w: step %q has no action", ErrInvalidSaga, step.ID)
		}
		seen[step.ID] = struct{}{}
	}
	return nil
}
