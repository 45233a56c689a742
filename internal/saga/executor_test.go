package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trace фиксирует порядок вызовов action/undo.
type trace struct {
	mu    sync.Mutex
	calls []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, s)
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func okStep(tr *trace, id string, out any) Step {
	return Step{
		ID: id,
		Action: func(ctx context.Context, prev Responses) (any, error) {
			tr.add("do:" + id)
			return out, nil
		},
		Undo: func(ctx context.Context, cause error, prev Responses) error {
			tr.add("undo:" + id)
			return nil
		},
	}
}

func failStep(tr *trace, id string, err error) Step {
	return Step{
		ID: id,
		Action: func(ctx context.Context, prev Responses) (any, error) {
			tr.add("do:" + id)
			return nil, err
		},
		Undo: func(ctx context.Context, cause error, prev Responses) error {
			tr.add("undo:" + id)
			return nil
		},
	}
}

func TestExecuteCommitsAllSteps(t *testing.T) {
	tr := &trace{}
	exec := NewExecutor(nil)

	res := exec.Execute(context.Background(), "happy",
		okStep(tr, "a", 1),
		okStep(tr, "b", "two"),
		okStep(tr, "c", nil),
	)

	require.True(t, res.IsSuccess())
	assert.Equal(t, OutcomeCommitted, res.Outcome())
	assert.NoError(t, res.Err())
	assert.Equal(t, []string{"do:a", "do:b", "do:c"}, tr.list())
	assert.Equal(t, []string{"a", "b", "c"}, res.Responses.IDs())
	assert.Empty(t, res.FailedStepID)
	assert.NotNil(t, res.UndoFailures)
	assert.Empty(t, res.UndoFailures)

	v, ok := res.Responses.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "two", v)

	// nil-результат тоже записывается
	v, ok = res.Responses.Lookup("c")
	require.True(t, ok)
	assert.Nil(t, v)
}

func TestExecuteUnwindsInReverseOrder(t *testing.T) {
	tr := &trace{}
	boom := errors.New("boom")

	res := NewExecutor(nil).Execute(context.Background(), "unwind",
		okStep(tr, "a", 1),
		okStep(tr, "b", 2),
		failStep(tr, "c", boom),
		okStep(tr, "d", 4),
	)

	require.False(t, res.IsSuccess())
	assert.Equal(t, OutcomeRolledBack, res.Outcome())
	assert.Equal(t, "c", res.FailedStepID)
	assert.ErrorIs(t, res.Cause, boom)
	assert.Empty(t, res.UndoFailures)

	// ни действие d, ни откат упавшего c не вызываются
	assert.Equal(t, []string{"do:a", "do:b", "do:c", "undo:b", "undo:a"}, tr.list())

	var stepErr *StepActionFailed
	require.ErrorAs(t, res.Err(), &stepErr)
	assert.Equal(t, "c", stepErr.StepID)
	assert.Equal(t, "unwind", stepErr.Saga)
	assert.ErrorIs(t, res.Err(), boom)
}

func TestExecuteFirstStepFailureCompensatesNothing(t *testing.T) {
	tr := &trace{}
	res := NewExecutor(nil).Execute(context.Background(), "first",
		failStep(tr, "a", errors.New("nope")),
		okStep(tr, "b", 2),
	)

	assert.Equal(t, OutcomeRolledBack, res.Outcome())
	assert.Equal(t, []string{"do:a"}, tr.list())
	assert.Equal(t, 0, res.Responses.Len())
}

func TestExecuteSkipsStepsWithoutUndo(t *testing.T) {
	tr := &trace{}
	noUndo := Step{
		ID: "b",
		Action: func(ctx context.Context, prev Responses) (any, error) {
			tr.add("do:b")
			return nil, nil
		},
	}

	res := NewExecutor(nil).Execute(context.Background(), "skip",
		okStep(tr, "a", 1),
		noUndo,
		failStep(tr, "c", errors.New("fail")),
	)

	assert.Equal(t, OutcomeRolledBack, res.Outcome())
	assert.Equal(t, []string{"do:a", "do:b", "do:c", "undo:a"}, tr.list())
}

func TestExecuteContinuesAfterUndoFailure(t *testing.T) {
	tr := &trace{}
	undoErr := errors.New("undo broke")
	cause := errors.New("step broke")

	brokenUndo := okStep(tr, "b", 2)
	brokenUndo.Undo = func(ctx context.Context, c error, prev Responses) error {
		tr.add("undo:b")
		return undoErr
	}

	res := NewExecutor(nil).Execute(context.Background(), "inconsistent",
		okStep(tr, "a", 1),
		brokenUndo,
		failStep(tr, "c", cause),
	)

	assert.Equal(t, OutcomeInconsistent, res.Outcome())
	assert.Equal(t, []string{"do:a", "do:b", "do:c", "undo:b", "undo:a"}, tr.list())
	require.Len(t, res.UndoFailures, 1)
	assert.Equal(t, "b", res.UndoFailures[0].StepID)
	assert.ErrorIs(t, res.UndoFailures[0].Err, undoErr)

	var compErr *CompensationFailed
	require.ErrorAs(t, res.Err(), &compErr)
	assert.Equal(t, []string{"b"}, compErr.FailedUndoSteps())
	assert.Equal(t, "c", compErr.Action.StepID)
	// исходная ошибка шага остается доступной через errors.Is
	assert.ErrorIs(t, res.Err(), cause)
	assert.ErrorIs(t, res.Err(), undoErr)
}

func TestUndoReceivesCauseAndPriorResponses(t *testing.T) {
	cause := errors.New("remote rejected")
	idKey := NewKey[string]("insert")

	var (
		gotCause error
		gotID    string
		sawSelf  bool
	)

	insert := NewStep(idKey,
		func(ctx context.Context, prev Responses) (string, error) {
			return "REQ-1", nil
		},
		func(ctx context.Context, c error, prev Responses) error {
			gotCause = c
			gotID, _ = Get(prev, idKey)
			_, sawSelf = prev.Lookup("apply")
			return nil
		},
	)
	apply := Step{
		ID: "apply",
		Action: func(ctx context.Context, prev Responses) (any, error) {
			return nil, cause
		},
	}

	res := NewExecutor(nil).Execute(context.Background(), "cause", insert, apply)

	assert.Equal(t, OutcomeRolledBack, res.Outcome())
	assert.ErrorIs(t, gotCause, cause)
	assert.Equal(t, "REQ-1", gotID)
	assert.False(t, sawSelf)
}

func TestTypedKeysFlowBetweenSteps(t *testing.T) {
	type record struct{ ID string }

	recKey := NewKey[*record]("load")
	countKey := NewKey[int]("count")

	var seenInFirst bool
	load := NewStep(recKey, func(ctx context.Context, prev Responses) (*record, error) {
		_, seenInFirst = prev.Lookup("count")
		return &record{ID: "g-1"}, nil
	}, nil)
	count := NewStep(countKey, func(ctx context.Context, prev Responses) (int, error) {
		rec, ok := Get(prev, recKey)
		if !ok {
			return 0, errors.New("missing record")
		}
		return len(rec.ID), nil
	}, nil)

	res := NewExecutor(nil).Execute(context.Background(), "typed", load, count)
	require.NoError(t, res.Err())
	assert.False(t, seenInFirst)

	n, ok := Get(res.Responses, countKey)
	require.True(t, ok)
	assert.Equal(t, 3, n)

	// ключ с тем же id, но другим типом не находит значение
	_, ok = Get(res.Responses, NewKey[string]("count"))
	assert.False(t, ok)
}

func TestExecuteRejectsInvalidDefinitions(t *testing.T) {
	tr := &trace{}
	cases := map[string][]Step{
		"empty":     nil,
		"no id":     {okStep(tr, "", 1)},
		"duplicate": {okStep(tr, "a", 1), okStep(tr, "a", 2)},
		"no action": {{ID: "a"}},
	}

	for name, steps := range cases {
		t.Run(name, func(t *testing.T) {
			res := NewExecutor(nil).Execute(context.Background(), name, steps...)
			assert.False(t, res.IsSuccess())
			assert.ErrorIs(t, res.Err(), ErrInvalidSaga)
			assert.Empty(t, res.FailedStepID)
		})
	}
	assert.Empty(t, tr.list())
}

func TestExecuteRecoversPanics(t *testing.T) {
	tr := &trace{}
	panicky := Step{
		ID: "p",
		Action: func(ctx context.Context, prev Responses) (any, error) {
			panic("kaboom")
		},
	}
	panickyUndo := okStep(tr, "a", 1)
	panickyUndo.Undo = func(ctx context.Context, cause error, prev Responses) error {
		panic("undo kaboom")
	}

	res := NewExecutor(nil).Execute(context.Background(), "panic", panickyUndo, panicky)

	assert.Equal(t, OutcomeInconsistent, res.Outcome())
	assert.Equal(t, "p", res.FailedStepID)
	assert.Contains(t, res.Cause.Error(), "kaboom")
	require.Len(t, res.UndoFailures, 1)
	assert.Contains(t, res.UndoFailures[0].Err.Error(), "undo kaboom")
}

func TestCompensationRunsOnCancelledContext(t *testing.T) {
	errBoom := errors.New("boom")
	ctx, cancel := context.WithCancel(context.Background())

	var undoCtxErr error
	first := Step{
		ID: "a",
		Action: func(ctx context.Context, prev Responses) (any, error) {
			return nil, nil
		},
		Undo: func(ctx context.Context, cause error, prev Responses) error {
			undoCtxErr = ctx.Err()
			return nil
		},
	}
	second := Step{
		ID: "b",
		Action: func(ctx context.Context, prev Responses) (any, error) {
			cancel()
			return nil, errBoom
		},
	}

	res := NewExecutor(nil).Execute(ctx, "cancel", first, second)

	assert.Equal(t, OutcomeRolledBack, res.Outcome())
	assert.ErrorIs(t, res.Cause, errBoom)
	assert.NoError(t, undoCtxErr)
}

func TestActionSurvivesCallerCancellation(t *testing.T) {
	type traceKey struct{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), traceKey{}, "t-1"))
	defer cancel()

	var secondErr error
	var secondTrace any
	first := Step{
		ID: "a",
		Action: func(ctx context.Context, prev Responses) (any, error) {
			cancel()
			return 1, nil
		},
	}
	second := Step{
		ID: "b",
		Action: func(ctx context.Context, prev Responses) (any, error) {
			secondErr = ctx.Err()
			secondTrace = ctx.Value(traceKey{})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
			return 2, nil
		},
	}

	res := NewExecutor(nil).Execute(ctx, "cancel", first, second)

	require.NoError(t, res.Err())
	assert.Equal(t, OutcomeCommitted, res.Outcome())
	assert.NoError(t, secondErr)
	assert.Equal(t, "t-1", secondTrace)
	assert.Error(t, ctx.Err())
}

func TestExecutorHoldsNoStateBetweenRuns(t *testing.T) {
	exec := NewExecutor(nil)

	var wg sync.WaitGroup
	results := make([]*Result, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := &trace{}
			steps := []Step{okStep(tr, "a", i), okStep(tr, "b", i)}
			if i%2 == 1 {
				steps = append(steps, failStep(tr, "c", errors.New("odd")))
			}
			results[i] = exec.Execute(context.Background(), "parallel", steps...)
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if i%2 == 1 {
			assert.Equal(t, OutcomeRolledBack, res.Outcome())
			continue
		}
		assert.Equal(t, OutcomeCommitted, res.Outcome())
		v, _ := res.Responses.Lookup("a")
		assert.Equal(t, i, v)
	}
}
