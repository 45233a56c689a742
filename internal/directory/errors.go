package directory

import (
	"fmt"
	"time"
)

// RemoteError: каталог ответил отказом (success=false или HTTP-статус ошибки).
type RemoteError struct {
	Op      string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("directory %s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("directory %s rejected: %s", e.Op, e.Message)
}

// Temporary: ошибка на стороне сервера каталога, а не в запросе.
func (e *RemoteError) Temporary() bool { return e.Status >= 500 }

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
