package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// ExhaustedError возвращается, когда операция не удалась после всех
// попыток. Оборачивает последнюю ошибку.
type ExhaustedError struct {
	Op       string
	Attempts uint
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation %q failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Executor выполняет операции с повторами и экспоненциальной задержкой.
// Задержка перед попыткой N равна baseDelay * 2^(N-1).
type Executor struct {
	attempts  uint
	baseDelay time.Duration
	logger    *zap.Logger
}

func NewExecutor(attempts uint, baseDelay time.Duration, logger *zap.Logger) *Executor {
	if attempts == 0 {
		attempts = 1
	}
	return &Executor{
		attempts:  attempts,
		baseDelay: baseDelay,
		logger:    logger.Named("Retry"),
	}
}

// Do выполняет fn, повторяя при ошибках. Отмена контекста прерывает
// ожидание между попытками.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var attempt uint
	err := retry.Do(
		func() error {
			attempt++
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(e.attempts),
		retry.Delay(e.baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("Operation failed, retrying",
				zap.String("op", op),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		e.logger.Error("Operation exhausted all attempts",
			zap.String("op", op),
			zap.Uint("attempts", attempt),
			zap.Error(err))
		return &ExhaustedError{Op: op, Attempts: attempt, Err: err}
	}
	return nil
}

// DoValue — вариант Do для операций, возвращающих значение.
func DoValue[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var attempt uint
	result, err := retry.DoWithData(
		func() (T, error) {
			attempt++
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(e.attempts),
		retry.Delay(e.baseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("Operation failed, retrying",
				zap.String("op", op),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		var zero T
		return zero, &ExhaustedError{Op: op, Attempts: attempt, Err: err}
	}
	return result, nil
}
