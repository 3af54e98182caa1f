package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/internal/retry"
)

func TestExecutor_Do_SucceedsFirstAttempt(t *testing.T) {
	e := retry.NewExecutor(3, time.Millisecond, zap.NewNop())

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecutor_Do_RecoversAfterFailures(t *testing.T) {
	e := retry.NewExecutor(3, time.Millisecond, zap.NewNop())

	calls := 0
	err := e.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecutor_Do_Exhausted(t *testing.T) {
	e := retry.NewExecutor(3, time.Millisecond, zap.NewNop())

	sentinel := errors.New("permanent failure")
	calls := 0
	err := e.Do(context.Background(), "generate_text", func(ctx context.Context) error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "generate_text", exhausted.Op)
	assert.Equal(t, uint(3), exhausted.Attempts)
	assert.ErrorIs(t, err, sentinel)
}

func TestExecutor_Do_ContextCancelStopsRetries(t *testing.T) {
	e := retry.NewExecutor(5, 50*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := e.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoValue_ReturnsResult(t *testing.T) {
	e := retry.NewExecutor(3, time.Millisecond, zap.NewNop())

	calls := 0
	got, err := retry.DoValue(context.Background(), e, "op", func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "result", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "result", got)
	assert.Equal(t, 2, calls)
}

func TestDoValue_Exhausted(t *testing.T) {
	e := retry.NewExecutor(2, time.Millisecond, zap.NewNop())

	got, err := retry.DoValue(context.Background(), e, "op", func(ctx context.Context) (int, error) {
		return 42, errors.New("boom")
	})

	require.Error(t, err)
	assert.Zero(t, got)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, uint(2), exhausted.Attempts)
}
