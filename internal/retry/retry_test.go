// Package retry_test tests the backoff executor and failure classification.
package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/interpretation-service/internal/retry"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPlain = errors.New("plain failure")

// recordingSleeper records requested delays without sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)

	return nil
}

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "retry-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func throttled() error {
	return retry.NewProviderError("ThrottlingException", 400, "slow down", nil)
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	executor := retry.NewExecutor(retry.Config{MaxAttempts: 3, BaseDelay: 0, Sleep: sleeper.Sleep}, createTestLogger(t))

	calls := 0
	err := executor.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return throttled()
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, sleeper.delays, 2)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	assert.Greater(t, sleeper.delays[1], sleeper.delays[0])
}

func TestExecute_FatalErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	executor := retry.NewExecutor(retry.Config{MaxAttempts: 3, BaseDelay: 0, Sleep: sleeper.Sleep}, createTestLogger(t))

	fatal := retry.NewProviderError("AccessDeniedException", 403, "denied", nil)
	calls := 0
	err := executor.Execute(context.Background(), func(context.Context) error {
		calls++

		return fatal
	})

	require.Error(t, err)
	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
	assert.ErrorIs(t, err, core.ErrProviderFatal)
}

func TestExecute_UnclassifiedErrorIsFatal(t *testing.T) {
	t.Parallel()

	executor := retry.NewExecutor(retry.Config{MaxAttempts: 3, BaseDelay: 0, Sleep: (&recordingSleeper{}).Sleep}, createTestLogger(t))

	calls := 0
	err := executor.Execute(context.Background(), func(context.Context) error {
		calls++

		return errPlain
	})

	require.ErrorIs(t, err, errPlain)
	assert.Equal(t, 1, calls)
}

func TestExecute_Exhausted(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	executor := retry.NewExecutor(retry.Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Sleep: sleeper.Sleep}, createTestLogger(t))

	last := retry.NewProviderError("", 503, "unavailable", nil)
	calls := 0
	err := executor.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls == 3 {
			return last
		}

		return throttled()
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeper.delays)
	assert.ErrorIs(t, err, core.ErrRetryExhausted)
	assert.Equal(t, core.KindRetryExhausted, core.KindOf(err))

	var classified *core.ClassifiedError
	require.ErrorAs(t, err, &classified)
	assert.Same(t, last, classified.Cause)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	executor := retry.NewExecutor(retry.Config{MaxAttempts: 3, BaseDelay: time.Hour, Sleep: nil}, createTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := executor.Execute(ctx, func(context.Context) error {
		calls++
		cancel()

		return throttled()
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExecute_Defaults(t *testing.T) {
	t.Parallel()

	executor := retry.NewExecutor(retry.Config{}, createTestLogger(t))

	assert.Equal(t, retry.DefaultMaxAttempts, executor.MaxAttempts())
	assert.Equal(t, time.Second, executor.Backoff(0))
	assert.Equal(t, 2*time.Second, executor.Backoff(1))
	assert.Equal(t, 4*time.Second, executor.Backoff(2))
}

func TestBackoff_IsCappedForLargeAttempts(t *testing.T) {
	t.Parallel()

	executor := retry.NewExecutor(retry.Config{MaxAttempts: 100, BaseDelay: time.Second}, createTestLogger(t))

	assert.Equal(t, 256*time.Second, executor.Backoff(8))
	assert.Equal(t, retry.MaxBackoff, executor.Backoff(9))

	for _, attempt := range []int{62, 63, 64, 99, 1000} {
		assert.Equal(t, retry.MaxBackoff, executor.Backoff(attempt), "attempt %d", attempt)
	}
}

func TestBudget(t *testing.T) {
	t.Parallel()

	executor := retry.NewExecutor(retry.Config{MaxAttempts: 3, BaseDelay: time.Second}, createTestLogger(t))

	assert.Equal(t, 3*time.Minute+3*time.Second, executor.Budget(time.Minute))

	single := retry.NewExecutor(retry.Config{MaxAttempts: 1, BaseDelay: time.Second}, createTestLogger(t))
	assert.Equal(t, time.Minute, single.Budget(time.Minute))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		code    string
		status  int
		message string
		want    core.ErrorKind
	}{
		{name: "throttling code", code: "ThrottlingException", status: 400, message: "", want: core.KindProviderRetryable},
		{name: "service unavailable code", code: "ServiceUnavailableException", want: core.KindProviderRetryable},
		{name: "too many requests code", code: "TooManyRequestsException", want: core.KindProviderRetryable},
		{name: "internal server code", code: "InternalServerException", want: core.KindProviderRetryable},
		{name: "model timeout code", code: "ModelTimeoutException", want: core.KindProviderRetryable},
		{name: "throttle message", message: "Request was Throttled", want: core.KindProviderRetryable},
		{name: "timeout message", message: "upstream timeout", want: core.KindProviderRetryable},
		{name: "status 429", status: 429, want: core.KindProviderRetryable},
		{name: "status 500", status: 500, want: core.KindProviderRetryable},
		{name: "status 503", status: 503, want: core.KindProviderRetryable},
		{name: "access denied", code: "AccessDeniedException", status: 403, message: "denied", want: core.KindProviderFatal},
		{name: "validation", code: "ValidationException", status: 400, message: "bad input", want: core.KindProviderFatal},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, retry.Classify(testCase.code, testCase.status, testCase.message))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, retry.IsRetryable(throttled()))
	assert.True(t, retry.IsRetryable(context.DeadlineExceeded))
	assert.False(t, retry.IsRetryable(errPlain))
	assert.False(t, retry.IsRetryable(core.NewError(core.KindValidation, "bad", nil)))
	assert.False(t, retry.IsRetryable(core.NewError(core.KindRetryExhausted, "done", throttled())))
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, retry.SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, retry.SleepContext(ctx, time.Hour), context.Canceled)
}
