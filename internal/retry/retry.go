// Package retry wraps fallible provider calls in bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/book-expert/interpretation-service/internal/core"
	"github.com/book-expert/logger"
)

// Default retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	// MaxBackoff caps a single backoff sleep.
	MaxBackoff = 5 * time.Minute
)

const (
	logFmtAttemptFailed = "Attempt %d/%d failed, retrying in %v: %v"
	logFmtFatalFailure  = "Attempt %d/%d failed with non-retryable error: %v"
	logFmtRetrySucceed  = "Retry succeeded on attempt %d/%d"
	msgFmtExhausted     = "failed after %d attempts"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config configures an Executor. Zero values select the defaults.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       Sleeper
}

// Executor runs an operation until it succeeds, fails fatally or runs out of
// attempts.
type Executor struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       Sleeper
	log         *logger.Logger
}

// NewExecutor creates an Executor from cfg.
func NewExecutor(cfg Config, log *logger.Logger) *Executor {
	executor := &Executor{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		sleep:       cfg.Sleep,
		log:         log,
	}

	if executor.maxAttempts <= 0 {
		executor.maxAttempts = DefaultMaxAttempts
	}

	if executor.baseDelay <= 0 {
		executor.baseDelay = DefaultBaseDelay
	}

	if executor.sleep == nil {
		executor.sleep = SleepContext
	}

	return executor
}

// MaxAttempts returns the configured attempt budget.
func (e *Executor) MaxAttempts() int {
	return e.maxAttempts
}

// Backoff returns the delay slept after the given zero-based failed attempt,
// capped at MaxBackoff.
func (e *Executor) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return e.baseDelay
	}

	delay := e.baseDelay
	for range attempt {
		if delay >= MaxBackoff/2 {
			return MaxBackoff
		}

		delay <<= 1
	}

	return min(delay, MaxBackoff)
}

// Budget returns the longest Execute can take when every attempt runs for
// perAttempt: all attempts plus the backoff between them.
func (e *Executor) Budget(perAttempt time.Duration) time.Duration {
	total := time.Duration(e.maxAttempts) * perAttempt

	for attempt := range e.maxAttempts - 1 {
		total += e.Backoff(attempt)
	}

	return total
}

// Execute calls operation. Fatal failures are returned unchanged; retryable
// failures are retried after 2^attempt * base delay, and the last one is
// wrapped in a RetryExhausted error once the budget is spent.
func (e *Executor) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := range e.maxAttempts {
		err := operation(ctx)
		if err == nil {
			if attempt > 0 {
				e.log.Info(logFmtRetrySucceed, attempt+1, e.maxAttempts)
			}

			return nil
		}

		if !IsRetryable(err) {
			e.log.Warn(logFmtFatalFailure, attempt+1, e.maxAttempts, err)

			return err
		}

		lastErr = err

		if attempt == e.maxAttempts-1 {
			break
		}

		delay := e.Backoff(attempt)
		e.log.Warn(logFmtAttemptFailed, attempt+1, e.maxAttempts, delay, err)

		sleepErr := e.sleep(ctx, delay)
		if sleepErr != nil {
			return fmt.Errorf("retry aborted: %w", sleepErr)
		}
	}

	return core.NewError(core.KindRetryExhausted, fmt.Sprintf(msgFmtExhausted, e.maxAttempts), lastErr)
}

// IsRetryable reports whether err is a transient failure worth another attempt.
func IsRetryable(err error) bool {
	if core.KindOf(err) == core.KindProviderRetryable {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// SleepContext sleeps for d, returning early with ctx's error if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
