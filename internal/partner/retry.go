package partner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/linnemanlabs/go-core/log"
)

// RetryPolicy bounds how a Classifier retries transient failures.
type RetryPolicy struct {
	// MaxAttempts counts the first call, so 4 means three retries.
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retryable decides whether an attempt error is transient. Nil uses
	// DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy allows three retries with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// DefaultRetryable treats rejections, malformed payloads and bad input as
// final and everything else (timeouts, dial errors, 5xx, 429) as transient.
func DefaultRetryable(err error) bool {
	var rej *RejectedError
	switch {
	case errors.As(err, &rej):
		return false
	case errors.Is(err, ErrBadResponse), errors.Is(err, ErrInvalidInput):
		return false
	}
	return true
}

// Validate checks the policy values.
func (p RetryPolicy) Validate() error {
	var errs []error
	if p.MaxAttempts == 0 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if p.InitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("retry initial backoff must be positive, got %s", p.InitialBackoff))
	}
	if p.MaxBackoff < p.InitialBackoff {
		errs = append(errs, fmt.Errorf("retry max backoff %s is below initial backoff %s", p.MaxBackoff, p.InitialBackoff))
	}
	return errors.Join(errs...)
}

// AttemptFunc performs one network call.
type AttemptFunc func(ctx context.Context) (*Label, error)

// Run executes call under the policy. Errors the policy deems final are
// returned as they are; exhausting the budget on transient errors returns
// an error matching ErrUnavailable that wraps the last cause.
func (p RetryPolicy) Run(ctx context.Context, backend string, L log.Logger, hooks Hooks, call AttemptFunc) (*Label, error) {
	if L == nil {
		L = log.Nop()
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff

	attempt := 0
	op := func() (*Label, error) {
		attempt++
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, err))
		}

		start := time.Now()
		label, err := call(ctx)
		hooks.attempt(backend, attempt, outcomeOf(err), time.Since(start).Seconds())
		if err == nil {
			return label, nil
		}
		if ctx.Err() != nil {
			// caller gave up, do not schedule another attempt
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, err))
		}
		if !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	label, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			L.Warn(ctx, "partner attempt failed, retrying",
				"backend", backend,
				"attempt", attempt,
				"next_backoff", next.String(),
				"error", err,
			)
		}),
	)
	if err == nil {
		return label, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if errors.Is(err, ErrUnavailable) || !retryable(err) {
		return nil, err
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, attempt, err)
}
