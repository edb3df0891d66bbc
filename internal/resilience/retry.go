package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/covera/internal/core/domain"
	"github.com/custodia-labs/covera/internal/logger"
)

// Policy bounds retries of one operation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. It doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// Timeout bounds each attempt. Zero disables the per-attempt timeout.
	Timeout time.Duration

	// Retryable decides whether an error is retried. Defaults to domain.IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// PolicyFromSettings builds a policy from resilience settings.
func PolicyFromSettings(s domain.ResilienceSettings) Policy {
	return Policy{
		MaxAttempts: s.MaxAttempts,
		BaseDelay:   s.BaseDelay,
		MaxDelay:    s.MaxDelay,
		Timeout:     s.Timeout,
	}
}

// Delay returns the backoff before attempt n+1 after attempt n failed
// (n starting at 1).
func (p Policy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. Each attempt gets its own timeout. The last
// error is returned wrapped with the attempt count.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsTransient
	}

	var err error
	for n := 1; n <= attempts; n++ {
		err = attempt(ctx, p.Timeout, op)
		if err == nil {
			return nil
		}

		// The caller's own cancellation is final.
		if ctx.Err() != nil {
			return err
		}
		if !retryable(err) {
			return err
		}
		if n == attempts {
			break
		}

		delay := p.Delay(n)
		logger.Debug("%s: attempt %d/%d failed: %v (retrying in %s)", name, n, attempts, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s: giving up after %d attempts: %w", name, attempts, err)
}

func attempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(actx)
}

// DoValue is Do for operations returning a value.
func DoValue[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
