// Package dbretry wraps failsafe-go retry policies for the two places the
// core needs bounded retries: pipeline action retry_count/retry_delay_ms,
// and a platform runtime's bounded retry of one connect attempt before the
// outer exponential-backoff loop (internal/platform) takes over. Grounded
// on pkg/clients/failsafe.go's retry-policy builder usage.
package dbretry

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Policy configures a bounded retry with fixed delay between attempts,
// matching a pipeline action's retry_count/retry_delay_ms fields (retry
// happens only on error, never on success).
type Policy struct {
	MaxRetries int
	Delay      time.Duration
}

// Execute runs fn, retrying on error up to MaxRetries times with Delay
// between attempts. Context cancellation aborts retries immediately.
func (p Policy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.MaxRetries <= 0 {
		return fn(ctx)
	}
	builder := retrypolicy.NewBuilder[any]().
		WithMaxRetries(p.MaxRetries).
		WithDelay(p.Delay)
	rp := builder.Build()

	_, err := failsafe.With(rp).WithContext(ctx).Get(func() (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// WithTimeout runs fn but abandons it (returning ctx.Err()) if it does not
// complete before timeout elapses: action timeouts are enforced by racing
// the action future against a timer; on timeout the action is considered
// failed and abandoned (best-effort cancellation).
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
