// Package retry implements the bounded attempt/delay/deadline policy shared
// by startup checks and readiness probes.
package retry

import (
	"context"
	"fmt"
	"time"

	"loopcard/internal/pkg/errors"
)

// Policy bounds a retried operation: at most Attempts tries, a fixed Delay
// between tries, and a per-attempt deadline of Timeout.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Timeout  time.Duration
}

// Once returns a single-attempt variant of the policy with the given
// per-attempt timeout, used by readiness probes.
func (p Policy) Once(timeout time.Duration) Policy {
	return Policy{Attempts: 1, Delay: 0, Timeout: timeout}
}

// Do runs op under the policy. Each attempt gets a child context with the
// per-attempt deadline. The deadline is advisory: if op ignores cancellation
// it keeps running in the background while Do moves on, so op must not
// mutate shared state it does not own.
//
// The terminal error names the operation, the attempt count, and the last
// underlying failure, keeping "attempt timed out" distinct from "op errored".
func Do(ctx context.Context, name string, p Policy, op func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.WrapWithCode(err, errors.CodeUnavailable, "retry."+name, "canceled before attempt")
		}

		lastErr = runAttempt(ctx, p.Timeout, op)
		if lastErr == nil {
			return nil
		}

		if attempt < p.Attempts {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return errors.WrapWithCode(ctx.Err(), errors.CodeUnavailable, "retry."+name, "canceled between attempts")
			}
		}
	}

	code := errors.CodeUnavailable
	if errors.IsTimeout(lastErr) {
		code = errors.CodeTimeout
	}
	return errors.WrapWithCode(lastErr, code, "retry."+name,
		fmt.Sprintf("failed after %d attempt(s)", p.Attempts))
}

// runAttempt executes one try of op with an advisory deadline. op runs in its
// own goroutine; when the deadline passes first the attempt is reported as
// timed out and op's eventual result is discarded.
func runAttempt(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(attemptCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if timeout > 0 && ctx.Err() == nil {
			return errors.Timeout(fmt.Sprintf("attempt exceeded %s", timeout))
		}
		return errors.WrapWithCode(attemptCtx.Err(), errors.CodeUnavailable, "retry", "attempt canceled")
	}
}
