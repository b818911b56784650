// Package retry runs store operations under a bounded, fixed-delay retry
// policy. Client-class failures (4xx) are never retried.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is the number of attempts and the wait between them.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

var (
	// Write is used for order creation and updates.
	Write = Policy{Attempts: 3, Delay: time.Second}
	// Poll is the reduced budget for status polling reads.
	Poll = Policy{Attempts: 2, Delay: 500 * time.Millisecond}
)

// StatusCoder is implemented by errors that carry an HTTP-like status code.
type StatusCoder interface {
	StatusCode() int
}

// IsClientError reports whether err is a 4xx-class failure.
func IsClientError(err error) bool {
	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code >= 400 && code < 500
	}
	return false
}

// Do calls fn until it succeeds, fails with a client error, the attempts are
// used up or ctx is done. The last error is returned on exhaustion.
func Do[T any](ctx context.Context, p Policy, name string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && IsClientError(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		slog.Warn("retrying store operation",
			"op", name, "attempt", attempt, "max_attempts", attempts, "wait", wait, "error", err)
	}

	return backoff.RetryNotifyWithData(op, b, notify)
}
