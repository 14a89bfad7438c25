package gateway

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryPolicy bounds a gateway call.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	// BackoffBase is the wait after the first failed attempt.
	BackoffBase time.Duration
	// Multiplier grows the wait on each further failure.
	Multiplier float64
	// MaxBackoff caps the wait.
	MaxBackoff time.Duration
	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64
	// OnRetry, when set, is told about every failed attempt that will be retried.
	OnRetry func(op string, attempt int, wait time.Duration, err error)
}

// DefaultRetryPolicy returns three attempts, 30s per attempt, and a
// 500ms backoff doubling up to 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Timeout:     30 * time.Second,
		BackoffBase: 500 * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  8 * time.Second,
		Jitter:      0.25,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	wait := time.Duration(float64(p.BackoffBase) * math.Pow(mult, float64(attempt-1)))
	if p.MaxBackoff > 0 && wait > p.MaxBackoff {
		wait = p.MaxBackoff
	}
	if p.Jitter > 0 {
		wait += time.Duration(float64(wait) * p.Jitter * (rand.Float64()*2 - 1))
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Do calls fn until it succeeds, returns a permanent error, or the policy's
// attempts run out. Each attempt gets its own timeout; a timed-out attempt
// counts as transient. Errors fn leaves unclassified are treated as
// transient. On exhaustion Do returns a *TransientError wrapping the last
// failure. Cancelling ctx stops the loop and returns ctx.Err().
func Do[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		v, err := fn(actx)
		cancel()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if IsPermanent(err) {
			return zero, err
		}
		last = err

		if attempt == attempts {
			break
		}
		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, wait, err)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}

	var te *TransientError
	if errors.As(last, &te) {
		last = te.Err
	}
	return zero, &TransientError{Op: op, Attempts: attempts, Err: last}
}

// ClassifyStatus maps an HTTP status from an AI provider to a gateway
// error. Rate limits, timeouts and server errors are transient; everything
// else the caller did wrong is permanent.
func ClassifyStatus(op string, status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return Transient(op, err)
	case status >= 400:
		return Permanent(op, err)
	default:
		return Transient(op, err)
	}
}
