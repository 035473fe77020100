// Package retry provides a small reusable retry policy shared by the
// notification dispatcher and the inbox poller.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy describes how many times an operation runs and how long to wait
// between attempts. Attempt numbers start at 1.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int
	// Base is the delay before the second attempt. Zero retries immediately.
	Base       time.Duration
	Multiplier float64
	// Max caps a single delay. Zero means uncapped.
	Max time.Duration
	// Jitter spreads delays by +/- the given fraction (0.3 => 0.7..1.3).
	Jitter float64
}

// Immediate returns a policy that retries without waiting.
func Immediate(attempts int) Policy {
	return Policy{MaxAttempts: attempts}
}

// Exponential returns base * 2^n backoff capped at max.
func Exponential(attempts int, base, max time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Base: base, Multiplier: 2, Max: max}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Delay returns the wait before attempt+1, given that attempt just failed.
// Delay(1) == Base, Delay(2) == Base*Multiplier, ...
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if p.Base <= 0 || attempt < 1 {
		return 0
	}
	d := float64(p.Base)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if p.Max > 0 && d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}
	if p.Jitter > 0 {
		d *= 1 - p.Jitter + rand.Float64()*2*p.Jitter
	}
	out := time.Duration(d)
	if p.Max > 0 && out > p.Max {
		out = p.Max
	}
	if out < 0 {
		return 0
	}
	return out
}

// Attempts returns the normalized attempt cap.
func (p Policy) Attempts() int { return p.normalized().MaxAttempts }

// Do runs fn until it succeeds, returns a permanent error, or the policy is
// exhausted. fn receives the 1-based attempt number. Waiting between attempts
// honors ctx; an in-flight fn call is never interrupted by Do.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p = p.normalized()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) || attempt >= p.MaxAttempts {
			break
		}
		if err := Sleep(ctx, p.Delay(attempt)); err != nil {
			return fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Permanent marks an error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }

// Transient marks an error as a retryable condition (for example a network
// timeout reported by a store).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked with Transient or exposes a
// Temporary/Timeout method returning true.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t transientError
	if errors.As(err, &t) {
		return true
	}
	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}
	var to interface{ Timeout() bool }
	if errors.As(err, &to) && to.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

type transientError struct{ err error }

func (e transientError) Error() string { return fmt.Sprintf("transient: %v", e.err) }
func (e transientError) Unwrap() error { return e.err }
