// Package retry implements exponential backoff with jitter and cancellable waits.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/avco-ledger/internal/logging"
)

// Policy configures a retry loop.
// The delay after attempt n (0-based) is BaseDelay * 2^n, jittered by +/-Jitter.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration // zero means uncapped
	Jitter      float64       // fraction in [0,1)
	MaxAttempts int

	// ShouldRetry decides whether a failed attempt is worth repeating.
	// Nil retries everything except Permanent errors and context errors.
	ShouldRetry func(err error) bool

	random func() float64
}

// DefaultPolicy returns 5 attempts starting at 500ms with 20% jitter
func DefaultPolicy() *Policy {
	return &Policy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// WithRandom returns a copy of p drawing jitter from fn, for deterministic tests
func (p Policy) WithRandom(fn func() float64) *Policy {
	p.random = fn
	return &p
}

// RetryDelay returns the wait after the given 0-based attempt
func (p *Policy) RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))

	if p.Jitter > 0 {
		r := rand.Float64
		if p.random != nil {
			r = p.random
		}
		// r in [0,1) maps onto [-Jitter, +Jitter)
		delay *= 1 + p.Jitter*(2*r()-1)
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func (p *Policy) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return true
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Func is one attempt; attempt is 0-based
type Func func(ctx context.Context, attempt int) error

// Result describes a finished retry loop
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

// Do runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts or ctx is cancelled. Waits between attempts abort on cancellation.
func Do(ctx context.Context, p *Policy, fn Func) error {
	res := Run(ctx, p, fn)
	if res.LastError == nil {
		return nil
	}
	if res.Attempts > 1 {
		return fmt.Errorf("failed after %d attempts: %w", res.Attempts, res.LastError)
	}
	return res.LastError
}

// Run is Do with attempt accounting
func Run(ctx context.Context, p *Policy, fn Func) *Result {
	logger := logging.FromContext(ctx)
	start := time.Now()
	res := &Result{}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		res.Attempts = attempt + 1

		err := fn(ctx, attempt)
		if err == nil {
			res.LastError = nil
			res.TotalDuration = time.Since(start)
			if attempt > 0 {
				logger.WithFields(map[string]interface{}{
					"attempts":      res.Attempts,
					"totalDuration": res.TotalDuration.String(),
				}).Debug("Operation succeeded after retry")
			}
			return res
		}
		res.LastError = err

		if !p.shouldRetry(err) || attempt == maxAttempts-1 {
			break
		}

		delay := p.RetryDelay(attempt)
		logger.WithFields(map[string]interface{}{
			"attempt":     res.Attempts,
			"maxAttempts": maxAttempts,
			"delay":       delay.String(),
			"error":       err.Error(),
		}).Warn("Operation failed, retrying with exponential backoff")

		if werr := Wait(ctx, delay); werr != nil {
			res.LastError = werr
			break
		}
	}

	res.TotalDuration = time.Since(start)
	return res
}

// Wait blocks for d or until ctx is done, whichever comes first
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
