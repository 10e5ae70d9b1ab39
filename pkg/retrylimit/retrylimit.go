// Package retrylimit wraps calls to a slow or flaky backend with bounded
// retries and an adaptive rate limit.
//
//	lim := retrylimit.NewAdaptiveLimiter(2, 1, 4, 1, 0.5)
//	err := retrylimit.Do(ctx, lim, retrylimit.Once(), func(ctx context.Context) error {
//	    return callBackend(ctx)
//	})
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a token bucket whose rate grows after successes and
// shrinks after overload responses.
type AdaptiveLimiter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	cooldown  time.Duration
	lastError time.Time
}

// NewAdaptiveLimiter builds a limiter starting at initial requests per
// second, kept within [min, max]. Each success adds stepUp; each overload
// multiplies the rate by stepDown.
func NewAdaptiveLimiter(initial, min, max, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	if min <= 0 {
		min = 1
	}
	if max < min {
		max = min
	}
	initial = clampLimit(initial, min, max)
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, burstFor(initial)),
		minLimit: min,
		maxLimit: max,
		stepUp:   stepUp,
		stepDown: stepDown,
		cooldown: 10 * time.Second,
	}
}

// Wait blocks until a request may proceed.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success raises the rate unless an overload was seen within the cooldown.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > a.cooldown {
		a.set(a.limiter.Limit() + a.stepUp)
	}
}

// RateLimited lowers the rate after the backend signalled overload.
func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.set(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// CurrentLimit returns the current requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) set(l rate.Limit) {
	l = clampLimit(l, a.minLimit, a.maxLimit)
	if l != a.limiter.Limit() {
		a.limiter.SetLimit(l)
		a.limiter.SetBurst(burstFor(l))
	}
}

func clampLimit(l, min, max rate.Limit) rate.Limit {
	if l < min {
		return min
	}
	if l > max {
		return max
	}
	return l
}

func burstFor(l rate.Limit) int {
	return max(1, int(l))
}

// HTTPError is implemented by errors that carry a response status.
type HTTPError interface {
	error
	StatusCode() int
}

// FatalError stops retrying immediately.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// Fatal marks err as not worth retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Policy controls how Do retries.
type Policy struct {
	Attempts       int // total calls including the first; < 1 means 1
	Delay          time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	Multiplier     float64
	Jitter         bool

	// Retryable decides whether a failed call is tried again. Nil uses
	// Retryable.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Once allows a single retry after a short pause.
func Once() Policy {
	return Policy{
		Attempts:       2,
		Delay:          500 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		RateLimitDelay: time.Second,
		Multiplier:     2,
		Jitter:         true,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// policy's attempts run out or ctx ends. The last error is wrapped in the
// result so callers can still match it with errors.Is.
func Do(ctx context.Context, lim *AdaptiveLimiter, p Policy, fn func(context.Context) error) error {
	attempts := max(1, p.Attempts)
	retryable := p.Retryable
	if retryable == nil {
		retryable = Retryable
	}
	delay := p.Delay

	var last error
	tried := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		tried = attempt
		err := fn(ctx)
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			return nil
		}
		last = err

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return fatal.Err
		}
		if !retryable(err) || attempt == attempts {
			break
		}

		wait := delay
		if IsRateLimited(err) {
			if lim != nil {
				lim.RateLimited()
			}
			wait = p.RateLimitDelay
		} else {
			if IsServerError(err) && lim != nil {
				lim.RateLimited()
			}
			if p.Jitter {
				wait = addJitter(wait)
			}
			delay = nextDelay(delay, p)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if tried == 1 {
		return last
	}
	return fmt.Errorf("gave up after %d attempts: %w", tried, last)
}

// Retryable reports whether err is worth another try: anything except
// cancellation and client-side HTTP errors other than 429.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var he HTTPError
	if errors.As(err, &he) {
		code := he.StatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}
	return true
}

// IsRateLimited reports a 429 response.
func IsRateLimited(err error) bool {
	var he HTTPError
	return errors.As(err, &he) && he.StatusCode() == http.StatusTooManyRequests
}

// IsServerError reports a 5xx response.
func IsServerError(err error) bool {
	var he HTTPError
	if !errors.As(err, &he) {
		return false
	}
	code := he.StatusCode()
	return code >= 500 && code < 600
}

func nextDelay(d time.Duration, p Policy) time.Duration {
	if p.Multiplier > 0 {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// addJitter adds up to 25% to delay.
func addJitter(delay time.Duration) time.Duration {
	span := int64(delay / 4)
	if span <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(span))
}
