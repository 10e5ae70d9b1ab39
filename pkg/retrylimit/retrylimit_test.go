package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Delay: time.Millisecond, RateLimitDelay: time.Millisecond, Multiplier: 2}
}

func TestDoRetriesOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, fast(2), func(context.Context) error {
		calls++
		if calls == 1 {
			return statusErr(503)
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoGivesUpAndKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	calls := 0
	var retried []int
	p := fast(2)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }
	err := Do(context.Background(), nil, p, func(context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, cause) || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
	if len(retried) != 1 || retried[0] != 1 {
		t.Fatalf("OnRetry calls = %v", retried)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"fatal", Fatal(errors.New("bad prompt"))},
		{"client error", statusErr(400)},
		{"cancelled", context.Canceled},
	} {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), nil, fast(5), func(context.Context) error {
				calls++
				return tc.err
			})
			if err == nil || calls != 1 {
				t.Fatalf("err=%v calls=%d", err, calls)
			}
		})
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := Do(ctx, nil, fast(3), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestLimiterAdapts(t *testing.T) {
	lim := NewAdaptiveLimiter(4, 1, 8, 1, 0.5)
	lim.RateLimited()
	if got := lim.CurrentLimit(); got != 2 {
		t.Fatalf("after overload limit = %v, want 2", got)
	}
	lim.Success() // inside the cooldown, no change
	if got := lim.CurrentLimit(); got != 2 {
		t.Fatalf("limit changed during cooldown: %v", got)
	}
	lim.cooldown = 0
	lim.lastError = time.Time{}
	for i := 0; i < 10; i++ {
		lim.Success()
	}
	if got := lim.CurrentLimit(); got != 8 {
		t.Fatalf("limit = %v, want capped at 8", got)
	}
	for i := 0; i < 10; i++ {
		lim.RateLimited()
	}
	if got := lim.CurrentLimit(); got != 1 {
		t.Fatalf("limit = %v, want floor 1", got)
	}
}

func TestDoRateLimitedLowersLimit(t *testing.T) {
	lim := NewAdaptiveLimiter(4, 1, 8, 1, 0.5)
	calls := 0
	err := Do(context.Background(), lim, fast(2), func(context.Context) error {
		calls++
		if calls == 1 {
			return statusErr(429)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := lim.CurrentLimit(); got != 2 {
		t.Fatalf("limit = %v, want 2", got)
	}
}

func TestAddJitterSmallDelay(t *testing.T) {
	if got := addJitter(3); got != 3 {
		t.Fatalf("addJitter(3) = %v", got)
	}
	d := addJitter(100 * time.Millisecond)
	if d < 100*time.Millisecond || d >= 125*time.Millisecond {
		t.Fatalf("jittered delay %v out of range", d)
	}
}
