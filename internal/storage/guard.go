package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	st "github.com/keshon/sable/internal/storagetypes"
)

// Mode reports whether persistence is usable.
type Mode string

const (
	ModeHealthy  Mode = "healthy"
	ModeDegraded Mode = "degraded"
)

// Guard wraps a Store and switches to degraded mode on the first backend
// failure. While degraded every call fails fast with ErrDegraded and the
// caller keeps working from memory. Recover brings it back.
type Guard struct {
	inner Store
	log   zerolog.Logger

	mu       sync.RWMutex
	degraded bool
	since    time.Time
	lastErr  error
}

func NewGuard(inner Store, log zerolog.Logger) *Guard {
	return &Guard{inner: inner, log: log}
}

// Mode returns the current mode.
func (g *Guard) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.degraded {
		return ModeDegraded
	}
	return ModeHealthy
}

// Status returns the mode, when it started and the error that caused it.
func (g *Guard) Status() (Mode, time.Time, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.degraded {
		return ModeDegraded, g.since, g.lastErr
	}
	return ModeHealthy, time.Time{}, nil
}

// Recover pings the backend while degraded and restores healthy mode on
// success. Reports whether the store is healthy afterwards.
func (g *Guard) Recover(ctx context.Context) bool {
	if g.Mode() == ModeHealthy {
		return true
	}
	if err := g.inner.Ping(ctx); err != nil {
		g.log.Debug().Err(err).Msg("storage still unavailable")
		return false
	}
	g.mu.Lock()
	down := time.Since(g.since)
	g.degraded = false
	g.lastErr = nil
	g.mu.Unlock()
	g.log.Info().Dur("down_for", down).Msg("storage recovered")
	return true
}

// RunRecovery calls Recover every interval until ctx is done.
func (g *Guard) RunRecovery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Recover(ctx)
		}
	}
}

func (g *Guard) check() error {
	if g.Mode() == ModeDegraded {
		return ErrDegraded
	}
	return nil
}

// fail records a backend failure. Not-found and cancellation are passed
// through without degrading.
func (g *Guard) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	g.mu.Lock()
	first := !g.degraded
	if first {
		g.degraded = true
		g.since = time.Now()
	}
	g.lastErr = err
	g.mu.Unlock()
	if first {
		g.log.Warn().Err(err).Str("op", op).Msg("storage degraded, continuing in memory")
	}
	return fmt.Errorf("%w: %s: %v", ErrDegraded, op, err)
}

func (g *Guard) SaveEntry(ctx context.Context, e st.Entry) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.fail("save entry", g.inner.SaveEntry(ctx, e))
}

func (g *Guard) RecentEntries(ctx context.Context, channelID string, limit int) ([]st.Entry, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	out, err := g.inner.RecentEntries(ctx, channelID, limit)
	return out, g.fail("recent entries", err)
}

func (g *Guard) AppendReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.fail("append reaction", g.inner.AppendReaction(ctx, channelID, messageID, emoji))
}

func (g *Guard) UpsertTransient(ctx context.Context, t st.Transient) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.fail("upsert transient", g.inner.UpsertTransient(ctx, t))
}

func (g *Guard) Transients(ctx context.Context, subjectID string) ([]st.Transient, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	out, err := g.inner.Transients(ctx, subjectID)
	return out, g.fail("transients", err)
}

func (g *Guard) SweepTransients(ctx context.Context, cutoff time.Time) (int, error) {
	if err := g.check(); err != nil {
		return 0, err
	}
	n, err := g.inner.SweepTransients(ctx, cutoff)
	return n, g.fail("sweep transients", err)
}

func (g *Guard) LoadAffect(ctx context.Context) (st.AffectRecord, error) {
	if err := g.check(); err != nil {
		return st.AffectRecord{}, err
	}
	r, err := g.inner.LoadAffect(ctx)
	return r, g.fail("load affect", err)
}

func (g *Guard) SaveAffect(ctx context.Context, r st.AffectRecord) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.fail("save affect", g.inner.SaveAffect(ctx, r))
}

func (g *Guard) Ping(ctx context.Context) error { return g.inner.Ping(ctx) }

func (g *Guard) Close() error { return g.inner.Close() }
