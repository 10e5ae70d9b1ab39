package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	st "github.com/keshon/sable/internal/storagetypes"
)

// ErrNotOpen is returned by a Reopener whose backend has not opened yet.
var ErrNotOpen = errors.New("storage: backend not open")

// Reopener stands in for a backend that failed to open. Ping retries the
// open and every other call is forwarded once it succeeds.
type Reopener struct {
	open func() (Store, error)

	mu    sync.Mutex
	inner Store
}

func NewReopener(open func() (Store, error)) *Reopener {
	return &Reopener{open: open}
}

func (r *Reopener) store() (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inner == nil {
		return nil, ErrNotOpen
	}
	return r.inner, nil
}

// OpenGuarded opens the backend behind a Guard. If that fails the Guard
// starts degraded around a Reopener, so the recovery loop can bring the
// backend up later.
func OpenGuarded(kind, path string, log zerolog.Logger) *Guard {
	s, err := Open(kind, path, log)
	if err == nil {
		return NewGuard(s, log)
	}
	log.Warn().Err(err).Str("backend", kind).Str("path", path).Msg("storage unavailable at startup, continuing in memory")
	g := NewGuard(NewReopener(func() (Store, error) { return Open(kind, path, log) }), log)
	g.degraded = true
	g.since = time.Now()
	g.lastErr = err
	return g
}

func (r *Reopener) SaveEntry(ctx context.Context, e st.Entry) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	return s.SaveEntry(ctx, e)
}

func (r *Reopener) RecentEntries(ctx context.Context, channelID string, limit int) ([]st.Entry, error) {
	s, err := r.store()
	if err != nil {
		return nil, err
	}
	return s.RecentEntries(ctx, channelID, limit)
}

func (r *Reopener) AppendReaction(ctx context.Context, channelID, messageID, emoji string) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	return s.AppendReaction(ctx, channelID, messageID, emoji)
}

func (r *Reopener) UpsertTransient(ctx context.Context, t st.Transient) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	return s.UpsertTransient(ctx, t)
}

func (r *Reopener) Transients(ctx context.Context, subjectID string) ([]st.Transient, error) {
	s, err := r.store()
	if err != nil {
		return nil, err
	}
	return s.Transients(ctx, subjectID)
}

func (r *Reopener) SweepTransients(ctx context.Context, cutoff time.Time) (int, error) {
	s, err := r.store()
	if err != nil {
		return 0, err
	}
	return s.SweepTransients(ctx, cutoff)
}

func (r *Reopener) LoadAffect(ctx context.Context) (st.AffectRecord, error) {
	s, err := r.store()
	if err != nil {
		return st.AffectRecord{}, err
	}
	return s.LoadAffect(ctx)
}

func (r *Reopener) SaveAffect(ctx context.Context, rec st.AffectRecord) error {
	s, err := r.store()
	if err != nil {
		return err
	}
	return s.SaveAffect(ctx, rec)
}

// Ping opens the backend if needed, then pings it.
func (r *Reopener) Ping(ctx context.Context) error {
	r.mu.Lock()
	if r.inner == nil {
		s, err := r.open()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.inner = s
	}
	s := r.inner
	r.mu.Unlock()
	return s.Ping(ctx)
}

func (r *Reopener) Close() error {
	s, err := r.store()
	if err != nil {
		return nil
	}
	return s.Close()
}
