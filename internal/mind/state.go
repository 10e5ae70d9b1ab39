package mind

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/storage"
	st "github.com/keshon/sable/internal/storagetypes"
	"github.com/keshon/sable/pkg/jobmgr"
)

// RestoreAffect loads the persisted affective state. With nothing saved
// yet the session keeps its neutral start.
func (r *Runner) RestoreAffect(ctx context.Context) (affect.State, error) {
	rec, err := r.Store.LoadAffect(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return r.Session.Snapshot(), nil
	}
	if err != nil {
		return r.Session.Snapshot(), fmt.Errorf("restore affect: %w", err)
	}
	v := affect.VAD{Valence: rec.Valence, Arousal: rec.Arousal, Dominance: rec.Dominance}
	state := r.Session.Restore(v, rec.UpdatedAt)
	r.Log.Info().Stringer("vad", state.VAD).Str("mood", state.MoodLabel).Msg("affect restored")
	return state, nil
}

// SaveAffect persists the current affective state.
func (r *Runner) SaveAffect(ctx context.Context) error {
	s := r.Session.Snapshot()
	return r.Store.SaveAffect(ctx, st.AffectRecord{
		Valence:   s.VAD.Valence,
		Arousal:   s.VAD.Arousal,
		Dominance: s.VAD.Dominance,
		Mood:      s.MoodLabel,
		UpdatedAt: s.UpdatedAt,
	})
}

// Jobs configures the background work started by StartJobs.
type Jobs struct {
	TransientMaxAge  time.Duration
	SweepInterval    time.Duration
	RecoveryInterval time.Duration
	AutosaveInterval time.Duration
}

type recoverer interface {
	RunRecovery(ctx context.Context, interval time.Duration) error
}

// StartJobs registers the transient sweep, the affect autosave and, when
// the store supports it, the storage recovery loop.
func (r *Runner) StartJobs(jm *jobmgr.Manager, j Jobs) error {
	sweepLog := r.Log.With().Str("job", "transient-sweep").Logger()
	if err := jm.Start("transient-sweep", func(ctx context.Context) error {
		return storage.RunTransientSweeper(ctx, r.Store, j.TransientMaxAge, j.SweepInterval, sweepLog)
	}); err != nil {
		return err
	}
	if err := jm.Every("affect-autosave", j.AutosaveInterval, func(ctx context.Context) error {
		err := r.SaveAffect(ctx)
		if errors.Is(err, storage.ErrDegraded) {
			return nil
		}
		return err
	}); err != nil {
		return err
	}
	if rec, ok := r.Store.(recoverer); ok {
		if err := jm.Start("storage-recovery", func(ctx context.Context) error {
			return rec.RunRecovery(ctx, j.RecoveryInterval)
		}); err != nil {
			return err
		}
	}
	return nil
}
