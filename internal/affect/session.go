package affect

import (
	"math/rand"
	"sync"
	"time"
)

// State is a point-in-time copy of the session.
type State struct {
	VAD       VAD       `json:"vad"`
	Mood      Mood      `json:"-"`
	MoodLabel string    `json:"mood"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Session owns the agent's long-lived affective state. All mutation goes
// through its methods, which serialise on one lock. The random source is
// only touched under that lock.
type Session struct {
	mu    sync.Mutex
	cb    *Codebook
	decay DecayConfig
	noise NoiseConfig
	rng   *rand.Rand
	now   func() time.Time

	vad     VAD
	mood    Mood
	updated time.Time
}

// SessionOption tweaks a session at construction.
type SessionOption func(*Session)

// WithDecay overrides the decay factor bounds.
func WithDecay(cfg DecayConfig) SessionOption { return func(s *Session) { s.decay = cfg } }

// WithNoise overrides perturbation bounds.
func WithNoise(cfg NoiseConfig) SessionOption { return func(s *Session) { s.noise = cfg } }

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) SessionOption { return func(s *Session) { s.now = now } }

// NewSession starts at the neutral point of the codebook's range.
func NewSession(cb *Codebook, rng *rand.Rand, opts ...SessionOption) *Session {
	s := &Session{
		cb:    cb,
		decay: DefaultDecay,
		noise: DefaultNoise,
		rng:   rng,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.vad = cb.Range().Neutral()
	s.mood = cb.Classify(s.vad)
	s.updated = s.now()
	return s
}

// Codebook exposes the session's codebook.
func (s *Session) Codebook() *Codebook { return s.cb }

// Range exposes the session's value range.
func (s *Session) Range() Range { return s.cb.Range() }

// Restore replaces the state with a persisted vector.
func (s *Session) Restore(v VAD, updatedAt time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vad = s.cb.Range().ClampVAD(v)
	s.mood = s.cb.Classify(s.vad)
	s.updated = updatedAt
	return s.snapshotLocked()
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Blend returns the current vector pulled toward v by factor without
// touching the session. Used for the per-message transient mood.
func (s *Session) Blend(v VAD, factor float64) VAD {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb.Range().Merge(s.vad, v, factor)
}

// Nudge pulls the state toward v by factor.
func (s *Session) Nudge(v VAD, factor float64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vad = s.cb.Range().Merge(s.vad, v, factor)
	return s.touchLocked()
}

// Settle applies the post-reply update: decay, a double merge of the
// incoming and outgoing message scores, then a small perturbation.
func (s *Session) Settle(input VAD, inputFactor float64, output VAD, outputFactor float64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.cb.Range()
	v := r.Decay(s.vad, s.decay, s.rng)
	v = r.DoubleMerge(v, input, inputFactor, output, outputFactor)
	s.vad = r.Perturb(v, s.noise, s.rng)
	return s.touchLocked()
}

// Decay applies one decay step on its own, e.g. for idle periods.
func (s *Session) Decay() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vad = s.cb.Range().Decay(s.vad, s.decay, s.rng)
	return s.touchLocked()
}

// TopMoods ranks the n moods nearest to v.
func (s *Session) TopMoods(v VAD, n int) []Mood { return s.cb.TopN(v, n) }

// WeightedMood draws one of the n nearest moods to v using the session rng.
func (s *Session) WeightedMood(v VAD, n int) Mood {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb.WeightedNext(v, n, s.rng)
}

func (s *Session) touchLocked() State {
	s.mood = s.cb.Classify(s.vad)
	s.updated = s.now()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	return State{VAD: s.vad, Mood: s.mood, MoodLabel: s.mood.String(), UpdatedAt: s.updated}
}
