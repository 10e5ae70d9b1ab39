// Package mind coordinates the agent: it ingests messages, reacts, and
// writes replies while keeping the affective state and persona memory
// current.
package mind

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/ai"
	"github.com/keshon/sable/internal/persona"
	"github.com/keshon/sable/internal/prompt"
	"github.com/keshon/sable/internal/storage"
	st "github.com/keshon/sable/internal/storagetypes"
	"github.com/keshon/sable/pkg/retrylimit"
	"github.com/keshon/sable/pkg/workpool"
)

// ErrGenerationFailed is returned by Write when the backend could not
// produce a reply. The affective state is left untouched.
var ErrGenerationFailed = errors.New("generation failed")

// FallbackReply is sent in place of a reply that could not be generated.
const FallbackReply = "Sorry, I lost my train of thought there. Could you say that again?"

var errEmptyCompletion = errors.New("empty completion")

// Settings are the tunables of the coordinator.
type Settings struct {
	AgentName   string
	Instruction string

	ContextTokens  int
	ReservedTokens int
	Temperature    affect.TemperatureBounds

	HistoryLimit int
	HistoryPrune int

	FactMinConfidence int
	ReadNudge         float64
	MessageMerge      float64
	InputMerge        float64
	OutputMerge       float64

	Retry retrylimit.Policy
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		AgentName:         "Sable",
		ContextTokens:     4096,
		ReservedTokens:    255,
		Temperature:       affect.DefaultTemperature,
		HistoryLimit:      1000,
		HistoryPrune:      750,
		FactMinConfidence: 2,
		ReadNudge:         0.05,
		MessageMerge:      0.2,
		InputMerge:        0.125,
		OutputMerge:       0.25,
		Retry:             retrylimit.Once(),
	}
}

// Deps are the collaborators a Runner drives.
type Deps struct {
	Session   *affect.Session
	Scorer    Scorer
	Extractor Extractor
	Reactor   Reactor
	Backend   ai.Backend
	Counter   ai.Counter
	Store     storage.Store
	Gateway   Gateway
	Pool      *workpool.Pool
	Limiter   *retrylimit.AdaptiveLimiter // optional
	Log       zerolog.Logger
	Clock     func() time.Time // optional
}

// Runner is the coordinator. Operations on different channels run in
// parallel; operations on one channel are serialised.
type Runner struct {
	Deps
	cfg       Settings
	assembler *prompt.Assembler
	win       *window
}

// NewRunner checks the dependencies and builds a Runner.
func NewRunner(d Deps, cfg Settings) (*Runner, error) {
	switch {
	case d.Session == nil:
		return nil, errors.New("mind: session is required")
	case d.Scorer == nil || d.Extractor == nil || d.Reactor == nil:
		return nil, errors.New("mind: scorer, extractor and reactor are required")
	case d.Backend == nil || d.Counter == nil:
		return nil, errors.New("mind: inference backend is required")
	case d.Store == nil || d.Gateway == nil || d.Pool == nil:
		return nil, errors.New("mind: store, gateway and pool are required")
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Runner{
		Deps: d,
		cfg:  cfg,
		assembler: &prompt.Assembler{
			Budget:   cfg.ContextTokens,
			Reserved: cfg.ReservedTokens,
			Counter:  d.Counter,
		},
		win: newWindow(cfg.HistoryLimit, cfg.HistoryPrune),
	}, nil
}

// Handle runs the full pipeline for one inbound message: read, react,
// and reply when addressed.
func (r *Runner) Handle(ctx context.Context, m Message) error {
	if _, err := r.Read(ctx, m); err != nil {
		return err
	}
	if _, err := r.Emote(ctx, m); err != nil {
		r.Log.Warn().Err(err).Str("message", m.ID).Msg("reaction failed")
	}
	if !m.Addressed {
		return nil
	}
	_, err := r.Write(ctx, m)
	return err
}

// Read ingests a message: it is added to the channel window and persisted,
// the author's persona facts are extracted and stored, and the affective
// state is nudged toward the message's score.
func (r *Runner) Read(ctx context.Context, m Message) (ReadResult, error) {
	c := r.win.channel(m.ChannelID)
	c.mu.Lock()
	defer c.mu.Unlock()

	e := r.entryFor(m)
	r.win.appendLocked(c, e)
	r.persist(ctx, "save entry", r.Store.SaveEntry(ctx, e))

	cats, err := r.extract(ctx, m.Text)
	if err != nil {
		return ReadResult{}, err
	}
	r.remember(ctx, m.AuthorID, m.ID, cats)

	v := r.Scorer.Score(m.Text)
	state := r.Session.Nudge(v, r.cfg.ReadNudge)
	r.Log.Debug().
		Str("channel", m.ChannelID).
		Str("message", m.ID).
		Stringer("vad", v).
		Str("mood", state.MoodLabel).
		Msg("read")
	return ReadResult{Entry: e, Categories: cats, MessageVAD: v, State: state}, nil
}

// Emote reacts to a message when the selector picks an emoji. An empty
// result means the agent abstained.
func (r *Runner) Emote(ctx context.Context, m Message) (string, error) {
	agent := r.persona(ctx, st.AgentSubject)
	emoji := r.Reactor.Select(m.Text, r.Session.Snapshot().VAD, agent)
	if emoji == "" {
		return "", nil
	}
	if err := r.Gateway.AddReaction(ctx, m.ChannelID, m.ID, emoji); err != nil {
		return "", fmt.Errorf("add reaction: %w", err)
	}

	c := r.win.channel(m.ChannelID)
	c.mu.Lock()
	r.win.reactLocked(c, m.ID, emoji)
	c.mu.Unlock()
	r.persist(ctx, "append reaction", r.Store.AppendReaction(ctx, m.ChannelID, m.ID, emoji))
	return emoji, nil
}

// Write generates and sends a reply to m. On backend failure the fallback
// text is sent, ErrGenerationFailed is returned and the affective state is
// not changed.
func (r *Runner) Write(ctx context.Context, m Message) (Reply, error) {
	reqID := uuid.NewString()
	log := r.Log.With().Str("req", reqID).Str("channel", m.ChannelID).Logger()

	c := r.win.channel(m.ChannelID)
	c.mu.Lock()
	defer c.mu.Unlock()

	history := r.history(ctx, c, m)
	agent := r.persona(ctx, st.AgentSubject)
	speaker := r.persona(ctx, m.AuthorID)

	input := r.Scorer.Score(m.Text)
	mood := r.Session.Blend(input, r.cfg.MessageMerge)
	moods := r.Session.TopMoods(mood, 3)

	headers := prompt.InstructionVariants(prompt.InstructionInput{
		Template:    r.cfg.Instruction,
		AgentName:   r.cfg.AgentName,
		Moods:       moods,
		Agent:       agent,
		SpeakerName: m.AuthorName,
		Speaker:     speaker,
	})
	asm := r.assembler.AssembleHeaders(headers, history)
	temp := r.Session.Range().Temperature(mood, r.cfg.Temperature)
	logAssembly(log, asm, temp)
	if asm.HeaderOverflow {
		log.Warn().Int("budget", r.cfg.ContextTokens).Msg("instruction cut to fit the context budget")
	}

	reply := Reply{
		RequestID:   reqID,
		Temperature: temp,
		TokensUsed:  asm.TokensUsed,
		Included:    len(asm.Included),
		Moods:       moods,
	}

	text, err := r.generate(ctx, log, ai.Request{
		Prompt:      asm.Prompt,
		Temperature: temp,
		MaxTokens:   r.cfg.ReservedTokens,
		Stop:        prompt.StopSequences(),
	})
	if err != nil {
		log.Error().Err(err).Msg("generation failed, sending fallback")
		reply.Text = FallbackReply
		reply.Fallback = true
		reply.State = r.Session.Snapshot()
		if id, sendErr := r.Gateway.SendReply(ctx, m.ChannelID, FallbackReply); sendErr == nil {
			reply.MessageID = id
		} else {
			log.Warn().Err(sendErr).Msg("fallback send failed")
		}
		return reply, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	id, err := r.Gateway.SendReply(ctx, m.ChannelID, text)
	if err != nil {
		return reply, fmt.Errorf("send reply: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	reply.MessageID = id
	reply.Text = text

	own := r.entryFor(Message{
		ID:         id,
		ChannelID:  m.ChannelID,
		AuthorID:   st.AgentSubject,
		AuthorName: r.cfg.AgentName,
		Text:       text,
	})
	own.Role = st.RoleAssistant
	own.TokenCount = r.Counter.CountTokens(prompt.RenderLine(own))
	r.win.appendLocked(c, own)
	r.persist(ctx, "save entry", r.Store.SaveEntry(ctx, own))

	if cats, err := r.extract(ctx, text); err == nil {
		r.remember(ctx, st.AgentSubject, id, cats)
	}

	output := r.Scorer.Score(text)
	reply.State = r.Session.Settle(input, r.cfg.InputMerge, output, r.cfg.OutputMerge)
	r.persist(ctx, "save affect", r.SaveAffect(ctx))

	log.Info().
		Str("mood", reply.State.MoodLabel).
		Stringer("vad", reply.State.VAD).
		Int("included", reply.Included).
		Str("reply", truncateForLog(text, 120)).
		Msg("replied")
	return reply, nil
}

// generate calls the backend through the pool with the configured retry
// policy and returns the cleaned completion.
func (r *Runner) generate(ctx context.Context, log zerolog.Logger, req ai.Request) (string, error) {
	policy := r.cfg.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying generation")
	}

	var text string
	err := retrylimit.Do(ctx, r.Limiter, policy, func(ctx context.Context) error {
		res, err := workpool.Do(ctx, r.Pool, func(ctx context.Context) (ai.Result, error) {
			return r.Backend.Generate(ctx, req)
		})
		if err != nil {
			return err
		}
		text = ai.CleanReply(res.Text, req.Stop...)
		if text == "" {
			return errEmptyCompletion
		}
		log.Debug().Int("tokens", res.Tokens).Msg("completion received")
		return nil
	})
	return text, err
}

// history returns the channel's recent entries newest first, from the
// store when it is reachable and from the window otherwise. The message
// being answered is always the newest entry.
func (r *Runner) history(ctx context.Context, c *channel, m Message) []st.Entry {
	entries, err := r.Store.RecentEntries(ctx, m.ChannelID, r.cfg.HistoryLimit)
	if err != nil {
		r.persist(ctx, "recent entries", err)
		entries = r.win.recentLocked(c, r.cfg.HistoryLimit)
	}
	if len(entries) > 0 && entries[0].MessageID == m.ID {
		return entries
	}
	// Later messages on the channel can land between Read and Write; the
	// answered message moves to the front instead of appearing twice.
	out := make([]st.Entry, 0, len(entries)+1)
	out = append(out, r.entryFor(m))
	for _, e := range entries {
		if e.MessageID != m.ID {
			out = append(out, e)
		}
	}
	return out
}

// persona loads a subject's categories. Missing storage yields empty
// categories.
func (r *Runner) persona(ctx context.Context, subject string) persona.Categories {
	ts, err := r.Store.Transients(ctx, subject)
	if err != nil {
		r.persist(ctx, "transients", err)
		return persona.NewCategories()
	}
	return st.Group(ts, r.cfg.FactMinConfidence)
}

func (r *Runner) extract(ctx context.Context, text string) (persona.Categories, error) {
	return workpool.Do(ctx, r.Pool, func(context.Context) (persona.Categories, error) {
		return r.Extractor.Extract(text), nil
	})
}

func (r *Runner) remember(ctx context.Context, subject, source string, cats persona.Categories) {
	if subject == "" {
		return
	}
	for _, t := range st.Transients(subject, source, cats, r.Clock()) {
		if err := r.Store.UpsertTransient(ctx, t); err != nil {
			r.persist(ctx, "upsert transient", err)
			return
		}
	}
}

func (r *Runner) entryFor(m Message) st.Entry {
	at := m.SentAt
	if at.IsZero() {
		at = r.Clock()
	}
	e := st.Entry{
		MessageID:   m.ID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.AuthorID,
		AuthorName:  m.AuthorName,
		Role:        st.RoleUser,
		Text:        m.Text,
		SentAt:      at,
		Reactions:   m.Reactions,
		Attachments: m.Attachments,
	}
	e.TokenCount = r.Counter.CountTokens(prompt.RenderLine(e))
	return e
}

// persist logs a storage failure. Degraded storage is expected and only
// logged at debug level; the guard already warned once.
func (r *Runner) persist(_ context.Context, op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDegraded):
		r.Log.Debug().Str("op", op).Msg("storage degraded, skipped")
	default:
		r.Log.Warn().Err(err).Str("op", op).Msg("storage call failed")
	}
}
