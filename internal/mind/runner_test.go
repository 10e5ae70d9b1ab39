package mind

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/ai"
	"github.com/keshon/sable/internal/lexicon"
	"github.com/keshon/sable/internal/persona"
	"github.com/keshon/sable/internal/prompt"
	"github.com/keshon/sable/internal/reaction"
	"github.com/keshon/sable/internal/storage"
	st "github.com/keshon/sable/internal/storagetypes"
	"github.com/keshon/sable/pkg/jobmgr"
	"github.com/keshon/sable/pkg/retrylimit"
	"github.com/keshon/sable/pkg/workpool"
)

type wordCounter struct{}

func (wordCounter) CountTokens(s string) int { return len(strings.Fields(s)) }

// wordTagger tags every word NN except a few function words.
type wordTagger struct{}

var functionWords = map[string]string{"and": "CC", "or": "CC", "the": "DT", "a": "DT", "hiking": "VBG", "too": "RB"}

func (wordTagger) Tag(text string) ([]persona.Token, error) {
	var out []persona.Token
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, ".,!?")
		tag, ok := functionWords[strings.ToLower(w)]
		if !ok {
			tag = "NN"
		}
		out = append(out, persona.Token{Text: w, Tag: tag})
	}
	return out, nil
}

type fakeBackend struct {
	mu       sync.Mutex
	reply    string
	failures int // calls that fail before the reply is returned
	calls    int
	requests []ai.Request
}

func (b *fakeBackend) Generate(_ context.Context, req ai.Request) (ai.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.requests = append(b.requests, req)
	if b.calls <= b.failures {
		return ai.Result{}, &ai.StatusError{Code: 503, Body: "loading model"}
	}
	return ai.Result{Text: b.reply, Tokens: len(strings.Fields(b.reply))}, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	sent      []string
	reactions []string
}

func (g *fakeGateway) SendReply(_ context.Context, _, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, text)
	return fmt.Sprintf("reply-%d", len(g.sent)), nil
}

func (g *fakeGateway) AddReaction(_ context.Context, _, messageID, emoji string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions = append(g.reactions, messageID+":"+emoji)
	return nil
}

var testClock = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

type harness struct {
	runner  *Runner
	store   storage.Store
	backend *fakeBackend
	gateway *fakeGateway
	scorer  *lexicon.Scorer
	cb      *affect.Codebook
}

const seed = 42

func newHarness(t *testing.T, store storage.Store, cfg Settings) *harness {
	t.Helper()
	if store == nil {
		s, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "sable.db"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		store = s
	}
	pool := workpool.New(2)
	t.Cleanup(pool.Close)

	cb := affect.DefaultCodebook(affect.DefaultRange)
	scorer := lexicon.NewScorer(lexicon.Default(), affect.DefaultRange)
	h := &harness{
		store:   store,
		backend: &fakeBackend{reply: "Hiking sounds lovely, I love photography too!"},
		gateway: &fakeGateway{},
		scorer:  scorer,
		cb:      cb,
	}
	r, err := NewRunner(Deps{
		Session:   affect.NewSession(cb, rand.New(rand.NewSource(seed)), affect.WithClock(testClock)),
		Scorer:    scorer,
		Extractor: persona.NewExtractor(persona.DefaultPatterns(), wordTagger{}, zerolog.Nop()),
		Reactor:   reaction.NewSelector(scorer, reaction.DefaultThresholds, rand.New(rand.NewSource(seed))),
		Backend:   h.backend,
		Counter:   wordCounter{},
		Store:     store,
		Gateway:   h.gateway,
		Pool:      pool,
		Log:       zerolog.Nop(),
		Clock:     testClock,
	}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	h.runner = r
	return h
}

func fastSettings() Settings {
	cfg := DefaultSettings()
	cfg.Retry = retrylimit.Policy{Attempts: 2, Delay: time.Millisecond}
	return cfg
}

func msg(i int, text string) Message {
	return Message{
		ID:         fmt.Sprintf("m%d", i),
		ChannelID:  "c1",
		AuthorID:   "u1",
		AuthorName: "bob",
		Text:       text,
		SentAt:     testClock().Add(time.Duration(i-10) * time.Second),
	}
}

var conversation = []string{
	"hey there, how is your day going?",
	"I had a great morning at the park",
	"the weather was lovely and warm",
	"I really love hiking and photography",
	"what do you like to do on weekends?",
}

func TestWriteEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := fastSettings()
	cfg.Instruction = "You are {name}."
	cfg.ContextTokens = 80
	cfg.ReservedTokens = 20
	h := newHarness(t, nil, cfg)

	// A twin session replays exactly the operations the runner is allowed
	// to apply: one nudge per read and one settle per reply.
	twin := affect.NewSession(h.cb, rand.New(rand.NewSource(seed)), affect.WithClock(testClock))

	var last Message
	for i, text := range conversation {
		last = msg(i, text)
		if _, err := h.runner.Read(ctx, last); err != nil {
			t.Fatal(err)
		}
		twin.Nudge(h.scorer.Score(text), cfg.ReadNudge)
	}
	if !h.runner.Session.Snapshot().VAD.Equal(twin.Snapshot().VAD) {
		t.Fatal("reads changed the state beyond the nudge")
	}

	reply, err := h.runner.Write(ctx, last)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Fallback || reply.Text == "" || reply.MessageID != "reply-1" {
		t.Fatalf("reply = %+v", reply)
	}
	if len(h.gateway.sent) != 1 || h.gateway.sent[0] != reply.Text {
		t.Fatalf("sent = %v", h.gateway.sent)
	}

	req := h.backend.requests[0]
	rendered := wordCounter{}.CountTokens(req.Prompt) + cfg.ReservedTokens
	if rendered > cfg.ContextTokens || rendered != reply.TokensUsed {
		t.Fatalf("prompt uses %d tokens (reported %d), budget %d", rendered, reply.TokensUsed, cfg.ContextTokens)
	}
	if !strings.HasSuffix(req.Prompt, "<bob> what do you like to do on weekends?\n"+prompt.AssistantTag) {
		t.Fatalf("prompt does not end with the newest message:\n%s", req.Prompt)
	}
	// 43 tokens of overhead leave room for the newest three lines only.
	if reply.Included != 3 {
		t.Fatalf("included %d entries, want 3", reply.Included)
	}
	if req.Temperature < cfg.Temperature.Min || req.Temperature > cfg.Temperature.Max {
		t.Fatalf("temperature %v outside bounds", req.Temperature)
	}

	want := twin.Settle(h.scorer.Score(last.Text), cfg.InputMerge, h.scorer.Score(reply.Text), cfg.OutputMerge)
	if !reply.State.VAD.Equal(want.VAD) || reply.State.Mood != want.Mood {
		t.Fatalf("state %v, want %v", reply.State.VAD, want.VAD)
	}

	saved, err := h.store.LoadAffect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if saved.Mood != want.MoodLabel {
		t.Fatalf("saved mood %q, want %q", saved.Mood, want.MoodLabel)
	}

	recent, err := h.store.RecentEntries(ctx, "c1", 1)
	if err != nil || len(recent) != 1 || recent[0].Role != st.RoleAssistant || recent[0].AuthorName != "Sable" {
		t.Fatalf("newest stored entry = %+v (%v)", recent, err)
	}

	agent, err := h.store.Transients(ctx, st.AgentSubject)
	if err != nil {
		t.Fatal(err)
	}
	if got := st.Group(agent, 1)[persona.Like]; !slices.Contains(got, "photography") {
		t.Fatalf("agent likes = %v", got)
	}
}

func TestWriteAfterInterleavedRead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, fastSettings())
	a := msg(1, "first question about weather")
	b := msg(2, "second thought on trains")
	for _, m := range []Message{a, b} {
		if _, err := h.runner.Read(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.runner.Write(ctx, a); err != nil {
		t.Fatal(err)
	}
	p := h.backend.requests[0].Prompt
	if n := strings.Count(p, a.Text); n != 1 {
		t.Fatalf("answered message appears %d times:\n%s", n, p)
	}
	if !strings.Contains(p, b.Text) {
		t.Fatalf("later message missing:\n%s", p)
	}
	if !strings.HasSuffix(p, "<bob> "+a.Text+"\n"+prompt.AssistantTag) {
		t.Fatalf("answered message is not last:\n%s", p)
	}
}

func TestWriteKeepsPromptWithinBudget(t *testing.T) {
	ctx := context.Background()
	cfg := fastSettings()
	cfg.Instruction = "You are {name}."
	cfg.ContextTokens = 80
	cfg.ReservedTokens = 20
	h := newHarness(t, nil, cfg)

	for i := 0; i < 60; i++ {
		tr := st.Transient{SubjectID: "u1", Category: persona.Like, Text: fmt.Sprintf("thing%d", i), InsertedAt: testClock()}
		if err := h.store.UpsertTransient(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}
	m := msg(1, "hello there")
	reply, err := h.runner.Write(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	p := h.backend.requests[0].Prompt
	if strings.Contains(p, "bob likes") || !strings.Contains(p, "mood should be") {
		t.Fatalf("persona line not trimmed first:\n%s", p)
	}
	if rendered := (wordCounter{}).CountTokens(p) + cfg.ReservedTokens; rendered > cfg.ContextTokens || reply.Included != 1 {
		t.Fatalf("rendered %d of %d, included %d", rendered, cfg.ContextTokens, reply.Included)
	}

	// An instruction that cannot fit on its own is cut rather than sent whole.
	cfg.Instruction = strings.Repeat("word ", 200)
	h = newHarness(t, nil, cfg)
	if _, err := h.runner.Write(ctx, m); err != nil {
		t.Fatal(err)
	}
	p = h.backend.requests[0].Prompt
	if rendered := (wordCounter{}).CountTokens(p) + cfg.ReservedTokens; rendered > cfg.ContextTokens {
		t.Fatalf("rendered %d tokens, budget %d", rendered, cfg.ContextTokens)
	}
}

func TestWriteRetriesOnce(t *testing.T) {
	h := newHarness(t, nil, fastSettings())
	h.backend.failures = 1
	m := msg(1, "tell me something nice")
	reply, err := h.runner.Write(context.Background(), m)
	if err != nil {
		t.Fatal(err)
	}
	if h.backend.calls != 2 || reply.Fallback {
		t.Fatalf("calls=%d reply=%+v", h.backend.calls, reply)
	}
}

func TestWriteFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, fastSettings())
	h.backend.failures = 10

	m := msg(1, "I am so happy today!!!")
	if _, err := h.runner.Read(ctx, m); err != nil {
		t.Fatal(err)
	}
	before := h.runner.Session.Snapshot()

	reply, err := h.runner.Write(ctx, m)
	if !errors.Is(err, ErrGenerationFailed) || !errors.Is(err, ai.ErrBackend) {
		t.Fatalf("err = %v", err)
	}
	if h.backend.calls != 2 {
		t.Fatalf("backend called %d times, want 2", h.backend.calls)
	}
	if !reply.Fallback || reply.Text != FallbackReply || h.gateway.sent[0] != FallbackReply {
		t.Fatalf("reply = %+v, sent %v", reply, h.gateway.sent)
	}
	after := h.runner.Session.Snapshot()
	if after != before {
		t.Fatalf("state changed on failure: %+v -> %+v", before, after)
	}
	recent, _ := h.store.RecentEntries(ctx, "c1", 10)
	for _, e := range recent {
		if e.Role == st.RoleAssistant {
			t.Fatalf("fallback was stored: %+v", e)
		}
	}
	if _, err := h.store.LoadAffect(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("affect saved after failure: %v", err)
	}
}

func TestReadExtractsPersona(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, fastSettings())

	res, err := h.runner.Read(ctx, msg(1, "I really love hiking and photography"))
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Categories[persona.Like]; !slices.Equal(got, []string{"hiking", "photography"}) {
		t.Fatalf("likes = %v", got)
	}
	if res.MessageVAD.Valence <= 0 || res.State.VAD.Valence <= 0 {
		t.Fatalf("positive message did not move valence: %+v", res)
	}
	stored, err := h.store.Transients(ctx, "u1")
	if err != nil || len(stored) != 2 {
		t.Fatalf("stored %+v (%v)", stored, err)
	}
}

func TestEmoteAvoidance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, fastSettings())
	err := h.store.UpsertTransient(ctx, st.Transient{
		SubjectID: st.AgentSubject, Category: persona.Avoidance, Text: "politics", InsertedAt: testClock(),
	})
	if err != nil {
		t.Fatal(err)
	}

	m := msg(1, "I love talking about politics, it is wonderful")
	if _, err := h.runner.Read(ctx, m); err != nil {
		t.Fatal(err)
	}
	emoji, err := h.runner.Emote(ctx, m)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(reaction.Emoji(reaction.StrongNegative), emoji) {
		t.Fatalf("emoji %q is not strong-negative", emoji)
	}
	if len(h.gateway.reactions) != 1 || h.gateway.reactions[0] != "m1:"+emoji {
		t.Fatalf("reactions = %v", h.gateway.reactions)
	}
	recent, _ := h.store.RecentEntries(ctx, "c1", 1)
	if len(recent) != 1 || !slices.Equal(recent[0].Reactions, []string{emoji}) {
		t.Fatalf("stored reactions = %+v", recent)
	}
}

func TestDegradedStorageUsesWindow(t *testing.T) {
	ctx := context.Background()
	inner, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "sable.db"))
	if err != nil {
		t.Fatal(err)
	}
	inner.Close()
	guard := storage.NewGuard(inner, zerolog.Nop())
	h := newHarness(t, guard, fastSettings())

	var last Message
	for i, text := range conversation[:3] {
		last = msg(i, text)
		if _, err := h.runner.Read(ctx, last); err != nil {
			t.Fatal(err)
		}
	}
	if guard.Mode() != storage.ModeDegraded {
		t.Fatalf("mode = %s", guard.Mode())
	}
	reply, err := h.runner.Write(ctx, last)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Included != 3 {
		t.Fatalf("included %d, want the 3 windowed messages", reply.Included)
	}
	for _, text := range conversation[:3] {
		if !strings.Contains(h.backend.requests[0].Prompt, text) {
			t.Fatalf("prompt lacks %q", text)
		}
	}
	if h.runner.win.size("c1") != 4 {
		t.Fatalf("window holds %d entries, want 4", h.runner.win.size("c1"))
	}
}

func TestWindowPrunes(t *testing.T) {
	w := newWindow(5, 3)
	c := w.channel("c1")
	for i := 0; i < 6; i++ {
		w.appendLocked(c, st.Entry{MessageID: fmt.Sprintf("m%d", i)})
	}
	got := w.recentLocked(c, 10)
	if len(got) != 3 || got[0].MessageID != "m5" || got[2].MessageID != "m3" {
		t.Fatalf("window = %+v", got)
	}
	w.appendLocked(c, st.Entry{MessageID: "m4", Text: "edited"})
	if w.size("c1") != 3 {
		t.Fatal("replacing an entry grew the window")
	}
}

func TestRestoreAffect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, fastSettings())

	state, err := h.runner.RestoreAffect(ctx)
	if err != nil || !state.VAD.Equal(affect.VAD{}) {
		t.Fatalf("fresh restore = %+v, %v", state, err)
	}

	rec := st.AffectRecord{Valence: 0.75, Arousal: 0.5, Dominance: 0.5, Mood: "joyful", UpdatedAt: testClock()}
	if err := h.store.SaveAffect(ctx, rec); err != nil {
		t.Fatal(err)
	}
	state, err = h.runner.RestoreAffect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if state.Mood != affect.Joyful || state.VAD.Valence != 0.75 {
		t.Fatalf("restored %+v", state)
	}
}

func TestStartJobs(t *testing.T) {
	inner, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "sable.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { inner.Close() })
	h := newHarness(t, storage.NewGuard(inner, zerolog.Nop()), fastSettings())

	jm := jobmgr.NewManager(context.Background(), nil)
	err = h.runner.StartJobs(jm, Jobs{
		TransientMaxAge:  time.Hour,
		SweepInterval:    time.Hour,
		RecoveryInterval: time.Hour,
		AutosaveInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := jm.List(); !slices.Equal(got, []string{"affect-autosave", "storage-recovery", "transient-sweep"}) {
		t.Fatalf("jobs = %v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := inner.LoadAffect(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("autosave never ran")
		}
		time.Sleep(2 * time.Millisecond)
	}
	jm.Shutdown()
	if len(jm.List()) != 0 {
		t.Fatal("jobs survived shutdown")
	}
}
