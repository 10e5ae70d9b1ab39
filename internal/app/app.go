// Package app builds the agent's components from configuration. Both the
// bot and the CLI start here.
package app

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/ai"
	"github.com/keshon/sable/internal/config"
	"github.com/keshon/sable/internal/lexicon"
	"github.com/keshon/sable/internal/logging"
	"github.com/keshon/sable/internal/mind"
	"github.com/keshon/sable/internal/persona"
	"github.com/keshon/sable/internal/reaction"
	"github.com/keshon/sable/internal/storage"
	"github.com/keshon/sable/pkg/retrylimit"
	"github.com/keshon/sable/pkg/workpool"
)

// App holds everything that does not depend on the chat platform.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Range     affect.Range
	Codebook  *affect.Codebook
	Session   *affect.Session
	Scorer    *lexicon.Scorer
	Extractor *persona.Extractor
	Selector  *reaction.Selector
	Store     *storage.Guard
	Pool      *workpool.Pool

	seed int64
}

// New loads the affect model, the lexicon, the extraction patterns and
// opens storage. A storage backend that cannot be opened leaves the store
// degraded rather than failing.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	r, err := affect.NewRange(cfg.VADLow, cfg.VADHigh)
	if err != nil {
		return nil, err
	}

	cb := affect.DefaultCodebook(r)
	if cfg.CodebookPath != "" {
		if cb, err = affect.LoadCodebook(cfg.CodebookPath, r); err != nil {
			return nil, err
		}
	}

	patterns := persona.DefaultPatterns()
	if cfg.PatternsPath != "" {
		if patterns, err = persona.LoadPatterns(cfg.PatternsPath); err != nil {
			return nil, err
		}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	scorer := lexicon.Open(cfg.LexiconPath, r, logging.For(log, "lexicon"))
	th := reaction.DefaultThresholds
	th.Abstain = cfg.ReactionThreshold

	return &App{
		Config:    cfg,
		Log:       log,
		Range:     r,
		Codebook:  cb,
		Session:   affect.NewSession(cb, rand.New(rand.NewSource(seed))),
		Scorer:    scorer,
		Extractor: persona.NewExtractor(patterns, persona.ProseTagger{}, logging.For(log, "persona")),
		Selector:  reaction.NewSelector(scorer, th, rand.New(rand.NewSource(seed+1))),
		Store:     storage.OpenGuarded(cfg.StorageBackend, cfg.StoragePath, logging.For(log, "storage")),
		Pool:      workpool.New(cfg.Workers),
		seed:      seed,
	}, nil
}

// Settings maps configuration onto coordinator settings.
func (a *App) Settings() mind.Settings {
	c := a.Config
	s := mind.DefaultSettings()
	s.AgentName = c.AgentName
	s.Instruction = c.Instruction
	s.ContextTokens = c.ContextTokens
	s.ReservedTokens = c.ReservedOutputTokens
	s.Temperature = affect.TemperatureBounds{Min: c.TempMin, Max: c.TempMax}
	s.HistoryLimit = c.HistoryLimit
	s.HistoryPrune = c.HistoryPrune
	s.FactMinConfidence = c.FactMinConfidence
	s.ReadNudge = c.ReadNudge
	s.MessageMerge = c.MessageMerge
	s.InputMerge = c.InputMerge
	s.OutputMerge = c.OutputMerge
	return s
}

// Runner connects the coordinator to gw and the configured inference
// backend.
func (a *App) Runner(gw mind.Gateway) (*mind.Runner, error) {
	backend, counter, err := ai.New(ai.Options{
		Kind:    a.Config.InferenceBackend,
		BaseURL: a.Config.InferenceURL,
		Model:   a.Config.InferenceModel,
		APIKey:  a.Config.InferenceAPIKey,
		Timeout: a.Config.InferenceTimeout,
	})
	if err != nil {
		return nil, err
	}
	return mind.NewRunner(mind.Deps{
		Session:   a.Session,
		Scorer:    a.Scorer,
		Extractor: a.Extractor,
		Reactor:   a.Selector,
		Backend:   backend,
		Counter:   counter,
		Store:     a.Store,
		Gateway:   gw,
		Pool:      a.Pool,
		Limiter:   retrylimit.NewAdaptiveLimiter(2, 0.2, 8, 0.1, 0.5),
		Log:       logging.For(a.Log, "mind"),
	}, a.Settings())
}

// Jobs maps configuration onto the background job settings.
func (a *App) Jobs() mind.Jobs {
	return mind.Jobs{
		TransientMaxAge:  a.Config.TransientMaxAge,
		SweepInterval:    a.Config.SweepInterval,
		RecoveryInterval: a.Config.RecoveryInterval,
		AutosaveInterval: a.Config.AutosaveInterval,
	}
}

// Seed is the seed the random sources were built from.
func (a *App) Seed() int64 { return a.seed }

// Close stops the worker pool and closes storage.
func (a *App) Close() error {
	a.Pool.Close()
	return a.Store.Close()
}
