// Package config reads process settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	DiscordToken      string   `env:"DISCORD_TOKEN"`
	BlacklistedGuilds []string `env:"BLACKLISTED_GUILDS" envSeparator:","`
	AgentName         string   `env:"AGENT_NAME" envDefault:"Sable"`
	Instruction       string   `env:"INSTRUCTION"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"sqlite"`
	StoragePath    string `env:"STORAGE_PATH" envDefault:"data/sable.db"`

	LexiconPath  string `env:"LEXICON_PATH"`
	PatternsPath string `env:"PATTERNS_PATH"`
	CodebookPath string `env:"CODEBOOK_PATH"`

	InferenceBackend string        `env:"INFERENCE_BACKEND" envDefault:"llamacpp"`
	InferenceURL     string        `env:"INFERENCE_URL" envDefault:"http://127.0.0.1:8080"`
	InferenceModel   string        `env:"INFERENCE_MODEL"`
	InferenceAPIKey  string        `env:"INFERENCE_API_KEY"`
	InferenceTimeout time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"60s"`

	ContextTokens        int     `env:"CONTEXT_TOKENS" envDefault:"4096"`
	ReservedOutputTokens int     `env:"RESERVED_OUTPUT_TOKENS" envDefault:"255"`
	TempMin              float64 `env:"TEMP_MIN" envDefault:"0.2"`
	TempMax              float64 `env:"TEMP_MAX" envDefault:"0.9"`
	VADLow               float64 `env:"VAD_LOW" envDefault:"-1"`
	VADHigh              float64 `env:"VAD_HIGH" envDefault:"1"`

	Workers      int `env:"WORKERS" envDefault:"2"`
	HistoryLimit int `env:"HISTORY_LIMIT" envDefault:"1000"`
	HistoryPrune int `env:"HISTORY_PRUNE" envDefault:"750"`

	TransientMaxAge  time.Duration `env:"TRANSIENT_MAX_AGE" envDefault:"720h"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	RecoveryInterval time.Duration `env:"RECOVERY_INTERVAL" envDefault:"30s"`
	AutosaveInterval time.Duration `env:"AUTOSAVE_INTERVAL" envDefault:"1m"`

	FactMinConfidence int     `env:"FACT_MIN_CONFIDENCE" envDefault:"2"`
	ReadNudge         float64 `env:"READ_NUDGE" envDefault:"0.05"`
	MessageMerge      float64 `env:"MESSAGE_MERGE" envDefault:"0.2"`
	InputMerge        float64 `env:"INPUT_MERGE" envDefault:"0.125"`
	OutputMerge       float64 `env:"OUTPUT_MERGE" envDefault:"0.25"`
	ReactionThreshold float64 `env:"REACTION_THRESHOLD" envDefault:"0.2"`

	APIAddr  string `env:"API_ADDR"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
	Seed     int64  `env:"SEED"`
}

// Load reads .env files (if any) into the environment and parses it.
// A missing .env is not an error.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)
	return Parse()
}

// Parse builds a Config from the current environment and validates it.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.VADLow >= c.VADHigh {
		bad("VAD_LOW (%g) must be below VAD_HIGH (%g)", c.VADLow, c.VADHigh)
	}
	if c.TempMin > c.TempMax {
		bad("TEMP_MIN (%g) exceeds TEMP_MAX (%g)", c.TempMin, c.TempMax)
	}
	if c.ContextTokens <= 0 || c.ReservedOutputTokens < 0 || c.ReservedOutputTokens >= c.ContextTokens {
		bad("RESERVED_OUTPUT_TOKENS (%d) must be below CONTEXT_TOKENS (%d)", c.ReservedOutputTokens, c.ContextTokens)
	}
	for name, f := range map[string]float64{
		"READ_NUDGE":    c.ReadNudge,
		"MESSAGE_MERGE": c.MessageMerge,
		"INPUT_MERGE":   c.InputMerge,
		"OUTPUT_MERGE":  c.OutputMerge,
	} {
		if f < 0 || f > 1 {
			bad("%s (%g) must be in [0,1]", name, f)
		}
	}
	if c.InputMerge+c.OutputMerge > 1 {
		bad("INPUT_MERGE + OUTPUT_MERGE (%g) exceeds 1", c.InputMerge+c.OutputMerge)
	}
	switch c.StorageBackend {
	case "sqlite", "file":
	default:
		bad("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.InferenceBackend {
	case "llamacpp", "openai":
	default:
		bad("unknown INFERENCE_BACKEND %q", c.InferenceBackend)
	}
	if c.Workers < 1 {
		bad("WORKERS (%d) must be at least 1", c.Workers)
	}
	if c.HistoryPrune < 1 || c.HistoryPrune > c.HistoryLimit {
		bad("HISTORY_PRUNE (%d) must be in [1, HISTORY_LIMIT=%d]", c.HistoryPrune, c.HistoryLimit)
	}
	for name, d := range map[string]time.Duration{
		"SWEEP_INTERVAL":    c.SweepInterval,
		"RECOVERY_INTERVAL": c.RecoveryInterval,
		"AUTOSAVE_INTERVAL": c.AutosaveInterval,
	} {
		if d <= 0 {
			bad("%s must be positive", name)
		}
	}
	return errors.Join(errs...)
}

// RequireDiscord reports a missing bot token.
func (c *Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("%w: DISCORD_TOKEN is not set", ErrInvalid)
	}
	return nil
}
