package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AgentName != "Sable" || cfg.StorageBackend != "sqlite" || cfg.ContextTokens != 4096 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.TransientMaxAge != 720*time.Hour || cfg.InputMerge != 0.125 || cfg.OutputMerge != 0.25 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.RequireDiscord(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("missing token: %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"VAD_LOW", "1", "VAD_LOW"},
		{"TEMP_MIN", "1.5", "TEMP_MIN"},
		{"RESERVED_OUTPUT_TOKENS", "5000", "RESERVED_OUTPUT_TOKENS"},
		{"INPUT_MERGE", "0.9", "INPUT_MERGE + OUTPUT_MERGE"},
		{"OUTPUT_MERGE", "-0.1", "OUTPUT_MERGE"},
		{"STORAGE_BACKEND", "redis", "STORAGE_BACKEND"},
		{"WORKERS", "0", "WORKERS"},
		{"HISTORY_PRUNE", "2000", "HISTORY_PRUNE"},
		{"CONTEXT_TOKENS", "lots", "lots"},
	}
	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Parse()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err %q does not mention %s", err, tc.want)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("AGENT_NAME=Quill\nWORKERS=4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set; register
	// cleanup for the ones it is about to write.
	t.Setenv("AGENT_NAME", "")
	os.Unsetenv("AGENT_NAME")
	t.Setenv("WORKERS", "")
	os.Unsetenv("WORKERS")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AgentName != "Quill" || cfg.Workers != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
}
