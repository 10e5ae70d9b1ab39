// Package cli implements the sable maintenance commands: scoring text,
// classifying points, extracting persona phrases and inspecting storage.
package cli

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/config"
	"github.com/keshon/sable/internal/storage"
)

type options struct {
	envFile string
	db      string
	backend string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "sable",
		Short:         "Inspect and maintain the agent's affective state",
		Long:          "Offline tools for the agent: score text, classify VAD points, extract persona phrases and maintain storage.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.envFile, "env", "e", "", "Optional .env file to load")
	root.PersistentFlags().StringVarP(&o.db, "db", "d", "", "Storage path (default: $STORAGE_PATH)")
	root.PersistentFlags().StringVarP(&o.backend, "backend", "b", "", "Storage backend: sqlite or file (default: $STORAGE_BACKEND)")

	root.AddCommand(
		newScoreCmd(o),
		newClassifyCmd(o),
		newExtractCmd(o),
		newSweepCmd(o),
		newStateCmd(o),
		newPersonaCmd(o),
	)
	return root
}

func (o *options) config() (*config.Config, error) {
	var files []string
	if o.envFile != "" {
		files = append(files, o.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	if o.db != "" {
		cfg.StoragePath = o.db
	}
	if o.backend != "" {
		cfg.StorageBackend = o.backend
	}
	return cfg, cfg.Validate()
}

func (o *options) openStore() (storage.Store, *config.Config, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	s, err := storage.Open(cfg.StorageBackend, cfg.StoragePath, zerolog.Nop())
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

func codebook(cfg *config.Config) (*affect.Codebook, error) {
	r, err := affect.NewRange(cfg.VADLow, cfg.VADHigh)
	if err != nil {
		return nil, err
	}
	if cfg.CodebookPath != "" {
		return affect.LoadCodebook(cfg.CodebookPath, r)
	}
	return affect.DefaultCodebook(r), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type rankedMood struct {
	Mood       string  `json:"mood"`
	Similarity float64 `json:"similarity"`
}

func topMoods(cb *affect.Codebook, v affect.VAD, n int) []rankedMood {
	ranked := cb.Rank(v)
	out := make([]rankedMood, 0, n)
	for _, s := range ranked[:min(n, len(ranked))] {
		out = append(out, rankedMood{Mood: s.Mood.String(), Similarity: s.Similarity})
	}
	return out
}
