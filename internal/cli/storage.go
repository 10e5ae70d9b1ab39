package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/persona"
	"github.com/keshon/sable/internal/storage"
	st "github.com/keshon/sable/internal/storagetypes"
)

func newExtractCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "extract <text>",
		Short: "Extract persona phrases from text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			patterns := persona.DefaultPatterns()
			if cfg.PatternsPath != "" {
				if patterns, err = persona.LoadPatterns(cfg.PatternsPath); err != nil {
					return err
				}
			}
			ex := persona.NewExtractor(patterns, persona.ProseTagger{}, zerolog.Nop())
			return printJSON(cmd, named(ex.Extract(strings.Join(args, " "))))
		},
	}
}

func newSweepCmd(o *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete persona memory older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := o.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			if olderThan <= 0 {
				olderThan = cfg.TransientMaxAge
			}
			n, err := s.SweepTransients(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return printJSON(cmd, map[string]any{"removed": n, "older_than": olderThan.String()})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age cutoff (default: $TRANSIENT_MAX_AGE)")
	return cmd
}

func newStateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the stored affective state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := o.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			cb, err := codebook(cfg)
			if err != nil {
				return err
			}

			rec, err := s.LoadAffect(cmd.Context())
			stored := true
			switch {
			case errors.Is(err, storage.ErrNotFound):
				stored = false
			case err != nil:
				return fmt.Errorf("load affect: %w", err)
			}
			v := cb.Range().Neutral()
			if stored {
				v = cb.Range().New(rec.Valence, rec.Arousal, rec.Dominance)
			}
			return printJSON(cmd, struct {
				Stored    bool         `json:"stored"`
				VAD       affect.VAD   `json:"vad"`
				Mood      string       `json:"mood"`
				UpdatedAt *time.Time   `json:"updated_at,omitempty"`
				Top       []rankedMood `json:"top"`
			}{stored, v, cb.Classify(v).String(), updatedAt(rec, stored), topMoods(cb, v, 3)})
		},
	}
}

func updatedAt(rec st.AffectRecord, stored bool) *time.Time {
	if !stored {
		return nil
	}
	return &rec.UpdatedAt
}

func newPersonaCmd(o *options) *cobra.Command {
	var minConfidence int
	cmd := &cobra.Command{
		Use:   "persona [subject]",
		Short: "Show remembered persona phrases for a user, or the agent itself",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := o.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			subject := st.AgentSubject
			if len(args) == 1 {
				subject = args[0]
			}
			if minConfidence <= 0 {
				minConfidence = cfg.FactMinConfidence
			}
			ts, err := s.Transients(cmd.Context(), subject)
			if err != nil {
				return fmt.Errorf("transients: %w", err)
			}
			return printJSON(cmd, named(st.Group(ts, minConfidence)))
		},
	}
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "Hide facts below this confidence (default: $FACT_MIN_CONFIDENCE)")
	return cmd
}

// named keys categories by label and drops empty ones.
func named(c persona.Categories) map[string][]string {
	out := make(map[string][]string)
	for _, cat := range persona.All {
		if items := c[cat]; len(items) > 0 {
			out[cat.String()] = items
		}
	}
	return out
}
