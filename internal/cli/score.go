package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/lexicon"
	"github.com/keshon/sable/pkg/workpool"
)

type scored struct {
	Text string     `json:"text"`
	VAD  affect.VAD `json:"vad"`
	Mood string     `json:"mood"`
}

func newScoreCmd(o *options) *cobra.Command {
	var file string
	var workers int
	cmd := &cobra.Command{
		Use:   "score [text]",
		Short: "Score text with the lexicon",
		Long:  "Score the given text, or every non-empty line of --file, and print the VAD point and nearest mood.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			cb, err := codebook(cfg)
			if err != nil {
				return err
			}
			scorer := lexicon.Open(cfg.LexiconPath, cb.Range(), zerolog.Nop())

			if file == "" {
				if len(args) == 0 {
					return fmt.Errorf("text or --file is required")
				}
				text := strings.Join(args, " ")
				v := scorer.Score(text)
				return printJSON(cmd, scored{Text: text, VAD: v, Mood: cb.Classify(v).String()})
			}

			lines, err := readLines(file)
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = cfg.Workers
			}
			out := make([]scored, len(lines))
			idx := make([]int, len(lines))
			for i := range idx {
				idx[i] = i
			}
			err = workpool.Parallel(cmd.Context(), idx, workers, func(_ context.Context, i int) error {
				v := scorer.Score(lines[i])
				out[i] = scored{Text: lines[i], VAD: v, Mood: cb.Classify(v).String()}
				return nil
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Score every line of this file")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Parallel scorers (default: $WORKERS)")
	return cmd
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func newClassifyCmd(o *options) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "classify <valence> <arousal> <dominance>",
		Short: "Classify a VAD point into a mood",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			cb, err := codebook(cfg)
			if err != nil {
				return err
			}
			var c [3]float64
			for i, a := range args {
				if c[i], err = strconv.ParseFloat(a, 64); err != nil {
					return fmt.Errorf("argument %d: %w", i+1, err)
				}
			}
			v := cb.Range().New(c[0], c[1], c[2])
			return printJSON(cmd, struct {
				VAD  affect.VAD   `json:"vad"`
				Mood string       `json:"mood"`
				Top  []rankedMood `json:"top"`
			}{v, cb.Classify(v).String(), topMoods(cb, v, top)})
		},
	}
	cmd.Flags().IntVarP(&top, "top", "n", 3, "How many ranked moods to show")
	return cmd
}
