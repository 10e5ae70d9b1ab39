package lexicon

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keshon/sable/internal/affect"
)

var (
	wordRegex     = regexp.MustCompile(`[a-z']+`)
	shoutingRegex = regexp.MustCompile(`^[^a-z]*[A-Z][^a-z]*[A-Z][^a-z]*$`)
)

const negationWindow = 3

var negations = map[string]bool{"not": true, "never": true, "no": true, "n't": true}

// Arousal offsets keyed by the leading or trailing punctuation run.
var (
	prefixOffsets = map[string]float64{"...": -0.05}
	suffixOffsets = map[string]float64{
		"...!": 0.05,
		"...?": 0.02,
		"...":  -0.02,
		"???":  0.05,
		"!!!":  0.10,
		"!?":   0.07,
		"?!":   0.07,
		"?":    0.03,
		"!":    0.06,
		".":    -0.05,
	}
	shoutingOffset = 0.09

	suffixOrder = sortedByLength(suffixOffsets)
	prefixOrder = sortedByLength(prefixOffsets)
)

func sortedByLength(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Scorer turns text into a VAD vector. It is read-only after construction
// and safe for concurrent use.
type Scorer struct {
	lex *Lexicon
	rng affect.Range
}

// NewScorer scores with lex and maps results into r. A nil lexicon gives
// a neutral scorer that still applies punctuation offsets.
func NewScorer(lex *Lexicon, r affect.Range) *Scorer {
	return &Scorer{lex: lex, rng: r}
}

var missingOnce sync.Once

// Open loads the lexicon at path, or the bundled one when path is empty.
// An unreadable file degrades to a neutral scorer; the failure is logged once.
func Open(path string, r affect.Range, log zerolog.Logger) *Scorer {
	if path == "" {
		lex := Default()
		log.Debug().Int("terms", lex.Len()).Msg("bundled lexicon loaded")
		return NewScorer(lex, r)
	}
	lex, err := Load(path)
	if err != nil {
		missingOnce.Do(func() {
			log.Warn().Err(err).Str("path", path).Msg("lexicon unavailable, scoring neutral")
		})
		return NewScorer(nil, r)
	}
	if lex.Skipped() > 0 {
		log.Warn().Int("skipped", lex.Skipped()).Str("path", path).Msg("malformed lexicon rows skipped")
	}
	log.Info().Int("terms", lex.Len()).Str("path", path).Msg("lexicon loaded")
	return NewScorer(lex, r)
}

// Lexicon returns the underlying table, possibly nil.
func (s *Scorer) Lexicon() *Lexicon { return s.lex }

// Score maps text to a VAD vector. Empty or unknown text scores neutral
// apart from punctuation cues. Never fails.
func (s *Scorer) Score(text string) affect.VAD {
	tokens := Tokenize(text)
	var vals, aros, doms []float64

	for i, tok := range tokens {
		vad, ok := s.lex.Lookup(tok)
		if !ok {
			continue
		}
		v := vad.Valence
		if negatedAt(tokens, i) {
			v = -v
		}
		vals = append(vals, v)
		aros = append(aros, vad.Arousal)
		doms = append(doms, vad.Dominance)
	}

	out := affect.VAD{
		Valence:   weightedAvg(vals),
		Arousal:   weightedAvg(aros) + ArousalOffset(text),
		Dominance: weightedAvg(doms),
	}
	out = affect.DefaultRange.ClampVAD(out)
	if s.rng == affect.DefaultRange {
		return out
	}
	return s.rng.New(
		affect.Remap(out.Valence, -1, 1, s.rng.Low, s.rng.High),
		affect.Remap(out.Arousal, -1, 1, s.rng.Low, s.rng.High),
		affect.Remap(out.Dominance, -1, 1, s.rng.Low, s.rng.High),
	)
}

// Polarity is the lexical sentiment of text in [-1,1].
func (s *Scorer) Polarity(text string) float64 {
	tokens := Tokenize(text)
	var vals []float64
	for i, tok := range tokens {
		vad, ok := s.lex.Lookup(tok)
		if !ok {
			continue
		}
		v := vad.Valence
		if negatedAt(tokens, i) {
			v = -v
		}
		vals = append(vals, v)
	}
	return weightedAvg(vals)
}

// Tokenize lowercases text and splits it into word tokens. Contractions
// ending in n't are split so the negation stands alone.
func Tokenize(text string) []string {
	raw := wordRegex.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if strings.HasSuffix(tok, "n't") && tok != "n't" {
			if stem := strings.Trim(strings.TrimSuffix(tok, "n't"), "'"); stem != "" {
				out = append(out, stem)
			}
			out = append(out, "n't")
			continue
		}
		tok = strings.Trim(tok, "'")
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func negatedAt(tokens []string, i int) bool {
	for _, prev := range tokens[max(0, i-negationWindow):i] {
		if negations[prev] {
			return true
		}
	}
	return false
}

// weightedAvg weights each score by its own magnitude so strong terms
// dominate weak ones.
func weightedAvg(scores []float64) float64 {
	var num, den float64
	for _, s := range scores {
		a := s
		if a < 0 {
			a = -a
		}
		num += s * a
		den += a
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// ArousalOffset sums the punctuation and shouting cues of text.
func ArousalOffset(text string) float64 {
	trimmed := strings.TrimSpace(text)
	var off float64
	for _, p := range prefixOrder {
		if strings.HasPrefix(trimmed, p) {
			off += prefixOffsets[p]
			break
		}
	}
	for _, suf := range suffixOrder {
		if strings.HasSuffix(trimmed, suf) {
			off += suffixOffsets[suf]
			break
		}
	}
	if shoutingRegex.MatchString(trimmed) {
		off += shoutingOffset
	}
	return off
}
