package affect

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCodebook is returned for empty codebooks, unknown labels or
// duplicate labels.
var ErrInvalidCodebook = errors.New("affect: invalid codebook")

// Mood is a discrete emotional label.
type Mood int

const (
	Joyful Mood = iota
	Angry
	Fearful
	Sad
	Calm
	Bored
	Excited
	Neutral
)

var moodNames = [...]string{"joyful", "angry", "fearful", "sad", "calm", "bored", "excited", "neutral"}

func (m Mood) String() string {
	if m < 0 || int(m) >= len(moodNames) {
		return fmt.Sprintf("mood(%d)", int(m))
	}
	return moodNames[m]
}

// ParseMood maps a label back to its Mood.
func ParseMood(s string) (Mood, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range moodNames {
		if n == s {
			return Mood(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mood %q", ErrInvalidCodebook, s)
}

// Archetype anchors a mood to a point in VAD space.
type Archetype struct {
	Mood  Mood
	Point VAD
}

// Codebook is an immutable, ordered set of archetypes. Order breaks ties.
type Codebook struct {
	rng        Range
	archetypes []Archetype
}

// DefaultArchetypes are authored for DefaultRange.
var DefaultArchetypes = []Archetype{
	{Joyful, VAD{0.75, 0.5, 0.5}},
	{Angry, VAD{-0.625, 0.625, 0.625}},
	{Fearful, VAD{-0.75, 0.625, -0.625}},
	{Sad, VAD{-0.75, -0.625, -0.625}},
	{Calm, VAD{0.5, -0.625, 0.375}},
	{Bored, VAD{-0.375, -0.75, -0.375}},
	{Excited, VAD{0.625, 0.875, 0.625}},
	{Neutral, VAD{0, 0, 0}},
}

// NewCodebook validates archetypes and clamps their points into r.
func NewCodebook(r Range, archetypes []Archetype) (*Codebook, error) {
	if len(archetypes) == 0 {
		return nil, fmt.Errorf("%w: no archetypes", ErrInvalidCodebook)
	}
	seen := make(map[Mood]bool, len(archetypes))
	out := make([]Archetype, 0, len(archetypes))
	for _, a := range archetypes {
		if seen[a.Mood] {
			return nil, fmt.Errorf("%w: duplicate label %q", ErrInvalidCodebook, a.Mood)
		}
		seen[a.Mood] = true
		out = append(out, Archetype{Mood: a.Mood, Point: r.ClampVAD(a.Point)})
	}
	return &Codebook{rng: r, archetypes: out}, nil
}

// DefaultCodebook builds the stock codebook for r.
func DefaultCodebook(r Range) *Codebook {
	cb, err := NewCodebook(r, DefaultArchetypes)
	if err != nil {
		panic(err)
	}
	return cb
}

type codebookFile struct {
	Archetypes []struct {
		Label     string  `yaml:"label"`
		Valence   float64 `yaml:"valence"`
		Arousal   float64 `yaml:"arousal"`
		Dominance float64 `yaml:"dominance"`
	} `yaml:"archetypes"`
}

// LoadCodebook reads archetypes from a YAML file:
//
//	archetypes:
//	  - {label: joyful, valence: 0.75, arousal: 0.5, dominance: 0.5}
func LoadCodebook(path string, r Range) (*Codebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read codebook: %w", err)
	}
	var f codebookFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCodebook, err)
	}
	archetypes := make([]Archetype, 0, len(f.Archetypes))
	for _, a := range f.Archetypes {
		m, err := ParseMood(a.Label)
		if err != nil {
			return nil, err
		}
		archetypes = append(archetypes, Archetype{Mood: m, Point: VAD{a.Valence, a.Arousal, a.Dominance}})
	}
	return NewCodebook(r, archetypes)
}

// Range returns the range the codebook was built for.
func (c *Codebook) Range() Range { return c.rng }

// Archetypes returns a copy of the archetypes in declaration order.
func (c *Codebook) Archetypes() []Archetype {
	out := make([]Archetype, len(c.archetypes))
	copy(out, c.archetypes)
	return out
}

// Scored is an archetype with its similarity to a query vector.
type Scored struct {
	Archetype
	Similarity float64
}

// Rank orders all archetypes by similarity to v, most similar first.
// Equal similarities keep declaration order.
func (c *Codebook) Rank(v VAD) []Scored {
	out := make([]Scored, len(c.archetypes))
	for i, a := range c.archetypes {
		out[i] = Scored{Archetype: a, Similarity: c.rng.Similarity(v, a.Point)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// Classify returns the single most similar mood.
func (c *Codebook) Classify(v VAD) Mood {
	return c.Rank(v)[0].Mood
}

// TopN returns up to n moods ordered by similarity.
func (c *Codebook) TopN(v VAD, n int) []Mood {
	ranked := c.Rank(v)
	if n > len(ranked) {
		n = len(ranked)
	}
	if n < 0 {
		n = 0
	}
	out := make([]Mood, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Mood
	}
	return out
}

// WeightedNext draws one of the top n moods with probability proportional
// to similarity. When every weight is zero the draw is uniform.
func (c *Codebook) WeightedNext(v VAD, n int, rng *rand.Rand) Mood {
	ranked := c.Rank(v)
	if n <= 0 || n > len(ranked) {
		n = len(ranked)
	}
	ranked = ranked[:n]

	total := 0.0
	for _, s := range ranked {
		if s.Similarity > 0 {
			total += s.Similarity
		}
	}
	if total <= 0 {
		return ranked[rng.Intn(len(ranked))].Mood
	}
	pick := rng.Float64() * total
	last := ranked[0].Mood
	for _, s := range ranked {
		if s.Similarity <= 0 {
			continue
		}
		last = s.Mood
		pick -= s.Similarity
		if pick < 0 {
			return s.Mood
		}
	}
	return last
}

// MoodNames joins labels with ", ".
func MoodNames(moods []Mood) string {
	parts := make([]string, len(moods))
	for i, m := range moods {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}
