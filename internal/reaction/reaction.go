// Package reaction picks an emoji reaction for an incoming message from the
// agent's mood, its persona and the message's own sentiment.
package reaction

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/persona"
)

// Bucket is a coarse sentiment class.
type Bucket string

const (
	StrongPositive Bucket = "strong_positive"
	MildPositive   Bucket = "mild_positive"
	Neutral        Bucket = "neutral"
	MildNegative   Bucket = "mild_negative"
	StrongNegative Bucket = "strong_negative"
)

var bucketEmoji = map[Bucket][]string{
	StrongPositive: {"🔥", "🤩", "🥳"},
	MildPositive:   {"🙂", "👍", "😺"},
	Neutral:        {"😐", "🤔"},
	MildNegative:   {"🙁", "👎"},
	StrongNegative: {"😡", "🚫", "💀"},
}

type topic struct {
	name  string
	re    *regexp.Regexp
	emoji []string
}

// Checked in order; the first match wins.
var topics = []topic{
	{"code", regexp.MustCompile(`(?i)\b(code|python|js|bug|function|class|compile)\b`), []string{"💻", "🧠", "🐍"}},
	{"ai", regexp.MustCompile(`(?i)\b(ai|llm|model|neural|agent)\b`), []string{"🤖"}},
	{"animal", regexp.MustCompile(`(?i)\b(cat|dog|pet|animal)\b`), []string{"🐱", "🐶"}},
	{"food", regexp.MustCompile(`(?i)\b(food|pizza|burger|eat|cook)\b`), []string{"🍕", "🍔"}},
	{"game", regexp.MustCompile(`(?i)\b(game|gaming|play|fps|rpg)\b`), []string{"🎮"}},
	{"music", regexp.MustCompile(`(?i)\b(music|song|guitar|piano)\b`), []string{"🎵"}},
	{"book", regexp.MustCompile(`(?i)\b(book|read|novel)\b`), []string{"📚"}},
	{"math", regexp.MustCompile(`(?i)\b(math|algebra|geometry|equation)\b`), []string{"📐"}},
	{"space", regexp.MustCompile(`(?i)\b(space|planet|star|galaxy)\b`), []string{"🌌"}},
}

// Persona categories in priority order and the bucket each forces.
var personaBuckets = []struct {
	cat    persona.Category
	bucket Bucket
}{
	{persona.Avoidance, StrongNegative},
	{persona.Dislike, MildNegative},
	{persona.Like, MildPositive},
	{persona.Passion, StrongPositive},
}

// Sentiment scores text polarity in [-1,1].
type Sentiment interface {
	Polarity(text string) float64
}

// Thresholds tune bucket boundaries and the topic gate.
type Thresholds struct {
	Strong      float64 // |score| above this is a strong bucket
	Mild        float64 // |score| above this is a mild bucket
	Abstain     float64 // neutral bucket with intensity below this yields no reaction
	TopicChance float64 // a detected topic is used when a draw exceeds this
	Combine     float64 // intensity above this keeps the bucket emoji next to the topic one
}

// DefaultThresholds are the stock bucket boundaries.
var DefaultThresholds = Thresholds{Strong: 0.6, Mild: 0.15, Abstain: 0.2, TopicChance: 0.35, Combine: 0.6}

// Selector chooses reactions. Safe for concurrent use.
type Selector struct {
	sentiment Sentiment
	th        Thresholds

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector builds a Selector drawing from rng.
func NewSelector(s Sentiment, th Thresholds, rng *rand.Rand) *Selector {
	return &Selector{sentiment: s, th: th, rng: rng}
}

// Select returns an emoji (possibly two concatenated) or "" to abstain.
// A persona match always answers from its bucket alone.
func (s *Selector) Select(text string, mood affect.VAD, agent persona.Categories) string {
	intensity := mood.Intensity()

	bucket, forced := personaBucket(text, agent)
	if !forced {
		bucket = s.bucket(text, intensity)
	}
	if bucket == Neutral && intensity < s.th.Abstain {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	emoji := s.pick(bucketEmoji[bucket])
	if forced {
		return emoji
	}
	if t, ok := detectTopic(text); ok && s.rng.Float64() > s.th.TopicChance {
		te := s.pick(t.emoji)
		if intensity > s.th.Combine {
			return emoji + te
		}
		return te
	}
	return emoji
}

func (s *Selector) bucket(text string, intensity float64) Bucket {
	score := s.sentiment.Polarity(text) * (0.6 + intensity)
	switch {
	case score > s.th.Strong:
		return StrongPositive
	case score > s.th.Mild:
		return MildPositive
	case score < -s.th.Strong:
		return StrongNegative
	case score < -s.th.Mild:
		return MildNegative
	default:
		return Neutral
	}
}

func (s *Selector) pick(options []string) string {
	return options[s.rng.Intn(len(options))]
}

// personaBucket reports the bucket forced by the first persona phrase the
// text mentions, checking categories in priority order.
func personaBucket(text string, agent persona.Categories) (Bucket, bool) {
	lowered := strings.ToLower(text)
	for _, pb := range personaBuckets {
		for _, phrase := range agent[pb.cat] {
			if mentions(lowered, phrase) {
				return pb.bucket, true
			}
		}
	}
	return "", false
}

func mentions(lowered, phrase string) bool {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	return phrase != "" && strings.Contains(lowered, phrase)
}

func detectTopic(text string) (topic, bool) {
	for _, t := range topics {
		if t.re.MatchString(text) {
			return t, true
		}
	}
	return topic{}, false
}

// Emoji lists the pool for a bucket.
func Emoji(b Bucket) []string {
	out := make([]string, len(bucketEmoji[b]))
	copy(out, bucketEmoji[b])
	return out
}
