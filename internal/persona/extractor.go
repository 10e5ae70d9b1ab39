package persona

import (
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	contrastSplit  = regexp.MustCompile(`(?i)\b(but|however|though|except)\b`)
	factValueSplit = regexp.MustCompile(`(?i)\b(and|but|however|though|except|because|so|which|who|when)\b`)
	charBlacklist  = regexp.MustCompile(`[^\p{L}\p{N}_\s\-]`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

const maxFactWords = 6

// Extractor finds preference phrases and facts in a message. It holds no
// mutable state beyond a log-once guard and is safe for concurrent use.
type Extractor struct {
	patterns *Patterns
	tagger   Tagger
	log      zerolog.Logger
	warnOnce sync.Once
}

// NewExtractor builds an extractor. A nil tagger means ProseTagger.
func NewExtractor(p *Patterns, tagger Tagger, log zerolog.Logger) *Extractor {
	if p == nil {
		p = DefaultPatterns()
	}
	if tagger == nil {
		tagger = ProseTagger{}
	}
	return &Extractor{patterns: p, tagger: tagger, log: log}
}

// Extract returns every category's phrases for text. Categories without
// a trigger match are present and empty.
func (e *Extractor) Extract(text string) Categories {
	out := NewCategories()
	text = normalizeQuotes(text)
	if strings.TrimSpace(text) == "" {
		return out
	}
	for _, cat := range All {
		for _, re := range e.patterns.Categories[cat] {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			tail := m[len(m)-1]
			tail = contrastSplit.Split(tail, 2)[0]
			for _, phrase := range e.nounRuns(tail) {
				out.Add(cat, cleanPhrase(phrase))
			}
		}
	}
	out.Add(Fact, e.factPairs(text)...)
	return out
}

// nounRuns returns maximal runs of consecutive noun tokens. Gerunds count
// as nouns so activities like "hiking" survive.
func (e *Extractor) nounRuns(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	tokens, err := e.tagger.Tag(text)
	if err != nil {
		e.warnOnce.Do(func() {
			e.log.Warn().Err(err).Msg("part-of-speech tagging failed, skipping noun phrases")
		})
		return nil
	}

	var runs []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			runs = append(runs, strings.Join(cur, " "))
			cur = nil
		}
	}
	for _, t := range tokens {
		w := strings.ToLower(t.Text)
		if isNounTag(t.Tag) && !stopWords[w] && !e.patterns.GenericNouns[w] {
			cur = append(cur, t.Text)
			continue
		}
		flush()
	}
	flush()
	return runs
}

func isNounTag(tag string) bool {
	return strings.HasPrefix(tag, "NN") || tag == "VBG"
}

// factPairs applies the key/value patterns and keeps values that look
// durable.
func (e *Extractor) factPairs(text string) []string {
	var facts []string
	for _, re := range e.patterns.FactPairs {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := m[re.SubexpIndex("value")]
		value = factValueSplit.Split(value, 2)[0]
		value = cleanPhrase(value)
		words := strings.Fields(value)
		if len(words) == 0 || e.patterns.FactRejectLeads[words[0]] {
			continue
		}
		if len(words) > maxFactWords {
			words = words[:maxFactWords]
		}
		if e.blacklisted(words) {
			continue
		}
		value = strings.Join(words, " ")

		fact := value
		if ki := re.SubexpIndex("key"); ki >= 0 && m[ki] != "" {
			key := cleanPhrase(m[ki])
			if key == "" {
				continue
			}
			fact = key + ": " + value
		}
		if !contains(facts, fact) {
			facts = append(facts, fact)
		}
	}
	return facts
}

func (e *Extractor) blacklisted(words []string) bool {
	for _, w := range words {
		if e.patterns.FactBlacklist[w] {
			return true
		}
	}
	return false
}

func cleanPhrase(s string) string {
	s = charBlacklist.ReplaceAllString(strings.TrimSpace(s), "")
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeQuotes(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}
