package persona

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/patterns.yaml
var defaultPatterns []byte

// Patterns is the compiled trigger table.
type Patterns struct {
	Categories      map[Category][]*regexp.Regexp
	FactPairs       []*regexp.Regexp
	FactBlacklist   map[string]bool
	FactRejectLeads map[string]bool
	GenericNouns    map[string]bool
}

type patternFile struct {
	Categories      map[string][]string `yaml:"categories"`
	FactPairs       []string            `yaml:"fact_pairs"`
	FactBlacklist   []string            `yaml:"fact_blacklist"`
	FactRejectLeads []string            `yaml:"fact_reject_leads"`
	GenericNouns    []string            `yaml:"generic_nouns"`
}

// ParsePatterns compiles a YAML pattern table. Every category pattern
// needs at least one capture group; every fact pair needs a value group.
func ParsePatterns(data []byte) (*Patterns, error) {
	var f patternFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse patterns: %w", err)
	}
	p := &Patterns{
		Categories:      make(map[Category][]*regexp.Regexp),
		FactBlacklist:   toSet(f.FactBlacklist),
		FactRejectLeads: toSet(f.FactRejectLeads),
		GenericNouns:    toSet(f.GenericNouns),
	}
	for label, exprs := range f.Categories {
		cat, err := ParseCategory(label)
		if err != nil {
			return nil, err
		}
		for _, expr := range exprs {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("%s pattern %q: %w", cat, expr, err)
			}
			if re.NumSubexp() == 0 {
				return nil, fmt.Errorf("%s pattern %q has no capture group", cat, expr)
			}
			p.Categories[cat] = append(p.Categories[cat], re)
		}
	}
	for _, expr := range f.FactPairs {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("fact pattern %q: %w", expr, err)
		}
		if re.SubexpIndex("value") < 0 {
			return nil, fmt.Errorf("fact pattern %q has no value group", expr)
		}
		p.FactPairs = append(p.FactPairs, re)
	}
	return p, nil
}

// DefaultPatterns returns the bundled table.
func DefaultPatterns() *Patterns {
	p, err := ParsePatterns(defaultPatterns)
	if err != nil {
		panic(fmt.Sprintf("embedded patterns: %v", err))
	}
	return p
}

// LoadPatterns reads a table from disk, falling back to the bundled one
// when path is empty.
func LoadPatterns(path string) (*Patterns, error) {
	if path == "" {
		return DefaultPatterns(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns: %w", err)
	}
	return ParsePatterns(data)
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return m
}
