// Package persona extracts durable preferences and facts about a speaker
// from their messages.
package persona

import (
	"fmt"
	"strings"
)

// Category is the closed set of things the extractor can learn.
type Category int

const (
	Like Category = iota
	Dislike
	Avoidance
	Passion
	Fact
)

// All lists categories in their canonical order.
var All = []Category{Like, Dislike, Avoidance, Passion, Fact}

var categoryNames = [...]string{"like", "dislike", "avoidance", "passion", "fact"}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory accepts singular or plural labels.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "s")
	for i, n := range categoryNames {
		if n == s {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// Categories maps each category to its phrases in first-seen order.
type Categories map[Category][]string

// NewCategories returns a map holding an empty slice for every category.
func NewCategories() Categories {
	c := make(Categories, len(All))
	for _, k := range All {
		c[k] = []string{}
	}
	return c
}

// Empty reports whether no category holds a phrase.
func (c Categories) Empty() bool {
	for _, v := range c {
		if len(v) > 0 {
			return false
		}
	}
	return true
}

// Add appends phrases to a category, skipping duplicates.
func (c Categories) Add(cat Category, phrases ...string) {
	existing := c[cat]
	for _, p := range phrases {
		if p == "" || contains(existing, p) {
			continue
		}
		existing = append(existing, p)
	}
	c[cat] = existing
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
