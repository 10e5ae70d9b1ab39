package ai

import "unicode/utf8"

// CharsPerToken is the rough rune-to-token ratio for English text.
const CharsPerToken = 4

// Estimator approximates token counts without a tokenizer. Never returns
// zero for non-empty text.
type Estimator struct{}

// CountTokens rounds up so short strings still cost something.
func (Estimator) CountTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + CharsPerToken - 1) / CharsPerToken
}
