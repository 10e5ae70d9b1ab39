package persona

import (
	"github.com/jdkato/prose/v2"
)

// Token is a word with its Penn Treebank part-of-speech tag.
type Token struct {
	Text string
	Tag  string
}

// Tagger assigns part-of-speech tags to a phrase.
type Tagger interface {
	Tag(text string) ([]Token, error)
}

// ProseTagger tags with prose's averaged perceptron model.
type ProseTagger struct{}

// Tag tokenizes and tags text without sentence segmentation or entity
// extraction.
func (ProseTagger) Tag(text string) ([]Token, error) {
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithExtraction(false))
	if err != nil {
		return nil, err
	}
	toks := doc.Tokens()
	out := make([]Token, len(toks))
	for i, t := range toks {
		out[i] = Token{Text: t.Text, Tag: t.Tag}
	}
	return out, nil
}
