// Package lexicon scores free text into a VAD vector using a
// word-to-VAD table with negation and punctuation cues.
package lexicon

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/keshon/sable/internal/affect"
)

//go:embed data/lexicon.csv
var defaultCSV []byte

// Lexicon maps lowercase terms to bipolar VAD values in [-1,1].
type Lexicon struct {
	terms   map[string]affect.VAD
	skipped int
}

// Len is the number of usable terms.
func (l *Lexicon) Len() int {
	if l == nil {
		return 0
	}
	return len(l.terms)
}

// Skipped counts malformed rows dropped while parsing.
func (l *Lexicon) Skipped() int {
	if l == nil {
		return 0
	}
	return l.skipped
}

// Lookup returns the VAD of a term.
func (l *Lexicon) Lookup(term string) (affect.VAD, bool) {
	if l == nil {
		return affect.VAD{}, false
	}
	v, ok := l.terms[term]
	return v, ok
}

// Parse reads CSV with a header naming a term column (term, tag or word)
// and valence, arousal, dominance columns. Rows that fail to parse are
// skipped and counted; a missing column is an error.
func Parse(r io.Reader) (*Lexicon, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	termCol := -1
	for _, name := range []string{"term", "tag", "word"} {
		if i, ok := idx[name]; ok {
			termCol = i
			break
		}
	}
	vCol, okV := idx["valence"]
	aCol, okA := idx["arousal"]
	dCol, okD := idx["dominance"]
	if termCol < 0 || !okV || !okA || !okD {
		return nil, fmt.Errorf("lexicon header %v: need term, valence, arousal, dominance", header)
	}

	lex := &Lexicon{terms: make(map[string]affect.VAD)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			lex.skipped++
			continue
		}
		term, vad, ok := parseRow(rec, termCol, vCol, aCol, dCol)
		if !ok {
			lex.skipped++
			continue
		}
		lex.terms[term] = vad
	}
	return lex, nil
}

func parseRow(rec []string, termCol, vCol, aCol, dCol int) (string, affect.VAD, bool) {
	need := max(termCol, vCol, aCol, dCol)
	if len(rec) <= need {
		return "", affect.VAD{}, false
	}
	term := strings.ToLower(strings.TrimSpace(rec[termCol]))
	if term == "" {
		return "", affect.VAD{}, false
	}
	var vals [3]float64
	for i, col := range []int{vCol, aCol, dCol} {
		f, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
		if err != nil {
			return "", affect.VAD{}, false
		}
		vals[i] = f
	}
	return term, affect.DefaultRange.New(vals[0], vals[1], vals[2]), true
}

// Load parses a lexicon file.
func Load(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Default returns the lexicon bundled with the binary.
func Default() *Lexicon {
	lex, err := Parse(bytes.NewReader(defaultCSV))
	if err != nil {
		panic(fmt.Sprintf("embedded lexicon: %v", err))
	}
	return lex
}
