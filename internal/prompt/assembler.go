package prompt

import (
	"strings"

	st "github.com/keshon/sable/internal/storagetypes"
)

// Assembler packs history into a prompt without exceeding Budget tokens.
// Reserved tokens are held back for the model's output.
type Assembler struct {
	Budget   int
	Reserved int
	Counter  Counter
}

// Assembly is the rendered prompt and what went into it.
type Assembly struct {
	Prompt         string
	Included       []st.Entry // chronological
	TokensUsed     int        // reserved + header + marker + included lines
	Truncated      bool       // older entries were left out
	HeaderTrimmed  int        // header variants skipped because they did not fit
	HeaderOverflow bool       // even the barest header had to be cut
}

// Assemble walks entries newest first, keeping each while it fits and
// stopping at the first that does not. Included entries are returned in
// chronological order so the newest sits next to the trailing marker.
func (a *Assembler) Assemble(header string, newestFirst []st.Entry) Assembly {
	return a.AssembleHeaders([]string{header}, newestFirst)
}

// AssembleHeaders is Assemble over header variants ordered fullest first.
// It uses the first variant that leaves room for the newest entry, or else
// the first that fits beside the marker and the reserved tokens. If none
// does, the last one is cut word by word until it fits.
func (a *Assembler) AssembleHeaders(headers []string, newestFirst []st.Entry) Assembly {
	fixed := a.Reserved + a.Counter.CountTokens(AssistantTag)
	newest := 0
	if len(newestFirst) > 0 {
		newest = a.cost(newestFirst[0])
	}
	for _, room := range []int{newest, 0} {
		for i, h := range headers {
			if fixed+a.Counter.CountTokens(h)+room <= a.Budget {
				asm := a.pack(h, fixed, newestFirst)
				asm.HeaderTrimmed = i
				return asm
			}
		}
	}

	var words []string
	if len(headers) > 0 {
		words = strings.Fields(headers[len(headers)-1])
	}
	// Largest prefix of the barest header that still fits.
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if fixed+a.Counter.CountTokens(strings.Join(words[:mid], " ")) <= a.Budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	header := strings.Join(words[:lo], " ")
	return Assembly{
		Prompt:         join(header, nil),
		TokensUsed:     fixed + a.Counter.CountTokens(header),
		Truncated:      len(newestFirst) > 0,
		HeaderTrimmed:  max(len(headers)-1, 0),
		HeaderOverflow: true,
	}
}

func (a *Assembler) pack(header string, fixed int, newestFirst []st.Entry) Assembly {
	used := fixed + a.Counter.CountTokens(header)
	n := 0
	truncated := false
	for _, e := range newestFirst {
		cost := a.cost(e)
		if used+cost > a.Budget {
			truncated = true
			break
		}
		used += cost
		n++
	}

	included := make([]st.Entry, n)
	lines := make([]string, n)
	for i := 0; i < n; i++ {
		e := newestFirst[n-1-i]
		included[i] = e
		lines[i] = RenderLine(e)
	}
	return Assembly{
		Prompt:     join(header, lines),
		Included:   included,
		TokensUsed: used,
		Truncated:  truncated,
	}
}

func (a *Assembler) cost(e st.Entry) int {
	if e.TokenCount > 0 {
		return e.TokenCount
	}
	return a.Counter.CountTokens(RenderLine(e))
}

func join(header string, lines []string) string {
	parts := make([]string, 0, len(lines)+2)
	if header != "" {
		parts = append(parts, header)
	}
	parts = append(parts, lines...)
	parts = append(parts, AssistantTag)
	return strings.Join(parts, "\n")
}
