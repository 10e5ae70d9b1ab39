package mind

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/keshon/sable/internal/prompt"
)

// logAssembly logs the assembled prompt at debug level, with previews of
// the header and the newest line.
func logAssembly(log zerolog.Logger, a prompt.Assembly, temperature float64) {
	ev := log.Debug()
	if !ev.Enabled() {
		return
	}
	header := a.Prompt
	if i := strings.Index(header, "\n"+prompt.UserTag); i >= 0 {
		header = header[:i]
	}
	ev = ev.
		Int("tokens", a.TokensUsed).
		Int("included", len(a.Included)).
		Bool("truncated", a.Truncated).
		Int("header_trimmed", a.HeaderTrimmed).
		Bool("header_overflow", a.HeaderOverflow).
		Float64("temperature", temperature).
		Str("header", truncateForLog(header, 500))
	if n := len(a.Included); n > 0 {
		ev = ev.Str("newest", truncateForLog(prompt.RenderLine(a.Included[n-1]), 200))
	}
	ev.Msg("prompt assembled")
}

func truncateForLog(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
