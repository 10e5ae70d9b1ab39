// Package prompt renders conversation history and the agent's instruction
// header into a single completion prompt that fits a token budget.
package prompt

import (
	"strings"

	st "github.com/keshon/sable/internal/storagetypes"
)

// Role markers understood by the instruction-tuned model.
const (
	InstructionTag = "### instruction:"
	UserTag        = "### user:"
	AssistantTag   = "### assistant:"
)

// Counter counts tokens for a piece of text.
type Counter interface {
	CountTokens(text string) int
}

// TagFor maps an entry role to its marker.
func TagFor(r st.Role) string {
	switch r {
	case st.RoleAssistant:
		return AssistantTag
	case st.RoleSystem:
		return InstructionTag
	default:
		return UserTag
	}
}

// StopSequences are the markers that end a generated reply.
func StopSequences() []string {
	return []string{UserTag, InstructionTag}
}

// RenderLine formats an entry as it appears in the prompt:
// "<tag> <author> text".
func RenderLine(e st.Entry) string {
	var b strings.Builder
	b.WriteString(TagFor(e.Role))
	if e.AuthorName != "" {
		b.WriteString(" <")
		b.WriteString(e.AuthorName)
		b.WriteString(">")
	}
	b.WriteString(" ")
	b.WriteString(strings.TrimSpace(e.Text))
	return b.String()
}
