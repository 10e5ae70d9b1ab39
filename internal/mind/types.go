package mind

import (
	"context"
	"time"

	"github.com/keshon/sable/internal/affect"
	"github.com/keshon/sable/internal/persona"
	st "github.com/keshon/sable/internal/storagetypes"
)

// Message is one inbound chat message, already stripped of platform
// markup.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	Text        string
	SentAt      time.Time
	Mentions    []string
	Reactions   []string
	Attachments []string
	// Addressed is set when the agent was mentioned or messaged directly
	// and is expected to answer.
	Addressed bool
}

// Gateway is the outbound side of the chat platform.
type Gateway interface {
	SendReply(ctx context.Context, channelID, text string) (messageID string, err error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
}

// Scorer turns text into a VAD point.
type Scorer interface {
	Score(text string) affect.VAD
}

// Extractor pulls persona categories out of text.
type Extractor interface {
	Extract(text string) persona.Categories
}

// Reactor picks an emoji for a message, or "" to abstain.
type Reactor interface {
	Select(text string, mood affect.VAD, agent persona.Categories) string
}

// ReadResult describes what ingesting a message changed.
type ReadResult struct {
	Entry      st.Entry
	Categories persona.Categories
	MessageVAD affect.VAD
	State      affect.State
}

// Reply is the outcome of a write.
type Reply struct {
	RequestID   string
	MessageID   string
	Text        string
	Fallback    bool
	Temperature float64
	TokensUsed  int
	Included    int
	Moods       []affect.Mood
	State       affect.State
}
