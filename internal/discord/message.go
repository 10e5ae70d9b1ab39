package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/sable/internal/mind"
)

// toMessage converts a Discord message for the coordinator. Mentions are
// rendered as @name. A message is addressed to the bot when it mentions
// self, replies to one of its messages, or arrives as a DM.
func toMessage(m *discordgo.Message, self string) mind.Message {
	out := mind.Message{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		AuthorID:   m.Author.ID,
		AuthorName: displayName(m),
		Text:       strings.TrimSpace(m.ContentWithMentionsReplaced()),
		SentAt:     m.Timestamp,
		Addressed:  m.GuildID == "",
	}
	for _, u := range m.Mentions {
		out.Mentions = append(out.Mentions, u.ID)
		if u.ID == self {
			out.Addressed = true
		}
	}
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil && ref.Author.ID == self {
		out.Addressed = true
	}
	for _, r := range m.Reactions {
		if r.Emoji != nil {
			out.Reactions = append(out.Reactions, r.Emoji.Name)
		}
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, a.URL)
	}
	return out
}

func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
