// Package discord connects the agent to Discord: inbound messages are
// converted and handed to the coordinator, and replies and reactions go
// back out through the same session.
package discord

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/keshon/sable/internal/mind"
)

// Handler receives every message the bot sees.
type Handler interface {
	Handle(ctx context.Context, m mind.Message) error
}

// Options configure a Bot.
type Options struct {
	Token             string
	BlacklistedGuilds []string
}

// Bot is a Discord session bound to a Handler. It implements mind.Gateway.
type Bot struct {
	dg   *discordgo.Session
	opts Options
	log  zerolog.Logger

	mu      sync.RWMutex
	handler Handler
	ctx     context.Context
}

// New creates the session without connecting.
func New(opts Options, log zerolog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuilds
	return &Bot{dg: dg, opts: opts, log: log, ctx: context.Background()}, nil
}

// SetHandler installs h. The gateway and the handler depend on each other,
// so the handler is attached after construction.
func (b *Bot) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Run opens the session and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onGuildCreate)
	b.dg.AddHandler(b.onMessageCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received, closing session")
	return nil
}

// SendReply posts text to the channel and returns the new message id.
func (b *Bot) SendReply(ctx context.Context, channelID, text string) (string, error) {
	msg, err := b.dg.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

// AddReaction reacts to a message with a unicode emoji.
func (b *Bot) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := b.dg.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

func (b *Bot) isGuildBlacklisted(guildID string) bool {
	return guildID != "" && slices.Contains(b.opts.BlacklistedGuilds, guildID)
}

func (b *Bot) leaveGuild(s *discordgo.Session, id, name string) {
	b.log.Info().Str("guild", id).Str("name", name).Msg("leaving blacklisted guild")
	if err := s.GuildLeave(id); err != nil {
		b.log.Error().Err(err).Str("guild", id).Msg("failed to leave guild")
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	for _, g := range r.Guilds {
		if b.isGuildBlacklisted(g.ID) {
			b.leaveGuild(s, g.ID, g.Name)
		}
	}
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord bot is running")
}

func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if b.isGuildBlacklisted(g.ID) {
		b.leaveGuild(s, g.ID, g.Name)
		return
	}
	b.log.Debug().Str("guild", g.ID).Str("name", g.Name).Msg("guild available")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || s.State.User == nil {
		return
	}
	self := s.State.User.ID
	if m.Author.ID == self || m.Author.Bot || b.isGuildBlacklisted(m.GuildID) {
		return
	}

	b.mu.RLock()
	h, ctx := b.handler, b.ctx
	b.mu.RUnlock()
	if h == nil {
		return
	}

	msg := toMessage(m.Message, self)
	if msg.Text == "" {
		return
	}
	if msg.Addressed {
		if err := s.ChannelTyping(m.ChannelID); err != nil {
			b.log.Debug().Err(err).Msg("typing indicator")
		}
	}
	if err := h.Handle(ctx, msg); err != nil {
		b.log.Error().Err(err).Str("channel", m.ChannelID).Str("message", m.ID).Msg("handle message")
	}
}
