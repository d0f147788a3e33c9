// Package discord connects the bot to Discord. It owns the gateway session,
// turns direct messages and mentions into pipeline input, routes slash
// commands and buttons to handlers, and delivers results as channel
// messages with attachments.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID restricts command registration to one guild. Empty registers
	// the commands globally.
	GuildID string
}

// Message is a user text addressed to the bot.
type Message struct {
	ChannelID string
	MessageID string
	AuthorID  string
	Text      string
}

// MessageHandler receives every message addressed to the bot. It runs on
// its own goroutine per message.
type MessageHandler func(ctx context.Context, m Message)

// ErrNotReady is returned by [Bot.Ping] while the gateway is disconnected.
var ErrNotReady = errors.New("discord: gateway not ready")

// Bot owns the Discord gateway connection.
type Bot struct {
	mu        sync.RWMutex
	ctx       context.Context
	session   *discordgo.Session
	router    *CommandRouter
	transport *Transport
	guildID   string
	commands  []*discordgo.ApplicationCommand
	onMessage MessageHandler
	closeOnce sync.Once
}

// New creates a Bot and connects to Discord. ctx is the parent of the
// contexts handed to the message handler.
func New(ctx context.Context, cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := &Bot{
		ctx:       ctx,
		session:   session,
		router:    NewCommandRouter(),
		transport: NewTransport(session),
		guildID:   cfg.GuildID,
	}
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(s.State.User.ID, m.Message)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter { return b.router }

// Transport returns the pipeline transport backed by this bot's session.
func (b *Bot) Transport() *Transport { return b.transport }

// OnMessage sets the handler for incoming messages. Messages arriving
// before a handler is set are dropped.
func (b *Bot) OnMessage(h MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = h
}

func (b *Bot) handleMessage(botID string, m *discordgo.Message) {
	msg, ok := Incoming(botID, m)
	if !ok {
		return
	}
	b.mu.RLock()
	h := b.onMessage
	b.mu.RUnlock()
	if h == nil {
		slog.Debug("discord: message dropped, no handler", "channel", msg.ChannelID)
		return
	}
	h(b.ctx, msg)
}

// Incoming extracts the text of a message addressed to the bot: any direct
// message, or a guild message mentioning the bot with the mention removed.
// Messages from bots and messages without text are ignored.
func Incoming(botID string, m *discordgo.Message) (Message, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == botID {
		return Message{}, false
	}
	text := m.Content
	if m.GuildID != "" {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == botID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return Message{}, false
		}
		text = strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, false
	}
	return Message{ChannelID: m.ChannelID, MessageID: m.ID, AuthorID: m.Author.ID, Text: text}, true
}

// Ping reports whether the gateway connection is up.
func (b *Bot) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil || !b.session.DataReady {
		return ErrNotReady
	}
	return nil
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord. Guild-scoped commands are removed again;
// global ones are kept since they take long to propagate.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && b.guildID != "" && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
