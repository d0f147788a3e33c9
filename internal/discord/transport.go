package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/essaydeck/internal/pipeline"
)

// MaxMessageRunes is Discord's limit on message content.
const MaxMessageRunes = 2000

// Messenger sends channel messages. *discordgo.Session satisfies it.
type Messenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

var (
	_ Messenger          = (*discordgo.Session)(nil)
	_ pipeline.Transport = (*Transport)(nil)
)

// Transport delivers pipeline results to Discord channels. The session id
// is the channel id.
type Transport struct {
	m Messenger
}

// NewTransport returns a Transport sending through m.
func NewTransport(m Messenger) *Transport {
	return &Transport{m: m}
}

// SendText implements [pipeline.Transport]. Text longer than
// [MaxMessageRunes] is split over several messages, only the first of which
// references replyTo.
func (t *Transport) SendText(ctx context.Context, sessionID, replyTo, text string) error {
	for n, chunk := range splitMessage(text, MaxMessageRunes) {
		msg := &discordgo.MessageSend{Content: chunk}
		if n == 0 {
			msg.Reference = reference(sessionID, replyTo)
		}
		if _, err := t.m.ChannelMessageSendComplex(sessionID, msg, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord: send text: %w", err)
		}
	}
	return nil
}

// SendVoice implements [pipeline.Transport].
func (t *Transport) SendVoice(ctx context.Context, sessionID, replyTo string, audio pipeline.Attachment, caption string) error {
	return t.sendFile(ctx, sessionID, replyTo, audio, caption)
}

// SendDocument implements [pipeline.Transport].
func (t *Transport) SendDocument(ctx context.Context, sessionID, replyTo string, doc pipeline.Attachment, caption string) error {
	return t.sendFile(ctx, sessionID, replyTo, doc, caption)
}

func (t *Transport) sendFile(ctx context.Context, channelID, replyTo string, a pipeline.Attachment, caption string) error {
	msg := &discordgo.MessageSend{
		Content:   truncate(caption, MaxMessageRunes),
		Reference: reference(channelID, replyTo),
		Files: []*discordgo.File{{
			Name:        a.Filename,
			ContentType: a.ContentType,
			Reader:      a.Data,
		}},
	}
	if _, err := t.m.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send %s: %w", a.Filename, err)
	}
	return nil
}

// Progress implements [pipeline.Transport]. Discord only knows one busy
// indicator, so every activity shows as typing.
func (t *Transport) Progress(ctx context.Context, sessionID string, _ pipeline.Activity) error {
	return t.m.ChannelTyping(sessionID, discordgo.WithContext(ctx))
}

func reference(channelID, messageID string) *discordgo.MessageReference {
	if messageID == "" {
		return nil
	}
	fail := false
	return &discordgo.MessageReference{MessageID: messageID, ChannelID: channelID, FailIfNotExists: &fail}
}

// splitMessage cuts s into chunks of at most limit runes, preferring line
// breaks. An empty s yields no chunks.
func splitMessage(s string, limit int) []string {
	var chunks []string
	r := []rune(s)
	for len(r) > limit {
		cut := limit
		if i := strings.LastIndex(string(r[:limit]), "\n"); i > 0 {
			cut = len([]rune(string(r[:limit])[:i]))
		}
		chunks = append(chunks, string(r[:cut]))
		r = []rune(strings.TrimLeft(string(r[cut:]), "\n"))
	}
	if len(r) > 0 {
		chunks = append(chunks, string(r))
	}
	return chunks
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
