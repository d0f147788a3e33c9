// Package mock provides test doubles for the Discord layer.
package mock

import (
	"errors"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses for test assertions.
type InteractionResponder struct {
	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// FollowUps records all FollowupMessageCreate calls.
	FollowUps []*discordgo.WebhookParams

	// Err is returned by InteractionRespond and FollowupMessageCreate
	// when non-nil, allowing error injection.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// FollowupMessageCreate records the follow-up and returns a stub message.
func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.FollowUps = append(m.FollowUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-followup"}, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// Reset clears all recorded interactions and errors.
func (m *InteractionResponder) Reset() {
	m.Responses = nil
	m.FollowUps = nil
	m.Err = nil
}

// SentMessage is one recorded ChannelMessageSendComplex call. File contents
// are read at send time.
type SentMessage struct {
	ChannelID string
	Send      *discordgo.MessageSend
	Files     map[string][]byte
}

// Messenger records channel messages and typing indicators.
type Messenger struct {
	mu sync.Mutex

	// SendErr is returned by ChannelMessageSendComplex when non-nil.
	SendErr error
	// TypingErr is returned by ChannelTyping when non-nil.
	TypingErr error

	Sent   []SentMessage
	Typing []string
}

// ChannelMessageSendComplex records the message.
func (m *Messenger) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	files := make(map[string][]byte, len(data.Files))
	for _, f := range data.Files {
		if f.Reader == nil {
			continue
		}
		b, err := io.ReadAll(f.Reader)
		if err != nil {
			return nil, errors.Join(errors.New("mock: read file"), err)
		}
		files[f.Name] = b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{ChannelID: channelID, Send: data, Files: files})
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	return &discordgo.Message{ID: "mock-message", ChannelID: channelID, Content: data.Content}, nil
}

// ChannelTyping records the channel.
func (m *Messenger) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Typing = append(m.Typing, channelID)
	return m.TypingErr
}

// Messages returns a copy of the recorded messages.
func (m *Messenger) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
