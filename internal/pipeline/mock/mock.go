// Package mock provides a recording test double for pipeline.Transport.
//
// Attachment data is read fully at send time, so tests can inspect it after
// the pipeline has removed its scratch files.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/essaydeck/internal/pipeline"
)

// Kind names the transport method a message went through.
type Kind string

const (
	KindText     Kind = "text"
	KindVoice    Kind = "voice"
	KindDocument Kind = "document"
)

// Message is one recorded send.
type Message struct {
	Kind      Kind
	SessionID string
	ReplyTo   string
	// Text is the message text or the attachment caption.
	Text        string
	Filename    string
	ContentType string
	Data        []byte
}

// ProgressCall records one Progress invocation.
type ProgressCall struct {
	SessionID string
	Activity  pipeline.Activity
}

// Transport is a mock implementation of pipeline.Transport.
type Transport struct {
	mu sync.Mutex

	// TextErr, VoiceErr and DocumentErr are returned by the matching send.
	TextErr     error
	VoiceErr    error
	DocumentErr error

	// ProgressErr is returned by Progress.
	ProgressErr error

	// Messages records every send in order, including failed ones.
	Messages []Message

	// ProgressCalls records every Progress invocation in order.
	ProgressCalls []ProgressCall
}

var _ pipeline.Transport = (*Transport)(nil)

// SendText implements pipeline.Transport.
func (t *Transport) SendText(_ context.Context, sessionID, replyTo, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, Message{Kind: KindText, SessionID: sessionID, ReplyTo: replyTo, Text: text})
	return t.TextErr
}

// SendVoice implements pipeline.Transport.
func (t *Transport) SendVoice(_ context.Context, sessionID, replyTo string, audio pipeline.Attachment, caption string) error {
	return t.record(KindVoice, sessionID, replyTo, audio, caption, func() error { return t.VoiceErr })
}

// SendDocument implements pipeline.Transport.
func (t *Transport) SendDocument(_ context.Context, sessionID, replyTo string, doc pipeline.Attachment, caption string) error {
	return t.record(KindDocument, sessionID, replyTo, doc, caption, func() error { return t.DocumentErr })
}

func (t *Transport) record(k Kind, sessionID, replyTo string, a pipeline.Attachment, caption string, result func() error) error {
	var data []byte
	if a.Data != nil {
		var err error
		if data, err = io.ReadAll(a.Data); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, Message{
		Kind:        k,
		SessionID:   sessionID,
		ReplyTo:     replyTo,
		Text:        caption,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Data:        data,
	})
	return result()
}

// Progress implements pipeline.Transport.
func (t *Transport) Progress(_ context.Context, sessionID string, a pipeline.Activity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ProgressCalls = append(t.ProgressCalls, ProgressCall{SessionID: sessionID, Activity: a})
	return t.ProgressErr
}

// Sent returns a copy of the recorded messages of kind k.
func (t *Transport) Sent(k Kind) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Message
	for _, m := range t.Messages {
		if m.Kind == k {
			out = append(out, m)
		}
	}
	return out
}

// Count returns the number of recorded sends.
func (t *Transport) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Messages)
}

// Activities returns the recorded Progress activities in order.
func (t *Transport) Activities() []pipeline.Activity {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]pipeline.Activity, len(t.ProgressCalls))
	for i, c := range t.ProgressCalls {
		out[i] = c.Activity
	}
	return out
}

// Reset clears all recorded calls.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = nil
	t.ProgressCalls = nil
}
