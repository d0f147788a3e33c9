package pipeline

import (
	"context"
	"io"
)

// Activity is a "bot is busy" indicator shown while a stage runs.
type Activity string

const (
	ActivityTyping         Activity = "typing"
	ActivityRecordingVoice Activity = "record_voice"
	ActivityUploading      Activity = "upload_document"
)

// Attachment is a file sent back to the user.
type Attachment struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// Transport delivers results to the chat the message came from. replyTo is
// the id of the user's message and may be empty.
type Transport interface {
	SendText(ctx context.Context, sessionID, replyTo, text string) error
	SendVoice(ctx context.Context, sessionID, replyTo string, audio Attachment, caption string) error
	SendDocument(ctx context.Context, sessionID, replyTo string, doc Attachment, caption string) error
	// Progress shows a busy indicator. Failures are logged and ignored.
	Progress(ctx context.Context, sessionID string, a Activity) error
}
