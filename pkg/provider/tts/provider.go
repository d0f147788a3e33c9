// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., OpenAI speech or
// ElevenLabs) and writes one encoded MP3 clip per request into a caller-owned
// writer, usually a file in a scratch workspace. Chunks are written as they
// arrive so the whole clip never has to sit in memory.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"io"
)

// FileExtension is the extension of the audio every provider produces.
const FileExtension = ".mp3"

// Request describes one synthesis call.
type Request struct {
	// Text is the text to speak. Must be non-empty.
	Text string

	// Voice is the provider-specific voice identifier.
	Voice string

	// Instructions is a free-text delivery hint (tone, pace, emotion).
	// Providers that cannot steer delivery ignore it.
	Instructions string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize speaks req.Text with req.Voice and writes the encoded audio to w.
	// It returns an error if the request fails, the provider returns no audio,
	// or ctx is cancelled. On error w may hold a partial clip; callers discard it.
	Synthesize(ctx context.Context, req Request, w io.Writer) error
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// VoiceProfile describes one voice offered by a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier passed as Request.Voice.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}
