package resilience

import (
	"bytes"
	"context"
	"io"

	"github.com/MrWong99/essaydeck/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// Every attempt is buffered so that a provider failing halfway through a clip
// never leaves partial audio in the caller's writer.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Providers returns the backend names in failover order.
func (f *TTSFallback) Providers() []string { return f.group.Names() }

// Synthesize speaks req with the first healthy provider and copies the
// resulting clip into w once that provider has finished successfully.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request, w io.Writer) error {
	clip, err := ExecuteWithResult(f.group, func(p tts.Provider) (*bytes.Buffer, error) {
		var buf bytes.Buffer
		if err := p.Synthesize(ctx, req, &buf); err != nil {
			return nil, err
		}
		return &buf, nil
	})
	if err != nil {
		return err
	}
	_, err = clip.WriteTo(w)
	return err
}

// ListVoices returns available voices from the first healthy provider that
// can list them. Providers without [tts.VoiceLister] are passed over and their
// breakers stay untouched.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteEligible(f.group, canListVoices, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.(tts.VoiceLister).ListVoices(ctx)
	})
}

func canListVoices(p tts.Provider) bool {
	_, ok := p.(tts.VoiceLister)
	return ok
}
