// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio bytes to consumers and to verify the
// requests passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Audio: []byte("ID3 fake mp3")}
//	err := p.Synthesize(ctx, tts.Request{Text: "Γεια", Voice: "onyx"}, w)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/essaydeck/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// Audio is written to the writer on every successful call. When nil the
	// request text prefixed with "audio:" is written instead, so distinct
	// inputs produce distinct clips.
	Audio []byte

	// SynthesizeErr, if non-nil, is returned from every Synthesize call.
	SynthesizeErr error

	// FailOnCall, if > 0, makes only the n-th call (1-based) return FailErr.
	FailOnCall int

	// FailErr is the error returned on call FailOnCall.
	FailErr error

	// SynthesizeFunc, if set, replaces all canned behaviour.
	SynthesizeFunc func(ctx context.Context, req tts.Request, w io.Writer) error

	// Voices is returned by ListVoices.
	Voices []tts.VoiceProfile

	// ListVoicesErr is returned by ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCallCount is the number of ListVoices calls.
	ListVoicesCallCount int
}

// Synthesize records the call and writes the configured audio.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request, w io.Writer) error {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	n := len(p.SynthesizeCalls)
	fn, audio, err := p.SynthesizeFunc, p.Audio, p.SynthesizeErr
	if p.FailOnCall > 0 && n == p.FailOnCall {
		err = p.FailErr
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, w)
	}
	if err != nil {
		return err
	}
	if audio == nil {
		audio = []byte("audio:" + req.Text)
	}
	_, werr := w.Write(audio)
	return werr
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	return p.Voices, p.ListVoicesErr
}

// CallCount returns the number of Synthesize calls so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// Requests returns a copy of the recorded requests. Thread-safe.
func (p *Provider) Requests() []tts.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]tts.Request, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Req
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCallCount = 0
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
