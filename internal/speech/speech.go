// Package speech adapts a [tts.Provider] for the pipeline: it bounds the
// input, applies the session voice and style, and folds every provider
// failure into [ErrFailed].
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/essaydeck/internal/observe"
	"github.com/MrWong99/essaydeck/pkg/provider/tts"
)

// ErrFailed wraps every synthesis failure.
var ErrFailed = errors.New("speech: synthesis failed")

// DefaultMaxInputRunes matches the input limit of the OpenAI speech endpoint.
const DefaultMaxInputRunes = 4096

// Request is one clip to synthesize.
type Request struct {
	Text  string
	Style string
	Voice string
}

// Synthesizer is safe for concurrent use.
type Synthesizer struct {
	provider tts.Provider
	maxInput int
	metrics  *observe.Metrics
}

// Option configures a [Synthesizer].
type Option func(*Synthesizer)

// WithMaxInputRunes overrides [DefaultMaxInputRunes].
func WithMaxInputRunes(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxInput = n
		}
	}
}

// WithMetrics records per-call latency into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// New returns a Synthesizer backed by p.
func New(p tts.Provider, opts ...Option) *Synthesizer {
	s := &Synthesizer{provider: p, maxInput: DefaultMaxInputRunes}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Synthesize writes one encoded clip for req into w. Empty or over-long text
// fails before the provider is called.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request, w io.Writer) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fmt.Errorf("%w: empty text", ErrFailed)
	}
	if n := utf8.RuneCountInString(text); n > s.maxInput {
		return fmt.Errorf("%w: text has %d characters, limit is %d", ErrFailed, n, s.maxInput)
	}

	start := time.Now()
	err := s.provider.Synthesize(ctx, tts.Request{
		Text:         text,
		Voice:        req.Voice,
		Instructions: strings.TrimSpace(req.Style),
	}, w)
	if s.metrics != nil {
		s.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailed, err)
	}
	return nil
}
