// Package translate turns user text into a target-language completion using
// an [llm.Provider].
//
// A [Translator] issues exactly one completion per call and never retries;
// failover between backends, when configured, happens below it in the
// provider chain. Every failure is reported as [ErrFailed] so callers can
// show a single retry message.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/essaydeck/internal/observe"
	"github.com/MrWong99/essaydeck/internal/settings"
	"github.com/MrWong99/essaydeck/pkg/provider/llm"
)

// ErrFailed wraps every translation failure: provider errors, empty replies
// and cancellation.
var ErrFailed = errors.New("translate: translation failed")

// DefaultTemperature keeps translations varied without drifting off format.
const DefaultTemperature = 0.9

// Options tune the completion request. They can be swapped at runtime with
// [Translator.SetOptions].
type Options struct {
	// Temperature is the sampling temperature. Zero selects [DefaultTemperature].
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves it to the provider.
	MaxTokens int

	// Extended asks the model for delivery hints alongside the translation.
	Extended bool
}

// Translator is safe for concurrent use.
type Translator struct {
	provider llm.Provider
	opts     atomic.Pointer[Options]
	metrics  *observe.Metrics
}

// Option configures a [Translator].
type Option func(*Translator)

// WithMetrics records completion latency into m.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Translator) { t.metrics = m }
}

// New returns a Translator calling p.
func New(p llm.Provider, opts Options, options ...Option) *Translator {
	t := &Translator{provider: p}
	t.SetOptions(opts)
	for _, o := range options {
		o(t)
	}
	return t
}

// SetOptions replaces the request options for subsequent calls.
func (t *Translator) SetOptions(o Options) {
	if o.Temperature == 0 {
		o.Temperature = DefaultTemperature
	}
	t.opts.Store(&o)
}

// Options returns the options currently in effect.
func (t *Translator) Options() Options {
	return *t.opts.Load()
}

// Translate sends one prompt built from text and s and returns the raw reply.
// The reply is untrusted text; parsing it is the caller's job.
func (t *Translator) Translate(ctx context.Context, text string, s settings.Settings) (string, error) {
	o := t.Options()
	req := llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: BuildPrompt(text, s, o.Extended)}},
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
	}

	start := time.Now()
	resp, err := t.provider.Complete(ctx, req)
	if t.metrics != nil {
		t.metrics.TranslationDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFailed, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: empty reply", ErrFailed)
	}

	observe.Logger(ctx).Debug("translation received",
		"session", s.SessionID,
		"mode", s.Mode,
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Content, nil
}
