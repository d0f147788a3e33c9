// Package openai provides a TTS provider backed by the OpenAI speech endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/essaydeck/pkg/provider/tts"
)

// DefaultModel supports free-text delivery instructions.
const DefaultModel = "gpt-4o-mini-tts"

// ErrNoAudio is returned when the endpoint answers with an empty body.
var ErrNoAudio = errors.New("openai: speech response contained no audio")

// Voices are the built-in voices of the speech endpoint.
var Voices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
	speed  float64
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

type config struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	speed      float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries failed requests.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithSpeed sets the playback speed (0.25 to 4.0). Zero keeps the API default.
func WithSpeed(s float64) Option {
	return func(c *config) { c.speed = s }
}

// New constructs a speech Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai: speed %v outside [0.25, 4]", cfg.speed)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, speed: cfg.speed}, nil
}

// Synthesize implements tts.Provider. The response body is streamed into w.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request, w io.Writer) error {
	if strings.TrimSpace(req.Text) == "" {
		return errors.New("openai: text must not be empty")
	}
	if req.Voice == "" {
		return errors.New("openai: voice must not be empty")
	}

	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(req))
	if err != nil {
		return fmt.Errorf("openai: speech: %w", err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("openai: read speech: %w", err)
	}
	if n == 0 {
		return ErrNoAudio
	}
	return nil
}

func (p *Provider) buildParams(req tts.Request) oai.AudioSpeechNewParams {
	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(req.Voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	}
	// The tts-1 family rejects instructions.
	if req.Instructions != "" && !strings.HasPrefix(p.model, "tts-1") {
		params.Instructions = param.NewOpt(req.Instructions)
	}
	if p.speed != 0 {
		params.Speed = param.NewOpt(p.speed)
	}
	return params
}

// ListVoices returns the static voice list; the API has no listing endpoint.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, len(Voices))
	for i, v := range Voices {
		out[i] = tts.VoiceProfile{ID: v, Name: v, Provider: "openai"}
	}
	return out, nil
}
