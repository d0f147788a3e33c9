package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/essaydeck/internal/settings"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if cfg.Providers.TTS.Name == "" && len(cfg.Providers.TTSFallbacks) > 0 {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; translation requests will fail")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; synthesis requests will fail")
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, badger, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == StoreBadger && cfg.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required when store.backend is badger"))
	}
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.backend is postgres"))
	}

	// Languages, voices, and session defaults
	if _, err := cfg.Catalog(); err != nil {
		errs = append(errs, err)
	}

	// Translation
	if cfg.Translation.Temperature < 0 || cfg.Translation.Temperature > 2 {
		errs = append(errs, fmt.Errorf("translation.temperature %.2f is out of range [0, 2]", cfg.Translation.Temperature))
	}
	if cfg.Translation.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("translation.max_tokens %d must not be negative", cfg.Translation.MaxTokens))
	}

	// Limits
	errs = append(errs, validateLimits(cfg.Limits)...)

	// Deck
	if cfg.Deck.Format != "" && !cfg.Deck.Format.IsValid() {
		errs = append(errs, fmt.Errorf("deck.format %q is invalid; valid values: apkg, csv", cfg.Deck.Format))
	}

	return errors.Join(errs...)
}

func validateLimits(l LimitsConfig) []error {
	var errs []error
	for name, v := range map[string]int{
		"min_input_chars":  l.MinInputChars,
		"max_input_chars":  l.MaxInputChars,
		"max_reply_chars":  l.MaxReplyChars,
		"max_phrases":      l.MaxPhrases,
		"max_phrase_chars": l.MaxPhraseChars,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("limits.%s %d must not be negative", name, v))
		}
	}
	if l.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("limits.request_timeout %s must not be negative", l.RequestTimeout))
	}
	eff := l.WithDefaults()
	if eff.MinInputChars > eff.MaxInputChars {
		errs = append(errs, fmt.Errorf("limits.min_input_chars %d exceeds limits.max_input_chars %d", eff.MinInputChars, eff.MaxInputChars))
	}
	return errs
}

// Catalog builds the settings catalog described by the languages, voices,
// and defaults sections. Empty sections fall back to the built-in catalog.
func (cfg *Config) Catalog() (settings.Catalog, error) {
	base := settings.DefaultCatalog()

	languages := base.Languages
	if len(cfg.Languages) > 0 {
		languages = make([]settings.Language, 0, len(cfg.Languages))
		for _, l := range cfg.Languages {
			languages = append(languages, settings.Language(l))
		}
	}
	voices := base.Voices
	if len(cfg.Voices) > 0 {
		voices = make([]settings.Voice, 0, len(cfg.Voices))
		for _, v := range cfg.Voices {
			voices = append(voices, settings.Voice(v))
		}
	}

	defaults := settings.Settings{
		Language:  settings.Language(cfg.Defaults.Language),
		Mode:      settings.Mode(cfg.Defaults.Mode),
		Voice:     settings.Voice(cfg.Defaults.Voice),
		StyleHint: cfg.Defaults.StyleHint,
	}
	if defaults.Language == "" {
		defaults.Language = base.Defaults.Language
		if !slices.Contains(languages, defaults.Language) && len(languages) > 0 {
			defaults.Language = languages[0]
		}
	}
	if defaults.Mode == "" {
		defaults.Mode = base.Defaults.Mode
	}
	if defaults.Voice == "" {
		defaults.Voice = base.Defaults.Voice
		if !slices.Contains(voices, defaults.Voice) && len(voices) > 0 {
			defaults.Voice = voices[0]
		}
	}
	if defaults.StyleHint == "" {
		defaults.StyleHint = base.Defaults.StyleHint
	}

	cat, err := settings.NewCatalog(languages, voices, defaults)
	if err != nil {
		return settings.Catalog{}, fmt.Errorf("config: %w", err)
	}
	return cat, nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
