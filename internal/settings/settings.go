// Package settings holds the per-session preferences of the translation bot
// and the store that persists them.
//
// A session's settings are created lazily with defaults on first read. Every
// value read from a backend passes through [Normalize], so a record that is
// missing fields, or holds values that are no longer supported, is healed to
// defaults instead of surfacing as an error.
package settings

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// ErrInvalidValue is returned by [Store.Set] when a patch carries a value
// outside the supported set.
var ErrInvalidValue = errors.New("settings: invalid value")

// MaxStyleHintRunes bounds the free-text style hint.
const MaxStyleHintRunes = 300

// Language identifies a translation target language.
type Language string

const (
	LanguageGreek   Language = "gr"
	LanguageSerbian Language = "sb"
	LanguageEnglish Language = "en"
	LanguageDutch   Language = "nl"
)

var languageInfo = map[Language]struct{ name, flag string }{
	LanguageGreek:   {"Greek", "🇬🇷"},
	LanguageSerbian: {"Serbian", "🇷🇸"},
	LanguageEnglish: {"English", "🇬🇧"},
	LanguageDutch:   {"Dutch", "🇳🇱"},
}

// Known reports whether l is one of the languages the prompts can target.
func (l Language) Known() bool {
	_, ok := languageInfo[l]
	return ok
}

// Name returns the English name of the language, used inside prompts.
func (l Language) Name() string {
	if info, ok := languageInfo[l]; ok {
		return info.name
	}
	return string(l)
}

// Flag returns the flag emoji shown next to the language in pickers.
func (l Language) Flag() string {
	return languageInfo[l].flag
}

// Mode selects the shape of the reply.
type Mode string

const (
	// ModeChat replies with the translation and one voice clip.
	ModeChat Mode = "chat"

	// ModeDeck replies with a flashcard deck archive.
	ModeDeck Mode = "deck"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeChat || m == ModeDeck
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == ModeDeck {
		return ModeChat
	}
	return ModeDeck
}

// Voice is a speech provider voice identifier.
type Voice string

// Settings is the typed per-session record.
type Settings struct {
	SessionID string
	Language  Language
	Mode      Mode
	Voice     Voice
	StyleHint string
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Language  *Language
	Mode      *Mode
	Voice     *Voice
	StyleHint *string
}

// Fields is the loosely typed form a backend persists. Keys are the field
// names below; unknown keys are ignored on read.
type Fields map[string]string

const (
	fieldLanguage  = "language"
	fieldMode      = "mode"
	fieldVoice     = "voice"
	fieldStyleHint = "style_hint"
)

// Fields returns the persisted form of s.
func (s Settings) Fields() Fields {
	return Fields{
		fieldLanguage:  string(s.Language),
		fieldMode:      string(s.Mode),
		fieldVoice:     string(s.Voice),
		fieldStyleHint: s.StyleHint,
	}
}

// Catalog is the set of supported values and the defaults a new session
// starts with.
type Catalog struct {
	Languages []Language
	Voices    []Voice
	Defaults  Settings
}

// DefaultVoices lists the voices offered by the OpenAI speech endpoint.
var DefaultVoices = []Voice{
	"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer",
}

// DefaultStyleHint is the delivery hint used when a session has not set one.
const DefaultStyleHint = "Speak clearly and calmly at a moderate pace, as for a language learner."

// DefaultCatalog returns the built-in catalog: four languages, the OpenAI
// voices, Greek chat mode with the onyx voice.
func DefaultCatalog() Catalog {
	return Catalog{
		Languages: []Language{LanguageGreek, LanguageSerbian, LanguageEnglish, LanguageDutch},
		Voices:    slices.Clone(DefaultVoices),
		Defaults: Settings{
			Language:  LanguageGreek,
			Mode:      ModeChat,
			Voice:     "onyx",
			StyleHint: DefaultStyleHint,
		},
	}
}

// NewCatalog validates and returns a catalog. Every language must be known,
// voices must be non-empty strings, and the defaults must lie inside the sets.
func NewCatalog(languages []Language, voices []Voice, defaults Settings) (Catalog, error) {
	var errs []error
	if len(languages) == 0 {
		errs = append(errs, errors.New("at least one language is required"))
	}
	for _, l := range languages {
		if !l.Known() {
			errs = append(errs, fmt.Errorf("language %q is not supported; valid values: gr, sb, en, nl", l))
		}
	}
	if len(voices) == 0 {
		errs = append(errs, errors.New("at least one voice is required"))
	}
	for i, v := range voices {
		if strings.TrimSpace(string(v)) == "" {
			errs = append(errs, fmt.Errorf("voices[%d] is empty", i))
		}
	}
	if !slices.Contains(languages, defaults.Language) {
		errs = append(errs, fmt.Errorf("default language %q is not in the language list", defaults.Language))
	}
	if !defaults.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("default mode %q is invalid; valid values: chat, deck", defaults.Mode))
	}
	if !slices.Contains(voices, defaults.Voice) {
		errs = append(errs, fmt.Errorf("default voice %q is not in the voice list", defaults.Voice))
	}
	if err := errors.Join(errs...); err != nil {
		return Catalog{}, err
	}
	defaults.SessionID = ""
	defaults.StyleHint = clampStyle(defaults.StyleHint)
	if defaults.StyleHint == "" {
		defaults.StyleHint = DefaultStyleHint
	}
	return Catalog{
		Languages: slices.Clone(languages),
		Voices:    slices.Clone(voices),
		Defaults:  defaults,
	}, nil
}

// Normalize converts a persisted record into typed settings, replacing every
// absent or unsupported field with the catalog default. healed reports
// whether any field had to be replaced, so the caller can write the repaired
// record back.
func Normalize(sessionID string, f Fields, c Catalog) (s Settings, healed bool) {
	s = c.Defaults
	s.SessionID = sessionID

	if l := Language(f[fieldLanguage]); slices.Contains(c.Languages, l) {
		s.Language = l
	} else {
		healed = true
	}
	if m := Mode(f[fieldMode]); m.IsValid() {
		s.Mode = m
	} else {
		healed = true
	}
	if v := Voice(f[fieldVoice]); slices.Contains(c.Voices, v) {
		s.Voice = v
	} else {
		healed = true
	}
	raw, ok := f[fieldStyleHint]
	if hint := clampStyle(raw); ok && hint != "" {
		s.StyleHint = hint
		if hint != raw {
			healed = true
		}
	} else {
		healed = true
	}
	return s, healed
}

// Apply merges p into s after checking every value against the catalog.
func (c Catalog) Apply(s Settings, p Patch) (Settings, error) {
	var errs []error
	if p.Language != nil {
		if slices.Contains(c.Languages, *p.Language) {
			s.Language = *p.Language
		} else {
			errs = append(errs, fmt.Errorf("%w: language %q", ErrInvalidValue, *p.Language))
		}
	}
	if p.Mode != nil {
		if p.Mode.IsValid() {
			s.Mode = *p.Mode
		} else {
			errs = append(errs, fmt.Errorf("%w: mode %q", ErrInvalidValue, *p.Mode))
		}
	}
	if p.Voice != nil {
		if slices.Contains(c.Voices, *p.Voice) {
			s.Voice = *p.Voice
		} else {
			errs = append(errs, fmt.Errorf("%w: voice %q", ErrInvalidValue, *p.Voice))
		}
	}
	if p.StyleHint != nil {
		hint := clampStyle(*p.StyleHint)
		if hint == "" {
			hint = c.Defaults.StyleHint
		}
		s.StyleHint = hint
	}
	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// clampStyle trims s and cuts it to MaxStyleHintRunes runes.
func clampStyle(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= MaxStyleHintRunes {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:MaxStyleHintRunes]))
}
