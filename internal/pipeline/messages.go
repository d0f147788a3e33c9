package pipeline

import (
	"fmt"
	"strings"

	"github.com/MrWong99/essaydeck/internal/config"
	"github.com/MrWong99/essaydeck/internal/deck"
	"github.com/MrWong99/essaydeck/internal/settings"
)

// MaxCaptionRunes bounds captions attached to voice clips and decks.
const MaxCaptionRunes = 1024

const msgFailure = "Something went wrong, please try again."

// HelpText explains how to use the bot under the given limits.
func HelpText(l config.LimitsConfig) string {
	var b strings.Builder
	b.WriteString("Send me a text and I will translate it.\n\n")
	b.WriteString("In chat mode you get the translation back with a voice recording.\n")
	b.WriteString("In deck mode the translation is split into short passages and you get a flashcard deck ")
	b.WriteString("with one card per passage: the original on the front, the translation and its recording on the back.\n\n")
	fmt.Fprintf(&b, "Texts must be between %d and %d characters long.\n\n", l.MinInputChars, l.MaxInputChars)
	b.WriteString("Commands:\n")
	b.WriteString("/start resets your settings\n")
	b.WriteString("/settings shows the settings panel (mode and target language)\n")
	b.WriteString("/voice picks the narrator voice\n")
	b.WriteString("/style sets how the narrator should read\n")
	b.WriteString("/help shows this message")
	return b.String()
}

// SettingsSummary renders s for the settings panel.
func SettingsSummary(s settings.Settings) string {
	mode := "chat (translation + voice)"
	if s.Mode == settings.ModeDeck {
		mode = "deck (flashcards)"
	}
	return fmt.Sprintf("Mode: %s\nLanguage: %s %s\nVoice: %s\nStyle: %s",
		mode, s.Language.Flag(), s.Language.Name(), s.Voice, s.StyleHint)
}

// WelcomeText greets a session after /start.
func WelcomeText(s settings.Settings, l config.LimitsConfig) string {
	return "Hi! Your settings have been reset.\n\n" + SettingsSummary(s) + "\n\n" + HelpText(l)
}

// failureText is the user-facing message for err. Validation messages are
// shown as is; everything else gets the generic text plus ref, the short
// trace reference the logs can be searched for.
func failureText(err error, ref string) string {
	if ve := asValidation(err); ve != nil && ve.Message != "" {
		return ve.Message
	}
	if ref == "" {
		return msgFailure
	}
	return msgFailure + "\nReference: " + ref
}

// deckCaption lists the deck's passages as "**original** | translation"
// lines, cut at MaxCaptionRunes.
func deckCaption(pkg *deck.Package) string {
	var b strings.Builder
	b.WriteString("**" + pkg.Name + "**")
	for _, r := range pkg.Rows {
		b.WriteString("\n*" + r.Original + "* | " + r.Translated)
	}
	return truncateRunes(b.String(), MaxCaptionRunes)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 1 {
		return string(r[:limit])
	}
	return string(r[:limit-1]) + "…"
}

func validationTooShort(min int) *ValidationError {
	return invalid("input_too_short", fmt.Sprintf("The text is too short. Send at least %d characters.", min))
}

func validationTooLong(max int) *ValidationError {
	return invalid("input_too_long", fmt.Sprintf("The text is too long. Send at most %d characters.", max))
}

func validationReplyTooLong() *ValidationError {
	return invalid("reply_too_long", "The translation came out too long. Please try a shorter text.")
}

func validationNoPhrases() *ValidationError {
	return invalid("no_phrases", "I could not split the translation into passages. Please try again.")
}

func validationTooManyPhrases(max int) *ValidationError {
	return invalid("too_many_phrases", fmt.Sprintf("The deck would have more than %d cards. Please send a shorter text.", max))
}

func validationPhraseTooLong(max int) *ValidationError {
	return invalid("phrase_too_long", fmt.Sprintf("A passage came out longer than %d characters. Please try again.", max))
}
