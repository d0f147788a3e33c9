package translate

import (
	"fmt"
	"strings"

	"github.com/MrWong99/essaydeck/internal/settings"
)

// Worked example embedded in the deck prompt. The model copies its shape far
// more reliably than it follows a prose description of the format.
const (
	exampleInput = "Это текст для перевода. Он состоит из двух отрывков."
	exampleTitle = "Текст для перевода"
)

var exampleLines = []struct{ original, greek, tone string }{
	{"Это текст для перевода", "Αυτό είναι το κείμενο για μετάφραση", "neutral, explanatory"},
	{"Он состоит из двух отрывков", "Αποτελείται από δύο αποσπάσματα", "calm, matter-of-fact"},
}

// BuildPrompt renders the single user prompt sent to the completion model.
//
// Chat mode asks for a compact translation only. Deck mode additionally asks
// for a title line followed by one semicolon-separated record per short
// phrase. With extended set, the model is also asked for a delivery hint: a
// trailing "(tone: ...)" in chat mode and a third column in deck mode.
func BuildPrompt(text string, s settings.Settings, extended bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the text below into standard modern %s, following all grammatical norms "+
		"and preserving the original writing style and level of vocabulary. "+
		"Keep the answer as compact as possible and do not add any extra text.\n", s.Language.Name())

	if s.Mode != settings.ModeDeck {
		if extended {
			b.WriteString("After the translation, on its own line, add one short hint for a narrator " +
				"describing how the text should be read aloud, in the form (tone: <hint>).\n")
		}
		fmt.Fprintf(&b, "Here is the text to translate:\n%s", text)
		return b.String()
	}

	b.WriteString("Split the translated text into short passages of one or two sentences that belong " +
		"together narratively, so the text is easy to learn by heart.\n")
	b.WriteString("Start the answer with a short title for the whole text in the original language on " +
		"its own line, without any semicolon.\n")
	if extended {
		b.WriteString("Then write every passage strictly on its own line in the format " +
			"original passage;translated passage;how to read it aloud\n")
	} else {
		b.WriteString("Then write every passage strictly on its own line in the format " +
			"original passage;translated passage\n")
	}
	fmt.Fprintf(&b, "For example, for %q the answer is:\n", exampleInput)
	b.WriteString(exampleTitle + "\n")
	for _, l := range exampleLines {
		if extended {
			fmt.Fprintf(&b, "%s;%s;%s\n", l.original, l.greek, l.tone)
		} else {
			fmt.Fprintf(&b, "%s;%s\n", l.original, l.greek)
		}
	}
	fmt.Fprintf(&b, "Here is the text to translate:\n%s", text)
	return b.String()
}
