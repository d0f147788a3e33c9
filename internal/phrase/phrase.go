// Package phrase parses translation replies.
//
// Replies are untrusted model output. The parsers never fail: malformed lines
// are dropped, and an empty result is for the caller to report.
package phrase

import (
	"regexp"
	"strings"
)

// Separator splits the columns of a deck record line.
const Separator = ";"

// Record is one flashcard: an original passage, its translation and an
// optional delivery hint.
type Record struct {
	Original   string
	Translated string
	Style      string
}

// Deck is a parsed deck-mode reply.
type Deck struct {
	// Title is the separator-less line preceding the first record, if any.
	Title   string
	Records []Record
}

// Chat is a parsed chat-mode reply.
type Chat struct {
	// Text is the translation with any tone hint removed.
	Text string
	// Tone is the extracted delivery hint, empty when the reply had none.
	Tone string
}

var toneRe = regexp.MustCompile(`(?i)\(\s*(?:tone|style)\s*:\s*([^)]*)\)`)

// ParseChat trims raw and extracts the first "(tone: ...)" or "(style: ...)"
// hint. The hint is removed from the text.
func ParseChat(raw string) Chat {
	loc := toneRe.FindStringSubmatchIndex(raw)
	if loc == nil {
		return Chat{Text: strings.TrimSpace(raw)}
	}
	tone := strings.TrimSpace(raw[loc[2]:loc[3]])
	text := strings.TrimSpace(raw[:loc[0]] + raw[loc[1]:])
	return Chat{Text: text, Tone: tone}
}

// ParseDeck splits raw into records. A line becomes a record only when it
// contains the separator and both its first and second column are non-empty
// after trimming; a third column, if present, is the style hint and any
// further separators stay part of it. Code fence lines are skipped. The
// first non-empty line is taken as the title when it has no separator, does
// not end with a colon and is followed by at least one record. Lead-ins such
// as "Sure, here is the translation:" therefore never become a title.
//
// ParseDeck is pure: equal input always yields an equal Deck.
func ParseDeck(raw string) Deck {
	var d Deck
	seenContent := false
	for line := range strings.Lines(raw) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		if !strings.Contains(line, Separator) {
			if !seenContent && !isLeadIn(line) {
				d.Title = cleanTitle(line)
			}
			seenContent = true
			continue
		}
		seenContent = true
		if r, ok := parseRecord(line); ok {
			d.Records = append(d.Records, r)
		}
	}
	if len(d.Records) == 0 {
		d.Title = ""
	}
	return d
}

// isLeadIn reports whether line introduces what follows instead of naming it.
func isLeadIn(line string) bool {
	line = strings.TrimRight(line, "*_ \t")
	return strings.HasSuffix(line, ":") || strings.HasSuffix(line, "：")
}

func parseRecord(line string) (Record, bool) {
	fields := strings.SplitN(line, Separator, 3)
	r := Record{
		Original:   strings.TrimSpace(fields[0]),
		Translated: strings.TrimSpace(fields[1]),
	}
	if len(fields) == 3 {
		r.Style = strings.TrimSpace(fields[2])
	}
	if r.Original == "" || r.Translated == "" {
		return Record{}, false
	}
	return r, true
}

// cleanTitle drops markdown emphasis and heading marks models like to add.
func cleanTitle(s string) string {
	return strings.TrimSpace(strings.Trim(s, "#*_ \t"))
}
