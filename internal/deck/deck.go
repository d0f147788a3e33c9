// Package deck assembles the artifacts a request delivers: a voiced chat
// reply, or a flashcard archive whose rows reference one audio clip each.
//
// Audio is written into a request-scoped [Workspace]; the archive is built
// from those files by a [Packager] and returned as bytes, so nothing outlives
// the workspace. Assembly is all-or-nothing: any failure is reported as
// [ErrAssembly] and no archive is produced.
package deck

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/essaydeck/internal/phrase"
)

// ErrAssembly wraps every failure while building a reply or a package.
var ErrAssembly = errors.New("deck: assembly failed")

// MaxNameRunes bounds deck names.
const MaxNameRunes = 80

// fallbackName is used when neither a title nor a record yields a name.
const fallbackName = "Essay"

// Artifact is one synthesized audio file inside a workspace.
type Artifact struct {
	// Position is the 1-based phrase position, 0 for chat replies.
	Position int
	// Hash is the hex SHA-256 of the spoken text.
	Hash     string
	Filename string
	Path     string
	Size     int64
}

// Row is one flashcard: the original on the front, the translation and its
// audio on the back.
type Row struct {
	Original   string
	Translated string
	Style      string
	Audio      Artifact
}

// SoundTag returns the Anki media reference for the row's audio.
func (r Row) SoundTag() string { return "[sound:" + r.Audio.Filename + "]" }

// Back returns the answer side: translation followed by the sound reference.
func (r Row) Back() string { return r.Translated + r.SoundTag() }

// Package is a finished deck.
type Package struct {
	Name     string
	Rows     []Row
	Archive  []byte
	Filename string
}

// Artifacts returns the audio files in row order.
func (p *Package) Artifacts() []Artifact {
	out := make([]Artifact, len(p.Rows))
	for i, r := range p.Rows {
		out[i] = r.Audio
	}
	return out
}

// ChatReply is a translation with its voice clip.
type ChatReply struct {
	Text  string
	Style string
	Audio Artifact
}

// Packager encodes rows and their audio files into an archive.
type Packager interface {
	// Package returns the archive bytes for p. Every row's audio file must
	// exist in ws. Scratch files the packager needs go into ws as well.
	Package(ctx context.Context, ws *Workspace, p *Package) ([]byte, error)

	// Extension is the archive file extension including the dot.
	Extension() string
}

// HashText returns the hex SHA-256 of s.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PhraseFilename names the audio file of the phrase at 1-based position pos.
func PhraseFilename(pos int, hash string) string {
	return fmt.Sprintf("phrase_%d_%s.mp3", pos, hash)
}

// ChatFilename names the audio file of a chat reply.
func ChatFilename(hash string) string {
	return "audio_" + hash + ".mp3"
}

// Name picks the deck name: the reply's title line if there is one,
// otherwise the first record's original text.
func Name(d phrase.Deck) string {
	name := d.Title
	if name == "" && len(d.Records) > 0 {
		name = d.Records[0].Original
	}
	return SanitizeName(name)
}

// SanitizeName removes the subdeck separator "::", collapses whitespace and
// truncates to [MaxNameRunes].
func SanitizeName(s string) string {
	s = strings.ReplaceAll(s, "::", " ")
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > MaxNameRunes {
		s = strings.TrimSpace(string([]rune(s)[:MaxNameRunes]))
	}
	if s == "" {
		return fallbackName
	}
	return s
}

// ArchiveFilename turns a deck name into a portable file name with ext.
func ArchiveFilename(name, ext string) string {
	base := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			return '_'
		}
		return r
	}, name)
	base = strings.Trim(base, ". ")
	if base == "" {
		base = fallbackName
	}
	return base + ext
}
