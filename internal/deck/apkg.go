package deck

import (
	"archive/zip"
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// collectionFile is the SQLite database inside a legacy .apkg.
	collectionFile = "collection.anki2"

	// mediaFile maps numbered archive entries to media file names.
	mediaFile = "media"

	// basicModelID identifies the note type. A fixed id lets repeated imports
	// reuse one note type instead of cloning it per deck.
	basicModelID int64 = 1719310000001

	// fieldSeparator joins note fields in the notes.flds column.
	fieldSeparator = "\x1f"

	// DefaultTag is attached to every note unless configured otherwise.
	DefaultTag = "essay"
)

// anki2Schema is the schema-11 layout Anki 2.1 imports from legacy packages.
const anki2Schema = `
CREATE TABLE col (
    id     integer primary key,
    crt    integer not null,
    mod    integer not null,
    scm    integer not null,
    ver    integer not null,
    dty    integer not null,
    usn    integer not null,
    ls     integer not null,
    conf   text not null,
    models text not null,
    decks  text not null,
    dconf  text not null,
    tags   text not null
);
CREATE TABLE notes (
    id    integer primary key,
    guid  text not null,
    mid   integer not null,
    mod   integer not null,
    usn   integer not null,
    tags  text not null,
    flds  text not null,
    sfld  integer not null,
    csum  integer not null,
    flags integer not null,
    data  text not null
);
CREATE TABLE cards (
    id     integer primary key,
    nid    integer not null,
    did    integer not null,
    ord    integer not null,
    mod    integer not null,
    usn    integer not null,
    type   integer not null,
    queue  integer not null,
    due    integer not null,
    ivl    integer not null,
    factor integer not null,
    reps   integer not null,
    lapses integer not null,
    left   integer not null,
    odue   integer not null,
    odid   integer not null,
    flags  integer not null,
    data   text not null
);
CREATE TABLE revlog (
    id      integer primary key,
    cid     integer not null,
    usn     integer not null,
    ease    integer not null,
    ivl     integer not null,
    lastIvl integer not null,
    factor  integer not null,
    time    integer not null,
    type    integer not null
);
CREATE TABLE graves (
    usn  integer not null,
    oid  integer not null,
    type integer not null
);
CREATE INDEX ix_notes_usn ON notes (usn);
CREATE INDEX ix_cards_usn ON cards (usn);
CREATE INDEX ix_revlog_usn ON revlog (usn);
CREATE INDEX ix_cards_nid ON cards (nid);
CREATE INDEX ix_cards_sched ON cards (did, queue, due);
CREATE INDEX ix_revlog_cid ON revlog (cid);
CREATE INDEX ix_notes_csum ON notes (csum);
`

// APKGPackager produces Anki 2.1 legacy packages: a zip holding a SQLite
// collection with one Basic note per row, a media map and the mp3 files
// stored under their map index.
type APKGPackager struct {
	tag string
	now func() time.Time
}

var _ Packager = (*APKGPackager)(nil)

// NewAPKGPackager returns a packager tagging notes with tag, or [DefaultTag]
// when tag is empty.
func NewAPKGPackager(tag string) *APKGPackager {
	tag = strings.Join(strings.Fields(tag), "_")
	if tag == "" {
		tag = DefaultTag
	}
	return &APKGPackager{tag: tag, now: time.Now}
}

// Extension implements [Packager].
func (*APKGPackager) Extension() string { return ".apkg" }

// Package implements [Packager]. The collection database is built inside ws.
func (a *APKGPackager) Package(ctx context.Context, ws *Workspace, p *Package) ([]byte, error) {
	if err := checkRows(p); err != nil {
		return nil, err
	}
	now := a.now()

	dbPath := ws.Path(collectionFile)
	if err := a.writeCollection(ctx, dbPath, p, now); err != nil {
		return nil, err
	}
	collection, err := os.ReadFile(dbPath)
	if err != nil {
		return nil, fmt.Errorf("read collection: %w", err)
	}

	media := make(map[string]string, len(p.Rows))
	for i, r := range p.Rows {
		media[strconv.Itoa(i)] = r.Audio.Filename
	}
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return nil, fmt.Errorf("encode media map: %w", err)
	}

	z := newZipBuilder(now)
	if err := z.addBytes(collectionFile, collection, zip.Deflate); err != nil {
		return nil, err
	}
	if err := z.addBytes(mediaFile, mediaJSON, zip.Deflate); err != nil {
		return nil, err
	}
	for i, r := range p.Rows {
		if err := z.addFile(ctx, strconv.Itoa(i), r.Audio.Path); err != nil {
			return nil, err
		}
	}
	return z.bytes()
}

func (a *APKGPackager) writeCollection(ctx context.Context, path string, p *Package, now time.Time) (err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open collection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close collection: %w", cerr)
		}
	}()

	if _, err := db.ExecContext(ctx, anki2Schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ms := now.UnixMilli()
	deckID := ms
	col, err := collectionRow(p.Name, deckID, now)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO col VALUES (1, ?, ?, ?, 11, 0, 0, 0, ?, ?, ?, ?, '{}')`,
		now.Unix(), ms, ms, col.conf, col.models, col.decks, col.dconf,
	); err != nil {
		return fmt.Errorf("insert col: %w", err)
	}

	tags := " " + a.tag + " "
	for i, r := range p.Rows {
		noteID := ms + int64(i)
		front := r.Original
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notes VALUES (?, ?, ?, ?, -1, ?, ?, ?, ?, 0, '')`,
			noteID, uuid.NewString(), basicModelID, now.Unix(), tags,
			front+fieldSeparator+r.Back(), front, checksum(front),
		); err != nil {
			return fmt.Errorf("insert note %d: %w", i+1, err)
		}
		// New cards are shown in row order via due = position.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cards VALUES (?, ?, ?, 0, ?, -1, 0, 0, ?, 0, 0, 0, 0, 0, 0, 0, 0, '')`,
			noteID, noteID, deckID, now.Unix(), i+1,
		); err != nil {
			return fmt.Errorf("insert card %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// checksum is the first 8 hex digits of the SHA-1 of the sort field, as an
// integer. Anki uses it to detect duplicates on import.
func checksum(field string) int64 {
	sum := sha1.Sum([]byte(field))
	return int64(binary.BigEndian.Uint32(sum[:4]))
}

type colJSON struct {
	conf, models, decks, dconf string
}

func collectionRow(deckName string, deckID int64, now time.Time) (colJSON, error) {
	conf := map[string]any{
		"activeDecks":   []int64{1},
		"curDeck":       1,
		"newSpread":     0,
		"collapseTime":  1200,
		"timeLim":       0,
		"estTimes":      true,
		"dueCounts":     true,
		"curModel":      strconv.FormatInt(basicModelID, 10),
		"nextPos":       1,
		"sortType":      "noteFld",
		"sortBackwards": false,
		"addToCur":      true,
	}
	models := map[string]any{
		strconv.FormatInt(basicModelID, 10): map[string]any{
			"id":    basicModelID,
			"name":  "Basic (essaydeck)",
			"type":  0,
			"mod":   now.Unix(),
			"usn":   -1,
			"sortf": 0,
			"did":   deckID,
			"tmpls": []map[string]any{{
				"name":  "Card 1",
				"ord":   0,
				"qfmt":  "{{Front}}",
				"afmt":  "{{FrontSide}}\n\n<hr id=answer>\n\n{{Back}}",
				"did":   nil,
				"bqfmt": "",
				"bafmt": "",
			}},
			"flds": []map[string]any{
				modelField("Front", 0),
				modelField("Back", 1),
			},
			"css":       ".card {\n font-family: arial;\n font-size: 20px;\n text-align: center;\n color: black;\n background-color: white;\n}\n",
			"latexPre":  "\\documentclass[12pt]{article}\n\\special{papersize=3in,5in}\n\\usepackage[utf8]{inputenc}\n\\usepackage{amssymb,amsmath}\n\\pagestyle{empty}\n\\setlength{\\parindent}{0in}\n\\begin{document}\n",
			"latexPost": "\\end{document}",
			"latexsvg":  false,
			"req":       []any{[]any{0, "any", []int{0}}},
			"tags":      []string{},
			"vers":      []any{},
		},
	}
	decks := map[string]any{"1": deckJSON(1, "Default", now)}
	decks[strconv.FormatInt(deckID, 10)] = deckJSON(deckID, deckName, now)
	dconf := map[string]any{
		"1": map[string]any{
			"id":       1,
			"name":     "Default",
			"mod":      0,
			"usn":      0,
			"maxTaken": 60,
			"autoplay": true,
			"timer":    0,
			"replayq":  true,
			"dyn":      false,
			"new": map[string]any{
				"delays":        []float64{1, 10},
				"ints":          []int{1, 4, 7},
				"initialFactor": 2500,
				"order":         1,
				"perDay":        20,
				"bury":          true,
				"separate":      true,
			},
			"rev": map[string]any{
				"perDay":   200,
				"ease4":    1.3,
				"fuzz":     0.05,
				"maxIvl":   36500,
				"ivlFct":   1,
				"bury":     true,
				"minSpace": 1,
			},
			"lapse": map[string]any{
				"delays":      []float64{10},
				"mult":        0,
				"minInt":      1,
				"leechFails":  8,
				"leechAction": 0,
			},
		},
	}

	var out colJSON
	for dst, v := range map[*string]any{&out.conf: conf, &out.models: models, &out.decks: decks, &out.dconf: dconf} {
		b, err := json.Marshal(v)
		if err != nil {
			return colJSON{}, fmt.Errorf("encode collection config: %w", err)
		}
		*dst = string(b)
	}
	return out, nil
}

func modelField(name string, ord int) map[string]any {
	return map[string]any{
		"name":   name,
		"ord":    ord,
		"sticky": false,
		"rtl":    false,
		"font":   "Arial",
		"size":   20,
		"media":  []string{},
	}
}

func deckJSON(id int64, name string, now time.Time) map[string]any {
	return map[string]any{
		"id":               id,
		"name":             name,
		"mod":              now.Unix(),
		"usn":              -1,
		"lrnToday":         []int{0, 0},
		"revToday":         []int{0, 0},
		"newToday":         []int{0, 0},
		"timeToday":        []int{0, 0},
		"collapsed":        false,
		"browserCollapsed": false,
		"desc":             "",
		"dyn":              0,
		"conf":             1,
		"extendNew":        0,
		"extendRev":        0,
	}
}
