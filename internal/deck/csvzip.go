package deck

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"time"
)

// CSVFilename is the manifest entry inside a CSV archive.
const CSVFilename = "deck.csv"

// CSVPackager writes a semicolon-separated manifest plus the mp3 files into
// a zip. The manifest columns are original, translation and sound reference,
// ready for Anki's text import with the media copied into collection.media.
type CSVPackager struct {
	now func() time.Time
}

var _ Packager = (*CSVPackager)(nil)

// NewCSVPackager returns a CSVPackager.
func NewCSVPackager() *CSVPackager { return &CSVPackager{now: time.Now} }

// Extension implements [Packager].
func (*CSVPackager) Extension() string { return ".zip" }

// Package implements [Packager].
func (c *CSVPackager) Package(ctx context.Context, _ *Workspace, p *Package) ([]byte, error) {
	if err := checkRows(p); err != nil {
		return nil, err
	}

	var manifest bytes.Buffer
	w := csv.NewWriter(&manifest)
	w.Comma = ';'
	_ = w.Write([]string{"original", "translation", "audio"})
	for _, r := range p.Rows {
		_ = w.Write([]string{r.Original, r.Translated, r.SoundTag()})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	z := newZipBuilder(c.now())
	if err := z.addBytes(CSVFilename, manifest.Bytes(), zip.Deflate); err != nil {
		return nil, err
	}
	for _, r := range p.Rows {
		if err := z.addFile(ctx, r.Audio.Filename, r.Audio.Path); err != nil {
			return nil, err
		}
	}
	return z.bytes()
}
