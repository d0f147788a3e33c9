package deck

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/MrWong99/essaydeck/internal/observe"
	"github.com/MrWong99/essaydeck/internal/phrase"
	"github.com/MrWong99/essaydeck/internal/speech"
)

// Synthesizer writes one clip. *speech.Synthesizer satisfies it.
type Synthesizer interface {
	Synthesize(ctx context.Context, req speech.Request, w io.Writer) error
}

// Progress is called after each synthesized phrase with the number done so
// far and the total.
type Progress func(done, total int)

// Assembler builds chat replies and deck packages.
type Assembler struct {
	synth    Synthesizer
	packager Packager
	metrics  *observe.Metrics
}

// AssemblerOption configures an [Assembler].
type AssemblerOption func(*Assembler)

// WithMetrics records assembly latency and phrase counts into m.
func WithMetrics(m *observe.Metrics) AssemblerOption {
	return func(a *Assembler) { a.metrics = m }
}

// NewAssembler returns an Assembler that voices phrases with synth and
// archives decks with packager.
func NewAssembler(synth Synthesizer, packager Packager, opts ...AssemblerOption) *Assembler {
	a := &Assembler{synth: synth, packager: packager}
	for _, o := range opts {
		o(a)
	}
	return a
}

// BuildChat voices text into ws as audio_<hash>.mp3.
func (a *Assembler) BuildChat(ctx context.Context, ws *Workspace, text, style, voice string) (*ChatReply, error) {
	start := time.Now()
	defer a.observe(ctx, start)

	hash := HashText(text)
	art, err := a.synthesize(ctx, ws, ChatFilename(hash), speech.Request{Text: text, Style: style, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssembly, err)
	}
	art.Hash = hash
	return &ChatReply{Text: text, Style: style, Audio: art}, nil
}

// BuildDeck voices every record of d in order and packages the result.
// A record's own style wins over defaultStyle. Synthesis stops at the first
// failure and no archive is produced.
func (a *Assembler) BuildDeck(ctx context.Context, ws *Workspace, d phrase.Deck, voice, defaultStyle string, progress Progress) (*Package, error) {
	if len(d.Records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrAssembly)
	}
	start := time.Now()
	defer a.observe(ctx, start)

	pkg := &Package{Name: Name(d), Rows: make([]Row, 0, len(d.Records))}
	total := len(d.Records)
	for i, rec := range d.Records {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAssembly, err)
		}
		pos := i + 1
		style := rec.Style
		if style == "" {
			style = defaultStyle
		}
		hash := HashText(rec.Translated)
		art, err := a.synthesize(ctx, ws, PhraseFilename(pos, hash), speech.Request{Text: rec.Translated, Style: style, Voice: voice})
		if err != nil {
			return nil, fmt.Errorf("%w: phrase %d of %d: %w", ErrAssembly, pos, total, err)
		}
		art.Position = pos
		art.Hash = hash
		pkg.Rows = append(pkg.Rows, Row{
			Original:   rec.Original,
			Translated: rec.Translated,
			Style:      rec.Style,
			Audio:      art,
		})
		if progress != nil {
			progress(pos, total)
		}
	}

	archive, err := a.packager.Package(ctx, ws, pkg)
	if err != nil {
		return nil, fmt.Errorf("%w: package: %w", ErrAssembly, err)
	}
	pkg.Archive = archive
	pkg.Filename = ArchiveFilename(pkg.Name, a.packager.Extension())

	if a.metrics != nil {
		a.metrics.Phrases.Record(ctx, int64(len(pkg.Rows)))
	}
	return pkg, nil
}

func (a *Assembler) synthesize(ctx context.Context, ws *Workspace, filename string, req speech.Request) (Artifact, error) {
	f, err := ws.Create(filename)
	if err != nil {
		return Artifact{}, err
	}
	cw := &countingWriter{w: f}
	synthErr := a.synth.Synthesize(ctx, req, cw)
	closeErr := f.Close()
	if synthErr != nil {
		return Artifact{}, synthErr
	}
	if closeErr != nil {
		return Artifact{}, fmt.Errorf("close %s: %w", filename, closeErr)
	}
	return Artifact{Filename: filename, Path: f.Name(), Size: cw.n}, nil
}

func (a *Assembler) observe(ctx context.Context, start time.Time) {
	if a.metrics != nil {
		a.metrics.AssemblyDuration.Record(ctx, time.Since(start).Seconds())
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
