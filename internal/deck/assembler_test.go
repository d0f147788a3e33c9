package deck_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MrWong99/essaydeck/internal/deck"
	"github.com/MrWong99/essaydeck/internal/phrase"
	"github.com/MrWong99/essaydeck/internal/speech"
	ttsmock "github.com/MrWong99/essaydeck/pkg/provider/tts/mock"
)

func newWorkspace(t *testing.T) (*deck.Workspace, string) {
	t.Helper()
	root := t.TempDir()
	ws, err := deck.OpenWorkspace(root)
	if err != nil {
		t.Fatalf("OpenWorkspace: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws, root
}

func threeRecords() phrase.Deck {
	return phrase.Deck{
		Title: "Заголовок",
		Records: []phrase.Record{
			{Original: "Первая", Translated: "Πρώτη"},
			{Original: "Вторая", Translated: "Δεύτερη", Style: "excited"},
			{Original: "Третья", Translated: "Τρίτη"},
		},
	}
}

func TestBuildChat(t *testing.T) {
	t.Parallel()
	ws, _ := newWorkspace(t)
	tp := &ttsmock.Provider{Audio: []byte("ID3chat")}
	a := deck.NewAssembler(speech.New(tp), deck.NewCSVPackager())

	reply, err := a.BuildChat(context.Background(), ws, "Καλημέρα", "warm", "nova")
	if err != nil {
		t.Fatalf("BuildChat: %v", err)
	}
	if reply.Audio.Filename != deck.ChatFilename(deck.HashText("Καλημέρα")) {
		t.Errorf("filename = %q", reply.Audio.Filename)
	}
	data, err := os.ReadFile(reply.Audio.Path)
	if err != nil || string(data) != "ID3chat" {
		t.Errorf("audio file = %q (err %v)", data, err)
	}
	if reply.Audio.Size != int64(len("ID3chat")) {
		t.Errorf("size = %d", reply.Audio.Size)
	}
	req := tp.Requests()[0]
	if req.Voice != "nova" || req.Instructions != "warm" {
		t.Errorf("request = %+v", req)
	}
}

func TestBuildDeck_RowsMatchArtifacts(t *testing.T) {
	t.Parallel()
	ws, _ := newWorkspace(t)
	tp := &ttsmock.Provider{}
	a := deck.NewAssembler(speech.New(tp), deck.NewCSVPackager())

	var progress []int
	pkg, err := a.BuildDeck(context.Background(), ws, threeRecords(), "onyx", "calm", func(done, total int) {
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("BuildDeck: %v", err)
	}

	if pkg.Name != "Заголовок" {
		t.Errorf("Name = %q", pkg.Name)
	}
	if pkg.Filename != "Заголовок.zip" {
		t.Errorf("Filename = %q", pkg.Filename)
	}
	if len(pkg.Rows) != 3 || len(pkg.Archive) == 0 {
		t.Fatalf("rows = %d archive = %d bytes", len(pkg.Rows), len(pkg.Archive))
	}
	seen := map[string]bool{}
	for i, r := range pkg.Rows {
		if r.Audio.Position != i+1 {
			t.Errorf("row %d position = %d", i, r.Audio.Position)
		}
		if r.Audio.Filename != deck.PhraseFilename(i+1, deck.HashText(r.Translated)) {
			t.Errorf("row %d filename = %q", i, r.Audio.Filename)
		}
		if seen[r.Audio.Filename] {
			t.Errorf("duplicate audio %s", r.Audio.Filename)
		}
		seen[r.Audio.Filename] = true
	}
	if len(progress) != 3 || progress[2] != 3 {
		t.Errorf("progress = %v", progress)
	}

	// Order of synthesis follows the records; record style overrides default.
	reqs := tp.Requests()
	wantText := []string{"Πρώτη", "Δεύτερη", "Τρίτη"}
	wantStyle := []string{"calm", "excited", "calm"}
	for i, r := range reqs {
		if r.Text != wantText[i] || r.Instructions != wantStyle[i] {
			t.Errorf("call %d = %+v", i, r)
		}
	}
}

func TestBuildDeck_FailureOnSecondPhrase(t *testing.T) {
	t.Parallel()
	ws, _ := newWorkspace(t)
	boom := errors.New("voice unavailable")
	tp := &ttsmock.Provider{FailOnCall: 2, FailErr: boom}
	packager := &recordingPackager{}
	a := deck.NewAssembler(speech.New(tp), packager)

	pkg, err := a.BuildDeck(context.Background(), ws, threeRecords(), "onyx", "", nil)
	if pkg != nil {
		t.Error("partial package returned")
	}
	if !errors.Is(err, deck.ErrAssembly) || !errors.Is(err, speech.ErrFailed) || !errors.Is(err, boom) {
		t.Errorf("err = %v, want ErrAssembly wrapping the synthesis failure", err)
	}
	if tp.CallCount() != 2 {
		t.Errorf("synthesis calls = %d, want 2 (stop at first failure)", tp.CallCount())
	}
	if packager.calls != 0 {
		t.Error("packager ran after a failed phrase")
	}
}

func TestBuildDeck_NoRecords(t *testing.T) {
	t.Parallel()
	ws, _ := newWorkspace(t)
	tp := &ttsmock.Provider{}
	a := deck.NewAssembler(speech.New(tp), deck.NewCSVPackager())

	_, err := a.BuildDeck(context.Background(), ws, phrase.Deck{Title: "x"}, "onyx", "", nil)
	if !errors.Is(err, deck.ErrAssembly) {
		t.Errorf("err = %v, want ErrAssembly", err)
	}
	if tp.CallCount() != 0 {
		t.Error("synthesis called for empty deck")
	}
}

func TestBuildDeck_CanceledContext(t *testing.T) {
	t.Parallel()
	ws, _ := newWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tp := &ttsmock.Provider{}
	a := deck.NewAssembler(speech.New(tp), deck.NewCSVPackager())

	_, err := a.BuildDeck(ctx, ws, threeRecords(), "onyx", "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
}

func TestBuildDeck_PackagerError(t *testing.T) {
	t.Parallel()
	ws, _ := newWorkspace(t)
	a := deck.NewAssembler(speech.New(&ttsmock.Provider{}), &recordingPackager{err: errors.New("disk full")})

	_, err := a.BuildDeck(context.Background(), ws, threeRecords(), "onyx", "", nil)
	if !errors.Is(err, deck.ErrAssembly) {
		t.Errorf("err = %v, want ErrAssembly", err)
	}
}

func TestScratchIsGoneAfterClose(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	ws, err := deck.OpenWorkspace(root)
	if err != nil {
		t.Fatalf("OpenWorkspace: %v", err)
	}
	a := deck.NewAssembler(speech.New(&ttsmock.Provider{}), deck.NewAPKGPackager(""))
	if _, err := a.BuildDeck(context.Background(), ws, threeRecords(), "onyx", "", nil); err != nil {
		t.Fatalf("BuildDeck: %v", err)
	}
	_ = ws.Close()
	assertEmptyDir(t, root)
}

type recordingPackager struct {
	calls int
	err   error
}

func (r *recordingPackager) Package(context.Context, *deck.Workspace, *deck.Package) ([]byte, error) {
	r.calls++
	return []byte("archive"), r.err
}

func (*recordingPackager) Extension() string { return ".bin" }
