package pipeline_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/essaydeck/internal/config"
	"github.com/MrWong99/essaydeck/internal/deck"
	"github.com/MrWong99/essaydeck/internal/pipeline"
	"github.com/MrWong99/essaydeck/internal/pipeline/mock"
	"github.com/MrWong99/essaydeck/internal/settings"
	"github.com/MrWong99/essaydeck/internal/speech"
	"github.com/MrWong99/essaydeck/internal/translate"
	"github.com/MrWong99/essaydeck/pkg/provider/llm"
	llmmock "github.com/MrWong99/essaydeck/pkg/provider/llm/mock"
	ttsmock "github.com/MrWong99/essaydeck/pkg/provider/tts/mock"
)

// ─── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	orch      *pipeline.Orchestrator
	llm       *llmmock.Provider
	tts       *ttsmock.Provider
	transport *mock.Transport
	store     *settings.Store
	scratch   string

	mu          sync.Mutex
	transitions []pipeline.Transition
}

func newHarness(t *testing.T, reply string, opts ...pipeline.Option) *harness {
	t.Helper()
	h := &harness{
		llm:       &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: reply}},
		tts:       &ttsmock.Provider{},
		transport: &mock.Transport{},
		store:     settings.NewStore(settings.NewMemoryBackend(), settings.DefaultCatalog()),
		scratch:   t.TempDir(),
	}
	asm := deck.NewAssembler(speech.New(h.tts), deck.NewCSVPackager())
	tr := translate.New(h.llm, translate.Options{Temperature: translate.DefaultTemperature})

	all := append([]pipeline.Option{
		pipeline.WithScratchDir(h.scratch),
		pipeline.WithHook(func(tr pipeline.Transition) {
			h.mu.Lock()
			h.transitions = append(h.transitions, tr)
			h.mu.Unlock()
		}),
	}, opts...)
	orch, err := pipeline.New(h.store, tr, asm, h.transport, all...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) states() []pipeline.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]pipeline.State, len(h.transitions))
	for i, tr := range h.transitions {
		out[i] = tr.To
	}
	return out
}

func (h *harness) setMode(t *testing.T, sessionID string, m settings.Mode) {
	t.Helper()
	if _, err := h.orch.HandleCommand(context.Background(), sessionID, pipeline.SetMode(m)); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir not cleaned up, found %d entries", len(entries))
	}
}

func assertStates(t *testing.T, got []pipeline.State, want ...pipeline.State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}

const sessionID = "chan-1"

// ─── Chat mode ──────────────────────────────────────────────────────────────

func TestHandleText_Chat(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Γεια σου, κόσμε! (tone: cheerful)")

	err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, MessageID: "m1", Text: "Привет, мир! Как дела?"})
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}

	voices := h.transport.Sent(mock.KindVoice)
	if len(voices) != 1 {
		t.Fatalf("voice messages = %d, want 1", len(voices))
	}
	v := voices[0]
	if v.Text != "Γεια σου, κόσμε!" {
		t.Errorf("caption = %q", v.Text)
	}
	if v.ReplyTo != "m1" || v.SessionID != sessionID {
		t.Errorf("reply routing = %q/%q", v.SessionID, v.ReplyTo)
	}
	if want := deck.ChatFilename(deck.HashText("Γεια σου, κόσμε!")); v.Filename != want {
		t.Errorf("filename = %q, want %q", v.Filename, want)
	}
	if string(v.Data) != "audio:Γεια σου, κόσμε!" {
		t.Errorf("audio = %q", v.Data)
	}

	reqs := h.tts.Requests()
	if len(reqs) != 1 || reqs[0].Instructions != "cheerful" || reqs[0].Voice != "onyx" {
		t.Errorf("tts requests = %+v", reqs)
	}
	if h.llm.CallCount() != 1 {
		t.Errorf("llm calls = %d, want 1", h.llm.CallCount())
	}
	if len(h.transport.Sent(mock.KindText)) != 0 {
		t.Errorf("unexpected text messages: %+v", h.transport.Sent(mock.KindText))
	}

	assertStates(t, h.states(),
		pipeline.StateValidating, pipeline.StateTranslating, pipeline.StateSynthesizing,
		pipeline.StateAssembling, pipeline.StateDelivering, pipeline.StateIdle)
	assertScratchEmpty(t, h.scratch)
}

func TestHandleText_ChatWithoutToneUsesSessionStyle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Hallo wereld")
	if _, err := h.orch.HandleCommand(context.Background(), sessionID, pipeline.SetStyle("whisper")); err != nil {
		t.Fatalf("SetStyle: %v", err)
	}

	if err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Привет, мир! Как дела?"}); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if reqs := h.tts.Requests(); len(reqs) != 1 || reqs[0].Instructions != "whisper" {
		t.Errorf("tts requests = %+v, want style from settings", reqs)
	}
}

// ─── Deck mode ──────────────────────────────────────────────────────────────

const deckReply = "Заголовок\nПервый;Πρώτο\nВторой;Δεύτερο;slowly\nТретий;Τρίτο\n"

func TestHandleText_Deck(t *testing.T) {
	t.Parallel()
	h := newHarness(t, deckReply)
	h.setMode(t, sessionID, settings.ModeDeck)

	err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, MessageID: "m2", Text: "Первый. Второй. Третий."})
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}

	docs := h.transport.Sent(mock.KindDocument)
	if len(docs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docs))
	}
	doc := docs[0]
	if doc.Filename != "Заголовок.zip" {
		t.Errorf("filename = %q", doc.Filename)
	}
	for _, want := range []string{"**Заголовок**", "*Первый* | Πρώτο", "*Третий* | Τρίτο"} {
		if !strings.Contains(doc.Text, want) {
			t.Errorf("caption %q missing %q", doc.Text, want)
		}
	}

	zr, err := zip.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	var mp3s int
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".mp3") {
			mp3s++
		}
	}
	if mp3s != 3 {
		t.Errorf("archive holds %d clips, want 3", mp3s)
	}

	reqs := h.tts.Requests()
	if len(reqs) != 3 {
		t.Fatalf("tts calls = %d, want 3", len(reqs))
	}
	if reqs[0].Text != "Πρώτο" || reqs[2].Text != "Τρίτο" {
		t.Errorf("tts order = %q, %q", reqs[0].Text, reqs[2].Text)
	}
	if reqs[1].Instructions != "slowly" || reqs[0].Instructions != settings.DefaultStyleHint {
		t.Errorf("styles = %q, %q", reqs[0].Instructions, reqs[1].Instructions)
	}

	acts := h.transport.Activities()
	if len(acts) == 0 || acts[len(acts)-1] != pipeline.ActivityUploading {
		t.Errorf("activities = %v, want upload last", acts)
	}
	assertStates(t, h.states(),
		pipeline.StateValidating, pipeline.StateTranslating, pipeline.StateSynthesizing,
		pipeline.StateAssembling, pipeline.StateDelivering, pipeline.StateIdle)
	assertScratchEmpty(t, h.scratch)
}

func TestHandleText_DeckFailsOnSecondPhrase(t *testing.T) {
	t.Parallel()
	h := newHarness(t, deckReply)
	h.tts.FailOnCall = 2
	h.tts.FailErr = errors.New("quota exceeded")
	h.setMode(t, sessionID, settings.ModeDeck)

	err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Первый. Второй. Третий."})
	if err == nil {
		t.Fatal("expected error")
	}
	if k := pipeline.Kind(err); k != pipeline.KindSynthesis {
		t.Errorf("Kind = %q, want synthesis (err %v)", k, err)
	}
	if n := len(h.tts.Requests()); n != 2 {
		t.Errorf("tts calls = %d, want 2", n)
	}
	if len(h.transport.Sent(mock.KindDocument)) != 0 {
		t.Error("a document was delivered after a failed phrase")
	}
	texts := h.transport.Sent(mock.KindText)
	if len(texts) != 1 || !strings.HasPrefix(texts[0].Text, "Something went wrong") {
		t.Errorf("failure notice = %+v", texts)
	}
	states := h.states()
	assertStates(t, states,
		pipeline.StateValidating, pipeline.StateTranslating, pipeline.StateSynthesizing,
		pipeline.StateFailed, pipeline.StateIdle)
	assertScratchEmpty(t, h.scratch)
}

func TestHandleText_DeckLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		reply      string
		limits     config.LimitsConfig
		wantReason string
	}{
		{
			name:       "no records",
			reply:      "Just a title and nothing else",
			wantReason: "into passages",
		},
		{
			name:       "too many phrases",
			reply:      deckReply,
			limits:     config.LimitsConfig{MaxPhrases: 2},
			wantReason: "more than 2 cards",
		},
		{
			name:       "phrase too long",
			reply:      "A;" + strings.Repeat("β", 30),
			limits:     config.LimitsConfig{MaxPhraseChars: 20},
			wantReason: "longer than 20 characters",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, tc.reply, pipeline.WithLimits(tc.limits))
			h.setMode(t, sessionID, settings.ModeDeck)

			err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Достаточно длинный текст."})
			var ve *pipeline.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if len(h.tts.Requests()) != 0 {
				t.Error("speech was synthesized for a rejected deck")
			}
			texts := h.transport.Sent(mock.KindText)
			if len(texts) != 1 || !strings.Contains(texts[0].Text, tc.wantReason) {
				t.Errorf("notice = %+v, want mention of %q", texts, tc.wantReason)
			}
			assertScratchEmpty(t, h.scratch)
		})
	}
}

// ─── Validation ─────────────────────────────────────────────────────────────

func TestHandleText_InputValidationPrecedesExternalCalls(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		reason string
	}{
		{name: "too short", text: "hi", reason: "input_too_short"},
		{name: "only whitespace", text: "   \n\t  ", reason: "input_too_short"},
		{name: "too long", text: strings.Repeat("я", 1001), reason: "input_too_long"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, "unused")
			err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: tc.text})

			var ve *pipeline.ValidationError
			if !errors.As(err, &ve) || ve.Reason != tc.reason {
				t.Fatalf("err = %v, want reason %q", err, tc.reason)
			}
			if h.llm.CallCount() != 0 || len(h.tts.Requests()) != 0 {
				t.Error("external services were called for invalid input")
			}
			texts := h.transport.Sent(mock.KindText)
			if len(texts) != 1 || texts[0].Text != ve.Message {
				t.Errorf("notice = %+v, want %q", texts, ve.Message)
			}
			assertStates(t, h.states(), pipeline.StateValidating, pipeline.StateFailed, pipeline.StateIdle)
		})
	}
}

func TestHandleText_LimitsCountCharactersNotBytes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "ok")
	// 1000 Cyrillic letters are 2000 bytes.
	if err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: strings.Repeat("я", 1000)}); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if h.llm.CallCount() != 1 {
		t.Errorf("llm calls = %d, want 1", h.llm.CallCount())
	}
}

func TestHandleText_SlashSendsHelp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "unused")
	if err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "/unknown"}); err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	texts := h.transport.Sent(mock.KindText)
	if len(texts) != 1 || texts[0].Text != pipeline.HelpText(h.orch.Limits()) {
		t.Errorf("reply = %+v, want help text", texts)
	}
	if h.llm.CallCount() != 0 {
		t.Error("help request reached the translator")
	}
	assertStates(t, h.states(), pipeline.StateValidating, pipeline.StateDelivering, pipeline.StateIdle)
}

func TestHandleText_ReplyTooLong(t *testing.T) {
	t.Parallel()
	h := newHarness(t, strings.Repeat("α", 50), pipeline.WithLimits(config.LimitsConfig{MaxReplyChars: 40}))

	err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Достаточно длинный текст."})
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) || ve.Reason != "reply_too_long" {
		t.Fatalf("err = %v, want reply_too_long", err)
	}
	if len(h.tts.Requests()) != 0 {
		t.Error("an over-long reply was voiced")
	}
}

// ─── Failures ───────────────────────────────────────────────────────────────

func TestHandleText_TranslationFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")
	h.llm.CompleteErr = errors.New("503 service unavailable")

	err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Достаточно длинный текст."})
	if !errors.Is(err, translate.ErrFailed) || pipeline.Kind(err) != pipeline.KindTranslation {
		t.Fatalf("err = %v, want translation failure", err)
	}
	if len(h.tts.Requests()) != 0 {
		t.Error("speech synthesized after translation failure")
	}
	if texts := h.transport.Sent(mock.KindText); len(texts) != 1 {
		t.Errorf("notices = %d, want 1", len(texts))
	}
}

func TestHandleText_DeliveryFailureSendsNoNotice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Γεια σου")
	h.transport.VoiceErr = errors.New("missing permissions")

	err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Достаточно длинный текст."})
	if pipeline.Kind(err) != pipeline.KindDelivery {
		t.Fatalf("Kind = %q, want delivery (err %v)", pipeline.Kind(err), err)
	}
	if h.transport.Count() != 1 {
		t.Errorf("sends = %d, want only the failed voice message", h.transport.Count())
	}
	assertScratchEmpty(t, h.scratch)
}

func TestHandleText_TimeoutIsCanceled(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", pipeline.WithLimits(config.LimitsConfig{RequestTimeout: 50 * time.Millisecond}))
	h.llm.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Достаточно длинный текст."})
	if !errors.Is(err, context.DeadlineExceeded) || pipeline.Kind(err) != pipeline.KindCanceled {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	// The notice goes out even though the request context is done.
	if texts := h.transport.Sent(mock.KindText); len(texts) != 1 {
		t.Errorf("notices = %d, want 1", len(texts))
	}
}

func TestHandleText_SettingsFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "unused")
	boom := errors.New("db down")
	store := &brokenStore{err: boom}
	orch, err := pipeline.New(store, translate.New(h.llm, translate.Options{}), deck.NewAssembler(speech.New(h.tts), deck.NewCSVPackager()), h.transport)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Достаточно длинный текст."})
	if !errors.Is(err, boom) || pipeline.Kind(err) != pipeline.KindSettings {
		t.Fatalf("err = %v, want settings failure", err)
	}
	if h.llm.CallCount() != 0 {
		t.Error("translator called without settings")
	}
}

type brokenStore struct{ err error }

func (b *brokenStore) Get(context.Context, string) (settings.Settings, error) {
	return settings.Settings{}, b.err
}

func (b *brokenStore) Set(context.Context, string, settings.Patch) (settings.Settings, error) {
	return settings.Settings{}, b.err
}

func (b *brokenStore) Reset(context.Context, string) error { return b.err }

// ─── Concurrency ────────────────────────────────────────────────────────────

func TestHandleText_SerializesPerSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	var active, peak atomic.Int32
	h.llm.CompleteFunc = func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return &llm.CompletionResponse{Content: "Γεια"}, nil
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Достаточно длинный текст."}); err != nil {
				t.Errorf("HandleText: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrent requests for one session = %d, want 1", peak.Load())
	}
	if n := len(h.transport.Sent(mock.KindVoice)); n != 5 {
		t.Errorf("voice replies = %d, want 5", n)
	}
	assertScratchEmpty(t, h.scratch)
}

func TestHandleText_SessionsRunConcurrently(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	h.llm.CompleteFunc = func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &llm.CompletionResponse{Content: "Γεια"}, nil
	}

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.orch.HandleText(context.Background(), pipeline.Input{SessionID: id, Text: "Достаточно длинный текст."})
		}()
	}

	timeout := time.After(2 * time.Second)
	for range 2 {
		select {
		case <-started:
		case <-timeout:
			close(release)
			wg.Wait()
			t.Fatal("second session did not start while the first was in flight")
		}
	}
	close(release)
	wg.Wait()

	if n := len(h.transport.Sent(mock.KindVoice)); n != 2 {
		t.Errorf("voice replies = %d, want 2", n)
	}
}

// ─── Commands ───────────────────────────────────────────────────────────────

func TestHandleCommand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "unused")
	ctx := context.Background()

	res, err := h.orch.HandleCommand(ctx, sessionID, pipeline.SetLanguage(settings.LanguageSerbian))
	if err != nil || res.Settings.Language != settings.LanguageSerbian {
		t.Fatalf("SetLanguage = %+v, %v", res.Settings, err)
	}

	res, err = h.orch.HandleCommand(ctx, sessionID, pipeline.Command{Kind: pipeline.CommandToggleMode})
	if err != nil || res.Settings.Mode != settings.ModeDeck {
		t.Fatalf("ToggleMode = %+v, %v", res.Settings, err)
	}
	if !strings.Contains(res.Text, "deck") {
		t.Errorf("summary = %q", res.Text)
	}

	_, err = h.orch.HandleCommand(ctx, sessionID, pipeline.SetLanguage("fr"))
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) || !errors.Is(err, settings.ErrInvalidValue) {
		t.Fatalf("SetLanguage(fr) err = %v, want ValidationError", err)
	}
	res, err = h.orch.HandleCommand(ctx, sessionID, pipeline.Command{Kind: pipeline.CommandShowSettings})
	if err != nil || res.Settings.Language != settings.LanguageSerbian {
		t.Errorf("invalid command changed settings: %+v, %v", res.Settings, err)
	}

	res, err = h.orch.HandleCommand(ctx, sessionID, pipeline.Command{Kind: pipeline.CommandStart})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := settings.DefaultCatalog().Defaults
	want.SessionID = sessionID
	if res.Settings != want {
		t.Errorf("after start = %+v, want defaults", res.Settings)
	}
	if !strings.Contains(res.Text, "/settings") {
		t.Errorf("welcome text lacks help: %q", res.Text)
	}

	res, err = h.orch.HandleCommand(ctx, sessionID, pipeline.Command{Kind: pipeline.CommandHelp})
	if err != nil || res.Text != pipeline.HelpText(h.orch.Limits()) {
		t.Errorf("Help = %q, %v", res.Text, err)
	}

	if _, err := h.orch.HandleCommand(ctx, sessionID, pipeline.Command{}); pipeline.Kind(err) != pipeline.KindInternal {
		t.Errorf("zero command err = %v, want internal", err)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := pipeline.New(nil, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"settings store", "translator", "assembler", "transport"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestSetLimits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "ok")
	h.orch.SetLimits(config.LimitsConfig{MinInputChars: 50})

	l := h.orch.Limits()
	if l.MinInputChars != 50 || l.MaxInputChars != config.DefaultLimits().MaxInputChars {
		t.Errorf("Limits() = %+v", l)
	}
	err := h.orch.HandleText(context.Background(), pipeline.Input{SessionID: sessionID, Text: "Короткий текст."})
	var ve *pipeline.ValidationError
	if !errors.As(err, &ve) || ve.Reason != "input_too_short" {
		t.Errorf("err = %v, want input_too_short under new limits", err)
	}
}
