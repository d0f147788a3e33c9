package translate_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/essaydeck/internal/settings"
	"github.com/MrWong99/essaydeck/internal/translate"
	"github.com/MrWong99/essaydeck/pkg/provider/llm"
	llmmock "github.com/MrWong99/essaydeck/pkg/provider/llm/mock"
)

func greekDeck() settings.Settings {
	s := settings.DefaultCatalog().Defaults
	s.SessionID = "s"
	s.Mode = settings.ModeDeck
	return s
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()
	chat := settings.DefaultCatalog().Defaults
	dutch := chat
	dutch.Language = settings.LanguageDutch

	tests := []struct {
		name     string
		s        settings.Settings
		extended bool
		want     []string
		notWant  []string
	}{
		{
			name:    "chat",
			s:       chat,
			want:    []string{"standard modern Greek", "Here is the text to translate:\nМой текст"},
			notWant: []string{";", "(tone:", "title"},
		},
		{
			name:     "chat extended asks for tone",
			s:        chat,
			extended: true,
			want:     []string{"(tone: <hint>)"},
		},
		{
			name: "deck has title and worked example",
			s:    greekDeck(),
			want: []string{
				"title",
				"original passage;translated passage\n",
				"Это текст для перевода;Αυτό είναι το κείμενο για μετάφραση\n",
				"Текст для перевода\n",
			},
			notWant: []string{"how to read it aloud"},
		},
		{
			name:     "deck extended adds third column",
			s:        greekDeck(),
			extended: true,
			want:     []string{"original passage;translated passage;how to read it aloud", ";neutral, explanatory\n"},
		},
		{
			name: "language name follows settings",
			s:    dutch,
			want: []string{"standard modern Dutch"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := translate.BuildPrompt("Мой текст", tc.s, tc.extended)
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Errorf("prompt missing %q:\n%s", w, got)
				}
			}
			for _, nw := range tc.notWant {
				if strings.Contains(got, nw) {
					t.Errorf("prompt unexpectedly contains %q:\n%s", nw, got)
				}
			}
			if !strings.HasSuffix(got, "Мой текст") {
				t.Error("prompt should end with the user text")
			}
		})
	}
}

func TestTranslate_SendsSinglePrompt(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Γεια σου κόσμε"}}
	tr := translate.New(p, translate.Options{MaxTokens: 256})

	got, err := tr.Translate(context.Background(), "Привет, мир", greekDeck())
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Γεια σου κόσμε" {
		t.Errorf("reply = %q", got)
	}
	if p.CallCount() != 1 {
		t.Fatalf("calls = %d, want 1", p.CallCount())
	}
	req := p.CompleteCalls[0].Req
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
		t.Errorf("messages = %+v, want one user message", req.Messages)
	}
	if req.Temperature != translate.DefaultTemperature || req.MaxTokens != 256 {
		t.Errorf("temperature=%v max_tokens=%d", req.Temperature, req.MaxTokens)
	}
}

func TestTranslate_Failures(t *testing.T) {
	t.Parallel()
	boom := errors.New("rate limited")
	tests := []struct {
		name string
		p    *llmmock.Provider
	}{
		{"provider error", &llmmock.Provider{CompleteErr: boom}},
		{"nil response", &llmmock.Provider{}},
		{"blank reply", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " \n "}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := translate.New(tc.p, translate.Options{}).Translate(context.Background(), "текст", greekDeck())
			if !errors.Is(err, translate.ErrFailed) {
				t.Errorf("err = %v, want ErrFailed", err)
			}
			if tc.p.CallCount() != 1 {
				t.Errorf("calls = %d, want exactly 1 (no retry)", tc.p.CallCount())
			}
		})
	}
}

func TestTranslate_ProviderErrorIsKept(t *testing.T) {
	t.Parallel()
	_, err := translate.New(&llmmock.Provider{CompleteErr: context.DeadlineExceeded}, translate.Options{}).
		Translate(context.Background(), "текст", greekDeck())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want wrapped deadline", err)
	}
}

func TestSetOptions(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "x"}}
	tr := translate.New(p, translate.Options{})
	tr.SetOptions(translate.Options{Temperature: 0.3, Extended: true})

	if _, err := tr.Translate(context.Background(), "текст", greekDeck()); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	req := p.CompleteCalls[0].Req
	if req.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", req.Temperature)
	}
	if !strings.Contains(req.Messages[0].Content, "how to read it aloud") {
		t.Error("extended prompting not applied")
	}
	if !tr.Options().Extended {
		t.Error("Options() does not reflect update")
	}
}
