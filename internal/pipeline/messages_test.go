package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/essaydeck/internal/deck"
	"github.com/MrWong99/essaydeck/internal/observe"
	"github.com/MrWong99/essaydeck/internal/speech"
	"github.com/MrWong99/essaydeck/internal/translate"
)

func TestFailureText(t *testing.T) {
	t.Parallel()

	traced := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:  trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
	}))

	tests := []struct {
		name string
		err  error
		ctx  context.Context
		want string
	}{
		{"validation message shown", validationTooShort(10), traced, "The text is too short. Send at least 10 characters."},
		{"generic without span", errors.New("x"), context.Background(), msgFailure},
		{"reference from trace id", errors.New("x"), traced, msgFailure + "\nReference: 4bf92f35"},
		{"wrapped internal error", fmt.Errorf("deliver: %w", errors.New("x")), traced, msgFailure + "\nReference: 4bf92f35"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := failureText(tc.err, observe.Reference(tc.ctx))
			if got != tc.want {
				t.Errorf("failureText() = %q, want %q", got, tc.want)
			}
			if ref := observe.Reference(tc.ctx); ref != "" && !strings.HasPrefix(observe.CorrelationID(tc.ctx), ref) {
				t.Errorf("reference %q is not a prefix of the trace id %q", ref, observe.CorrelationID(tc.ctx))
			}
		})
	}
}

func TestDeckCaption(t *testing.T) {
	t.Parallel()
	pkg := &deck.Package{Name: "Заголовок", Rows: []deck.Row{
		{Original: "Первый", Translated: "Πρώτο"},
		{Original: "Второй", Translated: "Δεύτερο"},
	}}
	want := "**Заголовок**\n*Первый* | Πρώτο\n*Второй* | Δεύτερο"
	if got := deckCaption(pkg); got != want {
		t.Errorf("deckCaption() = %q, want %q", got, want)
	}

	for i := range 200 {
		pkg.Rows = append(pkg.Rows, deck.Row{Original: fmt.Sprintf("строка %d", i), Translated: "γραμμή"})
	}
	got := deckCaption(pkg)
	if n := utf8.RuneCountInString(got); n != MaxCaptionRunes {
		t.Errorf("caption length = %d runes, want %d", n, MaxCaptionRunes)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated caption lacks ellipsis")
	}
}

func TestKind(t *testing.T) {
	t.Parallel()

	synth := fmt.Errorf("%w: phrase 2 of 3: %w", deck.ErrAssembly, fmt.Errorf("%w: boom", speech.ErrFailed))
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{validationTooLong(5), KindValidation},
		{fmt.Errorf("%w: %w", translate.ErrFailed, context.DeadlineExceeded), KindCanceled},
		{fmt.Errorf("%w: 500", translate.ErrFailed), KindTranslation},
		{synth, KindSynthesis},
		{fmt.Errorf("%w: zip", deck.ErrAssembly), KindAssembly},
		{fmt.Errorf("%w: %w", ErrDelivery, errors.New("403")), KindDelivery},
		{fmt.Errorf("%w: %w", ErrSettings, errors.New("db")), KindSettings},
		{errors.New("mystery"), KindInternal},
	}
	for _, tc := range tests {
		if got := Kind(tc.err); got != tc.want {
			t.Errorf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
