package settings_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/essaydeck/internal/settings"
)

func newStore(t *testing.T) (*settings.Store, *settings.MemoryBackend) {
	t.Helper()
	backend := settings.NewMemoryBackend()
	return settings.NewStore(backend, settings.DefaultCatalog()), backend
}

func TestStore_GetCreatesDefaultsLazily(t *testing.T) {
	t.Parallel()
	store, backend := newStore(t)
	ctx := context.Background()

	if backend.Len() != 0 {
		t.Fatalf("backend not empty before first Get")
	}
	got, err := store.Get(ctx, "chan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := settings.DefaultCatalog().Defaults
	want.SessionID = "chan-1"
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if backend.Len() != 1 {
		t.Errorf("backend records = %d, want 1 after lazy creation", backend.Len())
	}
}

func TestStore_SetMergesPartialPatch(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	if _, err := store.Set(ctx, "s", settings.Patch{Language: ptr(settings.LanguageDutch)}); err != nil {
		t.Fatalf("Set language: %v", err)
	}
	if _, err := store.Set(ctx, "s", settings.Patch{Mode: ptr(settings.ModeDeck)}); err != nil {
		t.Fatalf("Set mode: %v", err)
	}

	got, err := store.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Language != settings.LanguageDutch || got.Mode != settings.ModeDeck {
		t.Errorf("Get() = %+v, want nl/deck", got)
	}
	if got.Voice != settings.DefaultCatalog().Defaults.Voice {
		t.Errorf("voice changed by unrelated patch: %q", got.Voice)
	}
}

func TestStore_SetRejectsInvalidWithoutWriting(t *testing.T) {
	t.Parallel()
	store, backend := newStore(t)
	ctx := context.Background()

	_, err := store.Set(ctx, "s", settings.Patch{Mode: ptr(settings.Mode("poem"))})
	if !errors.Is(err, settings.ErrInvalidValue) {
		t.Fatalf("Set err = %v, want ErrInvalidValue", err)
	}
	if backend.Len() != 0 {
		t.Errorf("invalid patch was persisted")
	}
}

func TestStore_GetHealsCorruptRecord(t *testing.T) {
	t.Parallel()
	store, backend := newStore(t)
	ctx := context.Background()

	_ = backend.Save(ctx, "s", settings.Fields{"language": "klingon", "mode": "deck"})

	got, err := store.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Language != settings.LanguageGreek || got.Mode != settings.ModeDeck {
		t.Errorf("Get() = %+v, want healed language and kept mode", got)
	}
	f, _, _ := backend.Load(ctx, "s")
	if f["language"] != "gr" || f["voice"] != "onyx" {
		t.Errorf("healed record not written back: %v", f)
	}
}

func TestStore_ResetRecreatesDefaults(t *testing.T) {
	t.Parallel()
	store, backend := newStore(t)
	ctx := context.Background()

	if _, err := store.Set(ctx, "s", settings.Patch{Language: ptr(settings.LanguageEnglish)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Reset(ctx, "s"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if backend.Len() != 0 {
		t.Errorf("Reset left %d records", backend.Len())
	}
	got, err := store.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Language != settings.LanguageGreek {
		t.Errorf("language after reset = %q, want gr", got.Language)
	}
}

func TestStore_SetCatalogHealsOnNextRead(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	ctx := context.Background()

	if _, err := store.Set(ctx, "s", settings.Patch{Language: ptr(settings.LanguageSerbian)}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	narrow, err := settings.NewCatalog(
		[]settings.Language{settings.LanguageEnglish},
		settings.DefaultVoices,
		settings.Settings{Language: settings.LanguageEnglish, Mode: settings.ModeChat, Voice: "onyx"},
	)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	store.SetCatalog(narrow)

	got, err := store.Get(ctx, "s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Language != settings.LanguageEnglish {
		t.Errorf("language = %q, want en after catalog narrowed", got.Language)
	}
}

type failingBackend struct {
	settings.MemoryBackend
	err error
}

func (f *failingBackend) Save(context.Context, string, settings.Fields) error { return f.err }

func TestStore_SaveErrorIsWrapped(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk full")
	store := settings.NewStore(&failingBackend{err: boom}, settings.DefaultCatalog())

	_, err := store.Get(context.Background(), "s")
	if !errors.Is(err, boom) {
		t.Errorf("Get err = %v, want wrapped %v", err, boom)
	}
}

func TestStore_ConcurrentSessions(t *testing.T) {
	t.Parallel()
	store, backend := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("s-%d", i%5)
			if _, err := store.Get(ctx, id); err != nil {
				t.Errorf("Get: %v", err)
			}
			if _, err := store.Set(ctx, id, settings.Patch{Mode: ptr(settings.ModeDeck)}); err != nil {
				t.Errorf("Set: %v", err)
			}
		}()
	}
	wg.Wait()

	if backend.Len() != 5 {
		t.Errorf("records = %d, want 5", backend.Len())
	}
	for i := range 5 {
		got, _ := store.Get(ctx, fmt.Sprintf("s-%d", i))
		if got.Mode != settings.ModeDeck {
			t.Errorf("s-%d mode = %q, want deck", i, got.Mode)
		}
	}
}

// stallingBackend parks every Save for one session until release is closed.
type stallingBackend struct {
	*settings.MemoryBackend
	session string
	entered chan struct{}
	release chan struct{}
}

func (b *stallingBackend) Save(ctx context.Context, sessionID string, f settings.Fields) error {
	if sessionID == b.session {
		close(b.entered)
		<-b.release
	}
	return b.MemoryBackend.Save(ctx, sessionID, f)
}

func TestStore_SlowSessionDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		op   func(ctx context.Context, s *settings.Store) error
	}{
		{"get creates", func(ctx context.Context, s *settings.Store) error {
			_, err := s.Get(ctx, "fast")
			return err
		}},
		{"set", func(ctx context.Context, s *settings.Store) error {
			_, err := s.Set(ctx, "fast", settings.Patch{Mode: ptr(settings.ModeDeck)})
			return err
		}},
		{"reset", func(ctx context.Context, s *settings.Store) error {
			return s.Reset(ctx, "fast")
		}},
		{"catalog swap", func(_ context.Context, s *settings.Store) error {
			s.SetCatalog(settings.DefaultCatalog())
			return nil
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			backend := &stallingBackend{
				MemoryBackend: settings.NewMemoryBackend(),
				session:       "slow",
				entered:       make(chan struct{}),
				release:       make(chan struct{}),
			}
			store := settings.NewStore(backend, settings.DefaultCatalog())

			slowDone := make(chan error, 1)
			go func() {
				_, err := store.Set(context.Background(), "slow", settings.Patch{Mode: ptr(settings.ModeDeck)})
				slowDone <- err
			}()
			<-backend.entered

			done := make(chan error, 1)
			go func() { done <- tc.op(context.Background(), store) }()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("op: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("operation on another session waited for the stalled save")
			}

			close(backend.release)
			if err := <-slowDone; err != nil {
				t.Errorf("slow Set: %v", err)
			}
		})
	}
}
