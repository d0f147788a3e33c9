// Package app wires the essaydeck subsystems into a running bot.
//
// New builds the settings store, translator, synthesizer, deck assembler and
// pipeline orchestrator from the config; Apply pushes hot-reloaded config
// into them; Shutdown releases storage in order.
//
// For testing, inject doubles via functional options (WithSettingsBackend,
// WithTransport). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/essaydeck/internal/config"
	"github.com/MrWong99/essaydeck/internal/deck"
	"github.com/MrWong99/essaydeck/internal/health"
	"github.com/MrWong99/essaydeck/internal/observe"
	"github.com/MrWong99/essaydeck/internal/pipeline"
	"github.com/MrWong99/essaydeck/internal/settings"
	"github.com/MrWong99/essaydeck/internal/speech"
	"github.com/MrWong99/essaydeck/internal/translate"
	"github.com/MrWong99/essaydeck/pkg/provider/llm"
	"github.com/MrWong99/essaydeck/pkg/provider/tts"
)

// Providers holds the external services. Both are required. Populated by
// main.go via the config registry, usually wrapped in fallback groups.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
}

// App owns the lifetimes of all subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers

	backend    settings.Backend
	store      *settings.Store
	translator *translate.Translator
	assembler  *deck.Assembler
	transport  pipeline.Transport
	orch       *pipeline.Orchestrator
	metrics    *observe.Metrics
	hook       pipeline.Hook
	scratchDir string

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSettingsBackend injects a settings backend instead of opening the
// configured one. The caller keeps ownership and closes it.
func WithSettingsBackend(b settings.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithTransport sets the chat transport results are delivered through.
func WithTransport(t pipeline.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithHook registers a pipeline state transition hook.
func WithHook(h pipeline.Hook) Option {
	return func(a *App) { a.hook = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. A transport must be
// supplied with [WithTransport].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers == nil || providers.LLM == nil || providers.TTS == nil {
		return nil, errors.New("app: llm and tts providers are required")
	}
	if a.transport == nil {
		return nil, errors.New("app: transport is required")
	}

	// ── 1. Settings ──────────────────────────────────────────────────────
	if err := a.initSettings(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init settings: %w", err)
	}

	// ── 2. Translation + speech + assembly ───────────────────────────────
	a.translator = translate.New(providers.LLM, translateOptions(cfg.Translation), translate.WithMetrics(a.metrics))
	synth := speech.New(providers.TTS, speech.WithMetrics(a.metrics))
	a.assembler = deck.NewAssembler(synth, newPackager(cfg.Deck), deck.WithMetrics(a.metrics))

	// ── 3. Scratch space ─────────────────────────────────────────────────
	a.scratchDir = cfg.Deck.ScratchDir
	if a.scratchDir == "" {
		a.scratchDir = os.TempDir()
	}
	if err := os.MkdirAll(a.scratchDir, 0o700); err != nil {
		a.close()
		return nil, fmt.Errorf("app: create scratch dir: %w", err)
	}

	// ── 4. Orchestrator ──────────────────────────────────────────────────
	popts := []pipeline.Option{
		pipeline.WithLimits(cfg.Limits),
		pipeline.WithScratchDir(a.scratchDir),
		pipeline.WithMetrics(a.metrics),
	}
	if a.hook != nil {
		popts = append(popts, pipeline.WithHook(a.hook))
	}
	orch, err := pipeline.New(a.store, a.translator, a.assembler, a.transport, popts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.orch = orch

	slog.Info("app ready",
		"store", storeName(cfg.Store.Backend),
		"deck_format", cfg.Deck.Format,
		"languages", len(a.store.Catalog().Languages),
		"scratch_dir", a.scratchDir,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initSettings(ctx context.Context) error {
	catalog, err := a.cfg.Catalog()
	if err != nil {
		return err
	}

	if a.backend == nil {
		switch a.cfg.Store.Backend {
		case config.StoreBadger:
			b, err := settings.OpenBadger(settings.BadgerOptions{Dir: a.cfg.Store.Path})
			if err != nil {
				return err
			}
			a.backend = b
			a.closers = append(a.closers, b.Close)
		case config.StorePostgres:
			b, err := settings.OpenPostgres(ctx, a.cfg.Store.PostgresDSN)
			if err != nil {
				return err
			}
			a.backend = b
			a.closers = append(a.closers, b.Close)
		default:
			a.backend = settings.NewMemoryBackend()
		}
	}

	a.store = settings.NewStore(a.backend, catalog)
	return nil
}

func translateOptions(tc config.TranslationConfig) translate.Options {
	temp := tc.Temperature
	if temp == 0 {
		temp = translate.DefaultTemperature
	}
	return translate.Options{Temperature: temp, MaxTokens: tc.MaxTokens, Extended: tc.ExtendedPrompting}
}

func newPackager(dc config.DeckConfig) deck.Packager {
	if dc.Format == config.DeckFormatCSV {
		return deck.NewCSVPackager()
	}
	return deck.NewAPKGPackager(dc.Tag)
}

func storeName(b config.StoreBackend) string {
	if b == "" {
		return string(config.StoreMemory)
	}
	return string(b)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the message pipeline.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orch }

// Store returns the settings store.
func (a *App) Store() *settings.Store { return a.store }

// Checkers returns the readiness checks for the subsystems the App owns.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		health.Ping("settings", a.store),
		health.WritableDir("scratch", a.scratchDir),
	}
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Apply pushes the reloadable parts of next into the running subsystems.
// Sections that need a restart are logged and otherwise ignored. An invalid
// catalog leaves the current one in place.
func (a *App) Apply(d config.ConfigDiff, next *config.Config) error {
	var errs []error
	if d.LimitsChanged {
		a.orch.SetLimits(d.NewLimits)
		slog.Info("limits updated", "limits", d.NewLimits)
	}
	if d.TranslationChanged {
		a.translator.SetOptions(translateOptions(next.Translation))
		slog.Info("translation options updated")
	}
	if d.CatalogChanged {
		catalog, err := next.Catalog()
		if err != nil {
			errs = append(errs, fmt.Errorf("app: reload catalog: %w", err))
		} else {
			a.store.SetCatalog(catalog)
			slog.Info("settings catalog updated", "languages", len(catalog.Languages), "voices", len(catalog.Voices))
		}
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config section changed, restart required to apply", "section", section)
	}
	a.cfg = next
	return errors.Join(errs...)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close runs the closers of a partially built App.
func (a *App) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
