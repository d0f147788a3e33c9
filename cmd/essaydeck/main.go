// Command essaydeck runs the essay translation and flashcard deck bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/essaydeck/internal/app"
	"github.com/MrWong99/essaydeck/internal/config"
	discordbot "github.com/MrWong99/essaydeck/internal/discord"
	"github.com/MrWong99/essaydeck/internal/discord/commands"
	"github.com/MrWong99/essaydeck/internal/health"
	"github.com/MrWong99/essaydeck/internal/observe"
	"github.com/MrWong99/essaydeck/internal/pipeline"
	"github.com/MrWong99/essaydeck/internal/resilience"
	"github.com/MrWong99/essaydeck/pkg/provider/llm"
	"github.com/MrWong99/essaydeck/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/essaydeck/pkg/provider/llm/openai"
	"github.com/MrWong99/essaydeck/pkg/provider/tts"
	"github.com/MrWong99/essaydeck/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/essaydeck/pkg/provider/tts/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "essaydeck: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "essaydeck: %v\n", err)
		}
		return 1
	}
	if cfg.Discord.Token == "" {
		fmt.Fprintln(os.Stderr, "essaydeck: discord.token is required")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("essaydeck starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.NewTelemetry(ctx, deployment(cfg))
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	tel.Install()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Discord ───────────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	defer func() {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers,
		app.WithTransport(bot.Transport()),
		app.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	orch := application.Orchestrator()
	store := application.Store()
	commands.NewSettingsCommands(orch, store.Catalog).Register(bot.Router())
	bot.OnMessage(func(ctx context.Context, m discordbot.Message) {
		in := pipeline.Input{SessionID: m.ChannelID, MessageID: m.MessageID, Text: m.Text}
		if err := orch.HandleText(ctx, in); err != nil {
			slog.Debug("message not delivered", "channel", m.ChannelID, "kind", pipeline.Kind(err))
		}
	})

	warnUnknownVoices(ctx, providers.TTS, cfg.Voices)
	printStartupSummary(cfg)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		d := config.Diff(old, next)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if err := application.Apply(d, next); err != nil {
			slog.Warn("config reload partially applied", "err", err)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })

	if cfg.Server.ListenAddr != "" {
		checkers := append(application.Checkers(), health.Ping("discord", bot))
		mux := http.NewServeMux()
		health.New(checkers...).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	slog.Info("bot ready, press Ctrl+C to shut down")

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMProviders are the LLM backends served through any-llm-go. They share
// the same pattern: optional APIKey + optional BaseURL.
var anyLLMProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, oallm.WithMaxRetries(n))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oatts.WithTimeout(d))
		}
		if n, ok := optInt(entry.Options, "max_retries"); ok {
			opts = append(opts, oatts.WithMaxRetries(n))
		}
		if s, ok := optFloat(entry.Options, "speed"); ok {
			opts = append(opts, oatts.WithSpeed(s))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "tts"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the configured providers and wraps each kind in
// a fallback group so a failing backend fails over to the next one.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	fbCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  3,
				ResetTimeout: time.Minute,
			},
			OnFailure: func(provider string, err error) {
				metrics.RecordProviderError(context.Background(), provider, kind)
				slog.Warn("provider attempt failed", "kind", kind, "provider", provider, "err", err)
			},
		}
	}

	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	llmGroup := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, fbCfg("llm"))
	for i, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %d (%q): %w", i, entry.Name, err)
		}
		llmGroup.AddFallback(entry.Name, p)
	}
	slog.Info("provider created", "kind", "llm", "chain", llmGroup.Providers())

	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ttsGroup := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, fbCfg("tts"))
	for i, entry := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %d (%q): %w", i, entry.Name, err)
		}
		ttsGroup.AddFallback(entry.Name, p)
	}
	slog.Info("provider created", "kind", "tts", "chain", ttsGroup.Providers())

	return &app.Providers{LLM: llmGroup, TTS: ttsGroup}, nil
}

// warnUnknownVoices logs configured voices the primary speech provider does
// not offer. Providers that cannot list voices are skipped.
func warnUnknownVoices(ctx context.Context, p tts.Provider, voices []string) {
	lister, ok := p.(tts.VoiceLister)
	if !ok || len(voices) == 0 {
		return
	}
	lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	offered, err := lister.ListVoices(lctx)
	if err != nil {
		slog.Debug("could not list voices", "err", err)
		return
	}
	known := make(map[string]bool, len(offered))
	for _, v := range offered {
		known[v.ID] = true
		known[v.Name] = true
	}
	for _, v := range voices {
		if !known[v] {
			slog.Warn("configured voice not offered by speech provider", "voice", v)
		}
	}
}

// deployment describes cfg for the telemetry resource.
func deployment(cfg *config.Config) observe.Deployment {
	return observe.Deployment{
		Version:         version,
		LLMProvider:     cfg.Providers.LLM.Name,
		TTSProvider:     cfg.Providers.TTS.Name,
		SettingsBackend: storeBackend(cfg),
		DeckFormat:      deckFormat(cfg),
	}
}

func storeBackend(cfg *config.Config) string {
	if cfg.Store.Backend == "" {
		return string(config.StoreMemory)
	}
	return string(cfg.Store.Backend)
}

func deckFormat(cfg *config.Config) string {
	if cfg.Deck.Format == "" {
		return string(config.DeckFormatAPKG)
	}
	return string(cfg.Deck.Format)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        essaydeck: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	fmt.Printf("║  Fallbacks       : %-19s ║\n", fmt.Sprintf("%d llm, %d tts", len(cfg.Providers.LLMFallbacks), len(cfg.Providers.TTSFallbacks)))
	fmt.Printf("║  Settings store  : %-19s ║\n", storeBackend(cfg))
	fmt.Printf("║  Deck format     : %-19s ║\n", deckFormat(cfg))
	if cfg.Discord.GuildID != "" {
		fmt.Printf("║  Commands        : %-19s ║\n", "guild "+truncate(cfg.Discord.GuildID, 13))
	} else {
		fmt.Printf("║  Commands        : %-19s ║\n", "global")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value, 19))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt accepts YAML integers and whole floats.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), v == float64(int(v))
	}
	return 0, false
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// optDuration parses a duration string such as "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
