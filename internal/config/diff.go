package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (providers, store, Discord credentials) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LimitsChanged bool
	NewLimits     LimitsConfig

	// CatalogChanged is true when languages, voices, or session defaults changed.
	CatalogChanged bool

	TranslationChanged bool

	// RestartRequired lists the sections that changed but are only read at startup.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Limits.WithDefaults() != new.Limits.WithDefaults() {
		d.LimitsChanged = true
		d.NewLimits = new.Limits.WithDefaults()
	}

	if old.Defaults != new.Defaults ||
		!slices.Equal(old.Languages, new.Languages) ||
		!slices.Equal(old.Voices, new.Voices) {
		d.CatalogChanged = true
	}

	if old.Translation != new.Translation {
		d.TranslationChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Discord != new.Discord {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Deck != new.Deck {
		d.RestartRequired = append(d.RestartRequired, "deck")
	}

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && entryEqual(a.TTS, b.TTS) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual) &&
		slices.EqualFunc(a.TTSFallbacks, b.TTSFallbacks, entryEqual)
}

// entryEqual ignores Options, which are not comparable.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
