package config

import "github.com/gerontovoice/speechkit/pkg/speech"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; engine changes are
// flagged so the server can log that a restart is required.
type ConfigDiff struct {
	// VoiceChanged is true if any field of the voice block changed.
	// NewSettings holds the merged settings to push to running sessions.
	VoiceChanged bool
	NewSettings  speech.Settings

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EnginesChanged is true if any engine selection or credential changed.
	// Engines are constructed at startup, so this cannot be hot-applied.
	EnginesChanged bool

	// HistoryChanged is true if the history store DSN changed. Like engines,
	// the store is wired at startup.
	HistoryChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// VoiceConfig uses pointer fields for the booleans, so compare the merged
	// settings instead of the structs (fresh loads allocate fresh pointers).
	if old.Voice.Settings() != new.Voice.Settings() {
		d.VoiceChanged = true
		d.NewSettings = new.Voice.Settings()
	}

	if !engineEntryEqual(old.Engines.Recognition, new.Engines.Recognition) ||
		!engineEntryEqual(old.Engines.Synthesis, new.Engines.Synthesis) ||
		!engineEntryEqual(old.Engines.Conversation, new.Engines.Conversation) {
		d.EnginesChanged = true
	}

	if old.History != new.History {
		d.HistoryChanged = true
	}

	return d
}

// engineEntryEqual compares two engine entries including their option maps.
// EngineEntry contains a map, so it is not directly comparable.
func engineEntryEqual(a, b EngineEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Fallback != b.Fallback {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		if bv, ok := b.Options[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
