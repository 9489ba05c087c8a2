package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidEngineNames lists known engine names per pipeline stage.
// Used by [Validate] to warn about unrecognised engine names.
var ValidEngineNames = map[string][]string{
	"recognition":  {"deepgram", "whisper"},
	"synthesis":    {"elevenlabs"},
	"conversation": {"ollama", "mistral", "openai", "scripted"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Engine name validation, warnings only: an unknown name may be a
	// third-party registration.
	validateEngineName("recognition", cfg.Engines.Recognition.Name)
	validateEngineName("recognition", cfg.Engines.Recognition.Fallback)
	validateEngineName("synthesis", cfg.Engines.Synthesis.Name)
	validateEngineName("synthesis", cfg.Engines.Synthesis.Fallback)
	validateEngineName("conversation", cfg.Engines.Conversation.Name)
	validateEngineName("conversation", cfg.Engines.Conversation.Fallback)

	if cfg.Engines.Recognition.Name == "" {
		slog.Warn("engines.recognition is not configured; speech input will be unsupported")
	}
	if cfg.Engines.Synthesis.Name == "" {
		slog.Warn("engines.synthesis is not configured; speech output will be unsupported")
	}
	if cfg.Engines.Conversation.Name == "" {
		slog.Warn("engines.conversation is not configured; persona replies fall back to the scripted service")
	}

	// Voice defaults must produce valid settings after merging.
	if err := cfg.Voice.Settings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("voice: %w", err))
	}

	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; session history will be kept in memory only")
	}

	return errors.Join(errs...)
}

// validateEngineName logs a warning if name is non-empty and not found in
// the [ValidEngineNames] list for the given stage.
func validateEngineName(stage, name string) {
	if name == "" {
		return
	}
	known, ok := ValidEngineNames[stage]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown engine name, may be a typo or third-party registration",
		"stage", stage,
		"name", name,
		"known", known,
	)
}
