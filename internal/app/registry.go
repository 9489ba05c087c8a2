package app

import (
	"errors"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/gerontovoice/speechkit/internal/config"
	"github.com/gerontovoice/speechkit/internal/conversation"
	"github.com/gerontovoice/speechkit/internal/conversation/anyllm"
	openaiconv "github.com/gerontovoice/speechkit/internal/conversation/openai"
	"github.com/gerontovoice/speechkit/pkg/audio/player"
	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
	"github.com/gerontovoice/speechkit/pkg/engine/recognition/deepgram"
	"github.com/gerontovoice/speechkit/pkg/engine/recognition/whisper"
	"github.com/gerontovoice/speechkit/pkg/engine/synthesis"
	"github.com/gerontovoice/speechkit/pkg/engine/synthesis/elevenlabs"
)

// DefaultRegistry returns a registry with every built-in engine registered:
//
//   - recognition: "deepgram" (cloud streaming), "whisper" (local model)
//   - synthesis:   "elevenlabs" (played through the system audio device)
//   - conversation: "ollama", "mistral", "openai", "scripted"
//
// Callers can register additional implementations on the returned registry
// before passing it to [New] via [WithRegistry].
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()

	r.RegisterRecognition("deepgram", func(e config.EngineEntry) (recognition.Engine, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if lang, ok := stringOption(e.Options, "language"); ok {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if rate, ok := intOption(e.Options, "sample_rate"); ok {
			opts = append(opts, deepgram.WithSampleRate(rate))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	r.RegisterRecognition("whisper", func(e config.EngineEntry) (recognition.Engine, error) {
		var opts []whisper.Option
		if lang, ok := stringOption(e.Options, "language"); ok {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rate, ok := intOption(e.Options, "sample_rate"); ok {
			opts = append(opts, whisper.WithSampleRate(rate))
		}
		// For whisper the model field is the ggml model file path.
		return whisper.New(e.Model, opts...)
	})

	r.RegisterSynthesis("elevenlabs", func(e config.EngineEntry) (synthesis.Engine, error) {
		// Validate credentials before opening the audio device; player.New
		// blocks until the device is ready.
		if e.APIKey == "" {
			return nil, errors.New("elevenlabs: api_key is required")
		}
		sink, err := player.New()
		if err != nil {
			return nil, err
		}
		opts := []elevenlabs.Option{}
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if id, ok := stringOption(e.Options, "voice_id"); ok {
			opts = append(opts, elevenlabs.WithVoiceID(id))
		}
		if f, ok := stringOption(e.Options, "output_format"); ok {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		eng, err := elevenlabs.New(e.APIKey, sink, opts...)
		if err != nil {
			sink.Stop()
			return nil, err
		}
		return &playedSynthesis{Engine: eng, sink: sink}, nil
	})

	r.RegisterConversation("ollama", func(e config.EngineEntry) (conversation.Service, error) {
		return anyllm.NewOllama(e.Model, anyllmOptions(e)...)
	})
	r.RegisterConversation("mistral", func(e config.EngineEntry) (conversation.Service, error) {
		return anyllm.New("mistral", e.Model, anyllmOptions(e)...)
	})
	r.RegisterConversation("openai", func(e config.EngineEntry) (conversation.Service, error) {
		var opts []openaiconv.Option
		if e.BaseURL != "" {
			opts = append(opts, openaiconv.WithBaseURL(e.BaseURL))
		}
		return openaiconv.New(e.APIKey, e.Model, opts...)
	})
	r.RegisterConversation("scripted", func(config.EngineEntry) (conversation.Service, error) {
		return conversation.NewScripted(), nil
	})

	return r
}

// playedSynthesis pairs the ElevenLabs engine with the audio device it plays
// through so Shutdown can release the device.
type playedSynthesis struct {
	*elevenlabs.Engine
	sink *player.Player
}

func (p *playedSynthesis) Close() error {
	p.sink.Stop()
	return nil
}

func anyllmOptions(e config.EngineEntry) []anyllmlib.Option {
	var opts []anyllmlib.Option
	if e.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
	}
	if e.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
	}
	return opts
}

// stringOption reads a string value from an engine options map.
func stringOption(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok && v != ""
}

// intOption reads an integer value from an engine options map. YAML decodes
// whole numbers as int, but float64 is accepted for robustness.
func intOption(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
