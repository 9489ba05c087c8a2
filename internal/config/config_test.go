package config_test

import (
	"errors"
	"testing"

	"github.com/gerontovoice/speechkit/internal/config"
	"github.com/gerontovoice/speechkit/internal/conversation"
	convmock "github.com/gerontovoice/speechkit/internal/conversation/mock"
	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
	recmock "github.com/gerontovoice/speechkit/pkg/engine/recognition/mock"
	"github.com/gerontovoice/speechkit/pkg/engine/synthesis"
	synmock "github.com/gerontovoice/speechkit/pkg/engine/synthesis/mock"
	"github.com/gerontovoice/speechkit/pkg/speech"
)

func TestRegistry_UnknownRecognition(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateRecognition(config.EngineEntry{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown recognition engine")
	}
	if !errors.Is(err, config.ErrEngineNotRegistered) {
		t.Errorf("expected ErrEngineNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownSynthesis(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateSynthesis(config.EngineEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrEngineNotRegistered) {
		t.Errorf("expected ErrEngineNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownConversation(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateConversation(config.EngineEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrEngineNotRegistered) {
		t.Errorf("expected ErrEngineNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredRecognition(t *testing.T) {
	reg := config.NewRegistry()
	want := &recmock.Engine{}
	reg.RegisterRecognition("stub", func(e config.EngineEntry) (recognition.Engine, error) {
		return want, nil
	})
	got, err := reg.CreateRecognition(config.EngineEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned engine is not the expected instance")
	}
}

func TestRegistry_RegisteredSynthesis(t *testing.T) {
	reg := config.NewRegistry()
	want := &synmock.Engine{}
	reg.RegisterSynthesis("stub", func(e config.EngineEntry) (synthesis.Engine, error) {
		return want, nil
	})
	got, err := reg.CreateSynthesis(config.EngineEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned engine is not the expected instance")
	}
}

func TestRegistry_RegisteredConversation(t *testing.T) {
	reg := config.NewRegistry()
	want := &convmock.Service{}
	reg.RegisterConversation("stub", func(e config.EngineEntry) (conversation.Service, error) {
		return want, nil
	})
	got, err := reg.CreateConversation(config.EngineEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned service is not the expected instance")
	}
}

func TestRegistry_FactoryReceivesEntry(t *testing.T) {
	reg := config.NewRegistry()
	var seen config.EngineEntry
	reg.RegisterRecognition("deepgram", func(e config.EngineEntry) (recognition.Engine, error) {
		seen = e
		return &recmock.Engine{}, nil
	})
	entry := config.EngineEntry{Name: "deepgram", APIKey: "dg-test", Model: "nova-3"}
	if _, err := reg.CreateRecognition(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen.APIKey != "dg-test" || seen.Model != "nova-3" {
		t.Errorf("factory received %+v, want the original entry", seen)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterSynthesis("broken", func(e config.EngineEntry) (synthesis.Engine, error) {
		return nil, wantErr
	})
	_, err := reg.CreateSynthesis(config.EngineEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestVoiceConfig_SettingsDefaults(t *testing.T) {
	var v config.VoiceConfig
	if got, want := v.Settings(), speech.DefaultSettings(); got != want {
		t.Errorf("empty voice block should produce defaults, got %+v", got)
	}
}

func TestVoiceConfig_SettingsOverrides(t *testing.T) {
	f := false
	v := config.VoiceConfig{
		Language:       "en-GB",
		Rate:           1.2,
		InterimResults: &f,
	}
	s := v.Settings()
	if s.Language != "en-GB" {
		t.Errorf("language = %q, want en-GB", s.Language)
	}
	if s.Rate != 1.2 {
		t.Errorf("rate = %v, want 1.2", s.Rate)
	}
	if s.InterimResults {
		t.Error("interim_results: explicit false should override the default")
	}
	if !s.NoiseReduction {
		t.Error("noise_reduction should keep its default when unset")
	}
}
