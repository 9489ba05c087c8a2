package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gerontovoice/speechkit/internal/app"
	"github.com/gerontovoice/speechkit/internal/config"
	"github.com/gerontovoice/speechkit/internal/conversation"
	"github.com/gerontovoice/speechkit/internal/history"
	recmock "github.com/gerontovoice/speechkit/pkg/engine/recognition/mock"
	synmock "github.com/gerontovoice/speechkit/pkg/engine/synthesis/mock"
	"github.com/gerontovoice/speechkit/pkg/speech"
)

// testConfig returns a minimal config for tests. Engines are expected to be
// injected via options.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Voice: config.VoiceConfig{
			Language: "en-US",
		},
	}
}

// newTestApp builds an App with mock engines and an in-memory store.
func newTestApp(t *testing.T, cfg *config.Config, extra ...app.Option) *app.App {
	t.Helper()
	opts := append([]app.Option{
		app.WithRecognition(&recmock.Engine{}),
		app.WithSynthesis(&synmock.Engine{}),
		app.WithConversation(conversation.NewScripted()),
		app.WithHistory(history.NewMemStore()),
	}, extra...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNew_WithInjectedSubsystems(t *testing.T) {
	a := newTestApp(t, testConfig())
	if a.Handler() == nil {
		t.Fatal("Handler returned nil")
	}
}

func TestNew_RequiresRecognitionEngine(t *testing.T) {
	cfg := testConfig()
	_, err := app.New(context.Background(), cfg,
		app.WithConversation(conversation.NewScripted()),
		app.WithHistory(history.NewMemStore()),
	)
	if err == nil {
		t.Fatal("expected error when no recognition engine is configured")
	}
}

func TestNew_UnknownEngineName(t *testing.T) {
	cfg := testConfig()
	cfg.Engines.Recognition = config.EngineEntry{Name: "nonexistent"}
	_, err := app.New(context.Background(), cfg,
		app.WithHistory(history.NewMemStore()),
	)
	if !errors.Is(err, config.ErrEngineNotRegistered) {
		t.Fatalf("err = %v, want ErrEngineNotRegistered", err)
	}
}

func TestHandler_Healthz(t *testing.T) {
	a := newTestApp(t, testConfig())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandler_Personas(t *testing.T) {
	a := newTestApp(t, testConfig())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/personas")
	if err != nil {
		t.Fatalf("GET /personas: %v", err)
	}
	defer resp.Body.Close()

	var personas []conversation.Persona
	if err := json.NewDecoder(resp.Body).Decode(&personas); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(personas) == 0 {
		t.Fatal("no personas returned")
	}
	ids := make(map[string]bool, len(personas))
	for _, p := range personas {
		ids[p.ID] = true
	}
	if !ids["margaret"] {
		t.Error("margaret persona missing")
	}
}

func TestHandler_SessionsAndExchanges(t *testing.T) {
	store := history.NewMemStore()
	started := time.Now().UTC()
	if err := store.CreateSession(context.Background(), history.Session{
		ID: "s-1", UserID: "u-1", PersonaID: "robert", StartedAt: started,
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := store.AppendExchange(context.Background(), history.Exchange{
		SessionID: "s-1", Speaker: "user", Text: "hello", SpokenAt: started,
	}); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	a := newTestApp(t, testConfig(), app.WithHistory(store))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions?user_id=u-1")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	var sessions []history.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	resp.Body.Close()
	if len(sessions) != 1 || sessions[0].ID != "s-1" {
		t.Fatalf("sessions = %+v, want one session s-1", sessions)
	}

	resp, err = http.Get(srv.URL + "/sessions/s-1/exchanges")
	if err != nil {
		t.Fatalf("GET exchanges: %v", err)
	}
	var exchanges []history.Exchange
	if err := json.NewDecoder(resp.Body).Decode(&exchanges); err != nil {
		t.Fatalf("decode exchanges: %v", err)
	}
	resp.Body.Close()
	if len(exchanges) != 1 || exchanges[0].Text != "hello" {
		t.Fatalf("exchanges = %+v, want one exchange", exchanges)
	}

	resp, err = http.Get(srv.URL + "/sessions/missing/exchanges")
	if err != nil {
		t.Fatalf("GET missing exchanges: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", resp.StatusCode)
	}
}

func TestApplyDiff_LogLevel(t *testing.T) {
	var level slog.LevelVar
	a := newTestApp(t, testConfig(), app.WithLogLevelVar(&level))

	a.ApplyDiff(config.ConfigDiff{
		LogLevelChanged: true,
		NewLogLevel:     config.LogDebug,
	})
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
}

func TestApplyDiff_EngineChangeOnlyLogs(t *testing.T) {
	a := newTestApp(t, testConfig())

	// Engine and history changes require a restart; ApplyDiff must not
	// panic or rebuild anything.
	a.ApplyDiff(config.ConfigDiff{EnginesChanged: true, HistoryChanged: true})
}

func TestApplyDiff_VoiceChanged(t *testing.T) {
	a := newTestApp(t, testConfig())

	settings := speech.DefaultSettings()
	settings.Language = "de-DE"
	a.ApplyDiff(config.ConfigDiff{VoiceChanged: true, NewSettings: settings})
	// New connections pick up the updated defaults; broadcast to live
	// sessions is covered by the ManagerSet tests.
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	a := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to come up, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a := newTestApp(t, testConfig())

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
