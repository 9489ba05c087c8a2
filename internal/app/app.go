// Package app wires all speechkit subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the engines, history
// store, and gateway from config, Run serves HTTP until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithRecognition, WithHistory, etc.). When an option is not provided, New
// creates real implementations through the engine registry.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gerontovoice/speechkit/internal/config"
	"github.com/gerontovoice/speechkit/internal/conversation"
	"github.com/gerontovoice/speechkit/internal/gateway"
	"github.com/gerontovoice/speechkit/internal/health"
	"github.com/gerontovoice/speechkit/internal/history"
	"github.com/gerontovoice/speechkit/internal/observe"
	"github.com/gerontovoice/speechkit/internal/resilience"
	"github.com/gerontovoice/speechkit/internal/transcript"
	"github.com/gerontovoice/speechkit/pkg/engine/capture"
	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
	"github.com/gerontovoice/speechkit/pkg/engine/synthesis"
	"github.com/gerontovoice/speechkit/pkg/speech"
)

// shutdownTimeout bounds graceful HTTP server shutdown when Run's context is
// cancelled.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the speechkit voice gateway.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	// Subsystems — initialised in New, torn down in Shutdown.
	recognizer  recognition.Engine
	synthesizer synthesis.Engine
	convo       conversation.Service
	store       history.Store
	corrector   *transcript.Corrector
	managers    *ManagerSet
	gateway     *gateway.Handler
	health      *health.Handler

	// level, when set, lets hot reloads adjust log verbosity.
	level *slog.LevelVar

	// voice holds the defaults applied to new sessions. Hot-reloadable.
	mu    sync.Mutex
	voice speech.Settings

	speakReplies bool

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces the default engine registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithRecognition injects a recognition engine instead of creating one from
// config.
func WithRecognition(e recognition.Engine) Option {
	return func(a *App) { a.recognizer = e }
}

// WithSynthesis injects a synthesis engine instead of creating one from config.
func WithSynthesis(e synthesis.Engine) Option {
	return func(a *App) { a.synthesizer = e }
}

// WithConversation injects a conversation service instead of creating one from
// config.
func WithConversation(s conversation.Service) Option {
	return func(a *App) { a.convo = s }
}

// WithHistory injects a history store instead of connecting to Postgres or
// falling back to the in-memory store.
func WithHistory(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLogLevelVar hands the App the level var behind the process logger so
// config hot reloads can adjust verbosity.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// New creates an App by wiring all subsystems together. Engines come from the
// registry keyed by the config's engine names; use Option functions to inject
// test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		managers: NewManagerSet(),
		voice:    cfg.Voice.Settings(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}

	// ── 1. Engines ───────────────────────────────────────────────────────
	if err := a.initEngines(); err != nil {
		return nil, fmt.Errorf("app: init engines: %w", err)
	}

	// ── 2. History store ─────────────────────────────────────────────────
	checkers, err := a.initHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 3. Transcript correction ─────────────────────────────────────────
	a.corrector = transcript.New(transcript.DefaultVocabulary())

	// ── 4. Gateway ───────────────────────────────────────────────────────
	gw, err := gateway.New(gateway.Config{
		NewManager:   a.newManager,
		Conversation: a.convo,
		History:      a.store,
		Corrector:    a.corrector,
		SpeakReplies: a.speakReplies,
		Track:        a.managers.Track,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}
	a.gateway = gw

	// ── 5. Health ────────────────────────────────────────────────────────
	a.health = health.New(checkers...)

	return a, nil
}

// initEngines builds the recognition, synthesis, and conversation backends
// from config, wrapping each in a circuit-breaker fallback chain when the
// config names a fallback.
func (a *App) initEngines() error {
	eng := a.cfg.Engines

	if a.recognizer == nil {
		if eng.Recognition.Name == "" {
			return errors.New("engines.recognition.name is required")
		}
		primary, err := a.registry.CreateRecognition(eng.Recognition)
		if err != nil {
			return err
		}
		a.trackCloser(primary)
		a.recognizer = primary

		if fb := eng.Recognition.Fallback; fb != "" {
			second, err := a.registry.CreateRecognition(fallbackEntry(eng.Recognition))
			if err != nil {
				return fmt.Errorf("recognition fallback %q: %w", fb, err)
			}
			a.trackCloser(second)
			group := resilience.NewRecognitionFallback(primary, eng.Recognition.Name, resilience.FallbackConfig{})
			group.AddFallback(fb, second)
			a.recognizer = group
		}
	}

	if a.synthesizer == nil && eng.Synthesis.Name != "" {
		primary, err := a.registry.CreateSynthesis(eng.Synthesis)
		if err != nil {
			return err
		}
		a.trackCloser(primary)
		a.speakReplies = true

		group := resilience.NewSynthesisFallback(primary, eng.Synthesis.Name, resilience.FallbackConfig{})
		if fb := eng.Synthesis.Fallback; fb != "" {
			second, err := a.registry.CreateSynthesis(fallbackEntry(eng.Synthesis))
			if err != nil {
				return fmt.Errorf("synthesis fallback %q: %w", fb, err)
			}
			a.trackCloser(second)
			group.AddFallback(fb, second)
		}
		// Terminal fallback: conversation continues text-only rather than
		// failing the turn when every synthesis backend is down.
		group.AddFallback("silent", silentSynthesis{})
		a.synthesizer = group
	}
	// A nil synthesizer is fine: the Manager reports Speak as not supported
	// and sessions run text-only.

	if a.convo == nil {
		entry := eng.Conversation
		if entry.Name == "" {
			entry.Name = "scripted"
		}
		primary, err := a.registry.CreateConversation(entry)
		if err != nil {
			return err
		}
		a.trackCloser(primary)
		a.convo = primary

		// Scripted replies are the terminal fallback so a persona always
		// answers, even with every LLM backend down.
		if entry.Name != "scripted" {
			group := resilience.NewConversationFallback(primary, entry.Name, resilience.FallbackConfig{})
			if fb := entry.Fallback; fb != "" && fb != "scripted" {
				second, err := a.registry.CreateConversation(fallbackEntry(entry))
				if err != nil {
					return fmt.Errorf("conversation fallback %q: %w", fb, err)
				}
				a.trackCloser(second)
				group.AddFallback(fb, second)
			}
			group.AddFallback("scripted", conversation.NewScripted())
			a.convo = group
		}
	}

	return nil
}

// fallbackEntry derives the config block for a named fallback engine. The
// fallback shares the primary's credentials and options; a "fallback_model"
// option overrides the model (e.g. a local whisper model path behind a cloud
// primary).
func fallbackEntry(e config.EngineEntry) config.EngineEntry {
	model, _ := stringOption(e.Options, "fallback_model")
	return config.EngineEntry{
		Name:    e.Fallback,
		APIKey:  e.APIKey,
		BaseURL: e.BaseURL,
		Model:   model,
		Options: e.Options,
	}
}

// initHistory connects the configured store and returns readiness checkers.
func (a *App) initHistory(ctx context.Context) ([]health.Checker, error) {
	if a.store != nil {
		return nil, nil
	}

	dsn := a.cfg.History.PostgresDSN
	if dsn == "" {
		slog.Info("history: no postgres_dsn configured, using in-memory store")
		a.store = history.NewMemStore()
		return nil, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := history.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return []health.Checker{health.PingChecker("history", pool)}, nil
}

// trackCloser registers v's Close method for Shutdown when it has one.
func (a *App) trackCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// newManager builds the per-connection speech Manager for the gateway.
func (a *App) newManager(capt capture.Engine) *speech.Manager {
	a.mu.Lock()
	voice := a.voice
	a.mu.Unlock()
	return speech.New(a.recognizer, a.synthesizer,
		speech.WithCapture(capt),
		speech.WithSettings(voice),
	)
}

// ApplyDiff reacts to a config hot reload. Voice defaults are pushed to every
// open connection and applied to new ones; log level changes take effect
// immediately; engine and history changes require a restart and are only
// logged.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		a.mu.Lock()
		a.voice = d.NewSettings
		a.mu.Unlock()
		a.managers.Broadcast(settingsPatch(d.NewSettings))
		slog.Info("voice defaults updated", "live_sessions", a.managers.Len())
	}
	if d.EnginesChanged {
		slog.Warn("engine configuration changed, restart to apply")
	}
	if d.HistoryChanged {
		slog.Warn("history configuration changed, restart to apply")
	}
}

// settingsPatch converts full settings into a patch that overwrites every
// field of a live session.
func settingsPatch(s speech.Settings) speech.Patch {
	return speech.Patch{
		Language:            &s.Language,
		Rate:                &s.Rate,
		Pitch:               &s.Pitch,
		Volume:              &s.Volume,
		ConfidenceThreshold: &s.ConfidenceThreshold,
		MaxAlternatives:     &s.MaxAlternatives,
		InterimResults:      &s.InterimResults,
		Continuous:          &s.Continuous,
		NoiseReduction:      &s.NoiseReduction,
		ElderlyOptimized:    &s.ElderlyOptimized,
	}
}

// Handler returns the HTTP routes: the websocket gateway, health probes,
// Prometheus metrics, personas, and history queries.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", a.gateway)
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /personas", a.servePersonas)
	mux.HandleFunc("GET /sessions", a.serveSessions)
	mux.HandleFunc("GET /sessions/{id}/exchanges", a.serveExchanges)
	return observe.Middleware(observe.DefaultMetrics())(mux)
}

func (a *App) servePersonas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, conversation.Personas())
}

func (a *App) serveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.store.ListSessions(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		http.Error(w, "list sessions failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *App) serveExchanges(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "get session failed", http.StatusInternalServerError)
		return
	}
	exchanges, err := a.store.Exchanges(r.Context(), id)
	if err != nil {
		http.Error(w, "list exchanges failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, exchanges)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write json response", "err", err)
	}
}

// Run serves HTTP until ctx is cancelled, then shuts the server down
// gracefully and returns ctx's error.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tc := a.cfg.Server.TLS; tc != nil {
			err = srv.ListenAndServeTLS(tc.CertFile, tc.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	slog.Info("server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	<-errCh
	return ctx.Err()
}

// silentSynthesis discards utterances. It sits at the end of the synthesis
// fallback chain so a dead synthesis backend degrades to text-only replies
// instead of erroring every turn.
type silentSynthesis struct{}

func (silentSynthesis) Speak(context.Context, synthesis.Utterance) error { return nil }

func (silentSynthesis) Voices(context.Context) ([]synthesis.Voice, error) { return nil, nil }

func (silentSynthesis) Cancel() {}

var _ synthesis.Engine = silentSynthesis{}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
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
