// Package speech implements the speech input/output manager for
// caregiver-training voice sessions.
//
// The Manager owns at most one active recognition session and one active
// synthesis request at a time. It is built against injected engine
// capabilities (see pkg/engine/recognition, pkg/engine/synthesis, and
// pkg/engine/capture) so that it can be driven by a cloud recognizer, a local
// whisper model, or test doubles interchangeably.
//
// The Manager performs confidence-based filtering, best-alternative
// substitution for low-confidence final results, duplicate suppression,
// silence and session timeouts, and bounded automatic retry with linear
// backoff. All acquired resources — the audio input stream and both timers —
// are released on every exit path.
//
// Results and errors are delivered on the Manager's internal event goroutine;
// callbacks must not block for long and must tolerate a late end notification
// after StopListening returns.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gerontovoice/speechkit/pkg/engine/capture"
	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
	"github.com/gerontovoice/speechkit/pkg/engine/synthesis"
)

const (
	// maxRetries bounds automatic restarts after recoverable faults.
	maxRetries = 3

	// retryBackoffUnit is multiplied by the attempt number for linear backoff.
	retryBackoffUnit = time.Second

	// silenceTimeout stops listening after this long without a recognition
	// event. A silence stop is a normal session close, not an error.
	silenceTimeout = 5 * time.Second

	// sessionTimeout is the hard ceiling on total listening duration.
	sessionTimeout = 30 * time.Second

	// captureSampleRate is the speech-optimized input sample rate in Hz.
	captureSampleRate = 16000

	// noiseReductionGain is the attenuation applied on the capture path when
	// noise reduction is enabled. The gain stage exists for basic
	// attenuation only; real suppression happens in the capture engine.
	noiseReductionGain = 0.85

	// pumpChunkBytes is the read size of the capture pump: 100 ms of 16-bit
	// mono PCM at captureSampleRate.
	pumpChunkBytes = captureSampleRate / 10 * 2
)

// State is the Manager's listening lifecycle state.
type State int

const (
	// StateIdle means no listening session exists.
	StateIdle State = iota

	// StateAcquiring means a session is being set up (audio stream, engine start).
	StateAcquiring

	// StateListening means the recognizer is running and events are flowing.
	StateListening

	// StateStopping means a stop was requested and the engine is shutting down.
	StateStopping
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ResultFunc receives recognition results.
type ResultFunc func(Result)

// ErrorFunc receives surfaced speech errors.
type ErrorFunc func(*Error)

// EndFunc is notified when a listening session closes normally.
type EndFunc func()

// Manager is the speech input/output manager. Create one with [New].
// All methods are safe for concurrent use, but only one Manager should be
// active against a given physical microphone at a time — that invariant is
// the caller's to enforce.
type Manager struct {
	recog recognition.Engine
	synth synthesis.Engine
	capt  capture.Engine
	clock clockwork.Clock

	mu         sync.Mutex
	settings   Settings
	state      State
	listening  bool
	retryCount int
	retryTimer clockwork.Timer
	sess       *session
	gen        int
}

// session is the per-start state of one listening session. A fresh value is
// constructed on every start (including internal retry restarts) and
// discarded on every exit path, so no state leaks across sessions.
type session struct {
	gen int

	onResult ResultFunc
	onError  ErrorFunc
	onEnd    EndFunc

	handle recognition.Session
	stream capture.Stream

	silenceTimer clockwork.Timer
	sessionTimer clockwork.Timer

	// lastFinal is the most recently emitted final transcript. An interim
	// that repeats it is suppressed; finals always emit. lastInterim catches
	// back-to-back identical interim events from the engine.
	lastFinal   string
	lastInterim string

	streamOnce sync.Once
}

// releaseStream closes the capture stream, if any. Safe to call repeatedly.
func (s *session) releaseStream() {
	if s.stream == nil {
		return
	}
	s.streamOnce.Do(func() {
		if err := s.stream.Close(); err != nil {
			slog.Debug("speech: closing audio stream", "error", err)
		}
	})
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithCapture supplies a microphone capture engine for the noise-reduction
// path. Without one, noise reduction is silently skipped.
func WithCapture(c capture.Engine) Option {
	return func(m *Manager) { m.capt = c }
}

// WithSettings overrides the initial settings. Invalid settings are rejected
// lazily: StartListening and Speak use them as-is; validate with
// [Settings.Validate] before passing if rejection is needed.
func WithSettings(s Settings) Option {
	return func(m *Manager) { m.settings = s }
}

// WithClock injects a clock for timer control in tests.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New creates a Manager against the given engines. Either engine may be nil
// to model an unsupported capability: a nil recognition engine makes
// StartListening fail fast with a not-supported error, and a nil synthesis
// engine makes Speak return one.
func New(recog recognition.Engine, synth synthesis.Engine, opts ...Option) *Manager {
	m := &Manager{
		recog:    recog,
		synth:    synth,
		clock:    clockwork.NewRealClock(),
		settings: DefaultSettings(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// IsSupported reports whether a recognition engine is available.
func (m *Manager) IsSupported() bool {
	return m.recog != nil
}

// IsCurrentlyListening reports whether a listening session is active.
// Internal retry restarts do not flip this to false.
func (m *Manager) IsCurrentlyListening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

// GetRetryCount returns the number of automatic restarts performed for the
// current (or most recent) listening session.
func (m *Manager) GetRetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// GetSettings returns a snapshot of the current settings.
func (m *Manager) GetSettings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// UpdateSettings merges the patch into the current settings. If a session is
// active, the recognizer-facing fields (language, alternatives, continuous,
// interim results) are pushed onto the live session on a best-effort basis;
// everything else takes effect on the next start.
func (m *Manager) UpdateSettings(p Patch) {
	m.mu.Lock()
	m.settings = p.Apply(m.settings)
	settings := m.settings
	s := m.sess
	m.mu.Unlock()

	if s == nil {
		return
	}
	err := s.handle.SetConfig(recognition.Config{
		Language:         settings.Language,
		Continuous:       settings.Continuous,
		InterimResults:   settings.InterimResults,
		MaxAlternatives:  settings.MaxAlternatives,
		SampleRate:       captureSampleRate,
		Channels:         1,
		ElderlyOptimized: settings.ElderlyOptimized,
	})
	if err != nil {
		slog.Debug("speech: live settings update not applied", "error", err)
	}
}

// Speak synthesizes text using the current settings and blocks until playback
// completes. Any in-flight synthesis is cancelled first. Synthesis failures
// are returned to the caller without retry.
func (m *Manager) Speak(ctx context.Context, text string) error {
	if m.synth == nil {
		return newError(KindNotSupported, "speech synthesis is not available")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("speech: text must not be empty")
	}

	m.mu.Lock()
	settings := m.settings
	m.mu.Unlock()

	m.synth.Cancel()

	u := synthesis.Utterance{
		Text:     text,
		Language: settings.Language,
		Rate:     settings.Rate,
		Pitch:    settings.Pitch,
		Volume:   settings.Volume,
	}
	u.VoiceID = m.pickVoice(ctx, settings.Language)

	if err := m.synth.Speak(ctx, u); err != nil {
		return fmt.Errorf("speech: synthesis: %w", err)
	}
	return nil
}

// pickVoice selects a voice matching the configured language, preferring
// natural or female voices for the elderly-persona use case. Returns an empty
// ID (engine default) when no suitable voice is found or the catalogue is
// unavailable.
func (m *Manager) pickVoice(ctx context.Context, language string) string {
	voices, err := m.synth.Voices(ctx)
	if err != nil {
		slog.Debug("speech: voice catalogue unavailable, using default voice", "error", err)
		return ""
	}

	langBase := strings.SplitN(language, "-", 2)[0]
	matches := func(v synthesis.Voice) bool {
		return v.Language == language || strings.SplitN(v.Language, "-", 2)[0] == langBase
	}

	var fallback string
	for _, v := range voices {
		if !matches(v) {
			continue
		}
		name := strings.ToLower(v.Name)
		if strings.Contains(name, "natural") || strings.Contains(name, "female") {
			return v.ID
		}
		if fallback == "" {
			fallback = v.ID
		}
	}
	return fallback
}

// StartListening begins a listening session. If the recognition capability is
// unavailable, onError is invoked synchronously with a not-supported error
// and no session is created. If a session is already active the call is an
// idempotent no-op (logged, no callback).
//
// Results, errors, and the optional end notification are delivered via the
// supplied callbacks. Recoverable engine faults are retried internally up to
// three times with linear backoff before surfacing through onError.
func (m *Manager) StartListening(onResult ResultFunc, onError ErrorFunc, onEnd EndFunc) {
	if m.recog == nil {
		slog.Warn("speech: recognition is not supported in this environment")
		if onError != nil {
			onError(newError(KindNotSupported, "no recognition engine is available"))
		}
		return
	}

	m.mu.Lock()
	if m.listening {
		slog.Warn("speech: start requested while already listening; ignoring")
		m.mu.Unlock()
		return
	}
	m.listening = true
	m.retryCount = 0
	m.mu.Unlock()

	m.startSession(onResult, onError, onEnd)
}

// StopListening ends the active session, if any. The listening flag flips
// immediately; the engine's own shutdown completes asynchronously and may
// still deliver a late end notification. Calling StopListening when not
// listening is a no-op.
func (m *Manager) StopListening() {
	m.mu.Lock()
	if !m.listening {
		m.mu.Unlock()
		return
	}
	m.listening = false
	m.state = StateStopping
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	s := m.sess
	if s != nil {
		m.clearTimersLocked(s)
	} else {
		// Stop arrived during acquisition; startSession will notice the
		// cleared flag and tear down whatever it acquired.
		m.state = StateIdle
	}
	m.mu.Unlock()

	if s != nil {
		s.handle.Stop()
		s.releaseStream()
	}
	slog.Debug("speech: stop requested")
}

// startSession runs the Acquiring phase and, on success, transitions to
// Listening. It is called both from StartListening and from the internal
// retry path; the retry path relies on it not resetting retryCount.
func (m *Manager) startSession(onResult ResultFunc, onError ErrorFunc, onEnd EndFunc) {
	m.mu.Lock()
	if !m.listening {
		m.mu.Unlock()
		return
	}
	m.state = StateAcquiring
	m.gen++
	gen := m.gen
	settings := m.settings
	m.mu.Unlock()

	// Noise-reduction path: failure to acquire the stream degrades
	// gracefully — recognition proceeds without it.
	var stream capture.Stream
	if settings.NoiseReduction && m.capt != nil {
		st, err := m.capt.Open(context.Background(), capture.Constraints{
			SampleRate:       captureSampleRate,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		})
		if err != nil {
			slog.Warn("speech: audio stream unavailable, continuing without noise reduction", "error", err)
		} else {
			stream = st
			stream.SetGain(noiseReductionGain)
		}
	}

	handle, err := m.recog.Start(context.Background(), recognition.Config{
		Language:         settings.Language,
		Continuous:       settings.Continuous,
		InterimResults:   settings.InterimResults,
		MaxAlternatives:  settings.MaxAlternatives,
		SampleRate:       captureSampleRate,
		Channels:         1,
		ElderlyOptimized: settings.ElderlyOptimized,
	})
	if err != nil {
		if stream != nil {
			_ = stream.Close()
		}
		slog.Error("speech: recognizer start failed", "error", err)
		m.retryOrSurface(onResult, onError, onEnd,
			newError(KindInitializationFailed, err.Error()))
		return
	}

	s := &session{
		gen:      gen,
		onResult: onResult,
		onError:  onError,
		onEnd:    onEnd,
		handle:   handle,
		stream:   stream,
	}

	m.mu.Lock()
	if !m.listening || m.gen != gen {
		// Stopped while acquiring: release everything we just grabbed.
		m.mu.Unlock()
		_ = handle.Close()
		s.releaseStream()
		return
	}
	m.sess = s
	m.state = StateListening
	s.silenceTimer = m.clock.AfterFunc(silenceTimeout, func() { m.timeoutStop(gen, "silence") })
	s.sessionTimer = m.clock.AfterFunc(sessionTimeout, func() { m.timeoutStop(gen, "session") })
	m.mu.Unlock()

	slog.Debug("speech: listening",
		"language", settings.Language,
		"continuous", settings.Continuous,
		"noise_reduction", stream != nil)

	if stream != nil {
		go m.pump(s)
	}
	go m.eventLoop(s)
}

// timeoutStop is the shared silence/session timeout path. Either timer firing
// results in a sanctioned programmatic stop, indistinguishable from a normal
// session close to the caller.
func (m *Manager) timeoutStop(gen int, reason string) {
	m.mu.Lock()
	stale := !m.listening || m.sess == nil || m.sess.gen != gen
	m.mu.Unlock()
	if stale {
		return
	}
	slog.Info("speech: stopping after timeout", "reason", reason)
	m.StopListening()
}

// pump copies PCM from the capture stream into the recognition session until
// either side closes.
func (m *Manager) pump(s *session) {
	buf := make([]byte, pumpChunkBytes)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if serr := s.handle.SendAudio(chunk); serr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// eventLoop consumes recognition events and faults for one session. It exits
// when the session ends (Results closes) or a fault tears the session down.
func (m *Manager) eventLoop(s *session) {
	results := s.handle.Results()
	faults := s.handle.Faults()
	for {
		select {
		case ev, ok := <-results:
			if !ok {
				m.finishSession(s)
				return
			}
			m.processEvent(s, ev)
		case f := <-faults:
			m.handleFault(s, f)
			return
		}
	}
}

// finishSession handles the natural end path: timers cleared, stream
// released, listening flag lowered, onEnd invoked. It also covers the end
// event that follows an explicit StopListening, so a late onEnd is expected.
func (m *Manager) finishSession(s *session) {
	m.mu.Lock()
	if m.sess == s {
		m.clearTimersLocked(s)
		m.sess = nil
		m.listening = false
		m.state = StateIdle
	}
	m.mu.Unlock()

	s.releaseStream()
	_ = s.handle.Close()
	if s.onEnd != nil {
		s.onEnd()
	}
}

// handleFault tears down the faulted session and either schedules an internal
// retry or surfaces the error. The aborted session's pending state is
// discarded entirely before any restart.
func (m *Manager) handleFault(s *session, f recognition.Fault) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	m.clearTimersLocked(s)
	m.sess = nil
	m.mu.Unlock()

	_ = s.handle.Close()
	s.releaseStream()

	m.retryOrSurface(s.onResult, s.onError, s.onEnd, faultError(f))
}

// retryOrSurface applies the retry policy to a mapped error: recoverable
// errors restart the session after a linear backoff (1s, 2s, 3s) until the
// retry budget is spent; everything else surfaces through onError.
func (m *Manager) retryOrSurface(onResult ResultFunc, onError ErrorFunc, onEnd EndFunc, serr *Error) {
	m.mu.Lock()
	if !m.listening {
		m.mu.Unlock()
		return
	}

	if serr.Recoverable && m.retryCount < maxRetries {
		m.retryCount++
		attempt := m.retryCount
		m.state = StateAcquiring
		m.retryTimer = m.clock.AfterFunc(time.Duration(attempt)*retryBackoffUnit, func() {
			m.mu.Lock()
			m.retryTimer = nil
			m.mu.Unlock()
			m.startSession(onResult, onError, onEnd)
		})
		m.mu.Unlock()
		slog.Warn("speech: recoverable error, restarting",
			"kind", serr.Kind,
			"attempt", attempt,
			"backoff", time.Duration(attempt)*retryBackoffUnit)
		return
	}

	m.listening = false
	m.state = StateIdle
	m.mu.Unlock()

	slog.Error("speech: recognition failed",
		"kind", serr.Kind,
		"recoverable", serr.Recoverable,
		"retries", m.GetRetryCount())
	if onError != nil {
		onError(serr)
	}
}

// processEvent implements result handling for a single recognition event:
// transcript accumulation, confidence tracking, threshold filtering for the
// quality list, best-alternative rescue for low-confidence finals, and
// duplicate suppression. Every processed event also resets the silence timer.
func (m *Manager) processEvent(s *session, ev recognition.Event) {
	m.mu.Lock()
	if m.sess != s || !m.listening {
		m.mu.Unlock()
		return
	}
	threshold := m.settings.ConfidenceThreshold
	gen := s.gen
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.silenceTimer = m.clock.AfterFunc(silenceTimeout, func() { m.timeoutStop(gen, "silence") })
	m.mu.Unlock()

	var (
		finalTranscript   string
		interimTranscript string
		finalConfidence   float64
		alternatives      []recognition.Alternative
	)

	start := ev.Index
	if start < 0 || start > len(ev.Results) {
		start = 0
	}
	for _, cand := range ev.Results[start:] {
		if len(cand.Alternatives) == 0 {
			continue
		}
		best := cand.Alternatives[0]
		if cand.Final {
			finalTranscript += best.Transcript
			if best.Confidence > finalConfidence {
				finalConfidence = best.Confidence
			}
		} else {
			interimTranscript += best.Transcript
		}
		alternatives = append(alternatives, cand.Alternatives...)
	}

	isFinal := finalTranscript != ""
	transcript := finalTranscript
	confidence := finalConfidence
	if !isFinal {
		transcript = interimTranscript
		for _, a := range alternatives {
			if a.Confidence > confidence {
				confidence = a.Confidence
			}
		}
	}
	if strings.TrimSpace(transcript) == "" {
		return
	}

	ranked := make([]recognition.Alternative, len(alternatives))
	copy(ranked, alternatives)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	// Rescue path: only final results are substituted; interim results are
	// provisional and get re-processed on the next event anyway.
	if isFinal && confidence < threshold && len(ranked) > 0 &&
		ranked[0].Transcript != "" && ranked[0].Transcript != transcript {
		slog.Debug("speech: substituting higher-confidence alternative",
			"primary", transcript,
			"alternative", ranked[0].Transcript,
			"confidence", ranked[0].Confidence)
		transcript = ranked[0].Transcript
		confidence = ranked[0].Confidence
	}

	// Threshold filter feeds the quality list only; emission is gated by raw
	// presence of text, never by confidence.
	qualified := make([]recognition.Alternative, 0, len(ranked))
	for _, a := range ranked {
		if a.Confidence >= threshold {
			qualified = append(qualified, a)
		}
	}

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	if !isFinal && (transcript == s.lastFinal || transcript == s.lastInterim) {
		m.mu.Unlock()
		return
	}
	if isFinal {
		s.lastFinal = transcript
		s.lastInterim = ""
	} else {
		s.lastInterim = transcript
	}
	m.mu.Unlock()

	if s.onResult != nil {
		s.onResult(Result{
			Transcript:   transcript,
			Confidence:   confidence,
			Alternatives: qualified,
			IsFinal:      isFinal,
			Timestamp:    m.clock.Now(),
		})
	}
}

// clearTimersLocked stops both session timers. Must be called with m.mu held.
func (m *Manager) clearTimersLocked(s *session) {
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	if s.sessionTimer != nil {
		s.sessionTimer.Stop()
		s.sessionTimer = nil
	}
}
