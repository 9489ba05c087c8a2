// Package whisper provides a local recognition engine backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a) and
// headers (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// Whisper is not a streaming recognizer, so each session buffers PCM audio,
// detects end-of-speech with an energy-based silence window, and runs
// inference on the accumulated buffer. Confidence is derived from the mean
// token probability of the decoded segments.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
)

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// Silence windows (ms) that trigger a flush of the speech buffer. The
	// elderly-optimized window tolerates longer mid-sentence pauses.
	defaultSilenceMs = 500
	elderlySilenceMs = 900

	// maxBufferMs forces a flush so a long monologue cannot grow the buffer
	// unboundedly.
	maxBufferMs = 10_000

	bitsPerSample = 16

	// fallbackConfidence is reported when the decoder yields no token
	// probabilities.
	fallbackConfidence = 0.8
)

// Compile-time assertion that Engine satisfies recognition.Engine.
var _ recognition.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the default transcription language (e.g., "en", "de").
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithSampleRate sets the expected PCM sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(e *Engine) { e.sampleRate = rate }
}

// Engine implements recognition.Engine on the whisper.cpp Go bindings.
// The model is loaded once and shared across all sessions.
type Engine struct {
	model      whisperlib.Model
	language   string
	sampleRate int
}

// New creates an Engine that loads the whisper.cpp model from the given file
// path. The caller must call Close when the engine is no longer needed.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	e := &Engine{
		model:      model,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Close releases the whisper model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Start opens a new recognition session. Each session creates its own
// whisper.cpp context per inference, so multiple sessions can run
// concurrently against the shared model.
func (e *Engine) Start(ctx context.Context, cfg recognition.Config) (recognition.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := shortLang(cfg.Language)
	if lang == "" {
		lang = e.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = e.sampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}
	silenceMs := defaultSilenceMs
	if cfg.ElderlyOptimized {
		silenceMs = elderlySilenceMs
	}

	s := &session{
		model:      e.model,
		language:   lang,
		sampleRate: sr,
		channels:   ch,
		silenceMs:  silenceMs,
		interim:    cfg.InterimResults,
		continuous: cfg.Continuous,

		audioCh: make(chan []byte, 256),
		results: make(chan recognition.Event, 64),
		faults:  make(chan recognition.Fault, 8),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// shortLang reduces a BCP-47 tag to the base language whisper.cpp expects
// ("en-US" -> "en").
func shortLang(tag string) string {
	return strings.SplitN(tag, "-", 2)[0]
}

// ---- session ----------------------------------------------------------------

// session is a live whisper transcription session. All mutable state driving
// silence detection and buffering is confined to the processLoop goroutine.
type session struct {
	model      whisperlib.Model
	language   string
	sampleRate int
	channels   int
	silenceMs  int
	interim    bool
	continuous bool

	audioCh chan []byte
	results chan recognition.Event
	faults  chan recognition.Fault

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

var errSessionClosed = errors.New("whisper: session is closed")

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM audio for
// silence analysis and buffering.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	case <-s.stopCh:
		return errSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// Results returns the channel of recognition events.
func (s *session) Results() <-chan recognition.Event { return s.results }

// Faults returns the channel of engine-level errors.
func (s *session) Faults() <-chan recognition.Fault { return s.faults }

// SetConfig cannot retune a whisper context mid-session.
func (s *session) SetConfig(recognition.Config) error {
	return errors.New("whisper: mid-session configuration updates are not supported")
}

// Stop requests a graceful end: buffered speech is flushed through one last
// inference and the results channel closes.
func (s *session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Close aborts the session and waits for the inference goroutine to exit.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop is the single goroutine responsible for silence detection,
// audio buffering, and inference dispatch. It owns the results channel.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	var (
		buffer    []byte
		hadSpeech bool
		silence   int
	)

	bytesPerMs := s.sampleRate * s.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := maxBufferMs * bytesPerMs

	// flush runs inference on the accumulated speech buffer and emits a
	// final event. Returns false when the session should end (non-continuous
	// mode after the first final result).
	flush := func() bool {
		pcm := buffer
		spoke := hadSpeech
		buffer = nil
		hadSpeech = false
		silence = 0

		if len(pcm) == 0 || !spoke {
			return true
		}

		text, confidence, err := s.infer(pcm)
		if err != nil {
			slog.Error("whisper inference failed", "error", err)
			s.fault(recognition.Fault{Code: recognition.CodeAudioCapture, Message: err.Error()})
			return true
		}
		if text == "" {
			return true
		}

		alt := recognition.Alternative{Transcript: text, Confidence: confidence}
		if s.interim {
			s.emit(recognition.Event{Results: []recognition.Candidate{
				{Final: false, Alternatives: []recognition.Alternative{alt}},
			}})
		}
		s.emit(recognition.Event{Results: []recognition.Candidate{
			{Final: true, Alternatives: []recognition.Alternative{alt}},
		}})
		return s.continuous
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-s.done:
			return

		case <-s.stopCh:
			flush()
			return

		case chunk := <-s.audioCh:
			rms := computeRMS(chunk)
			chunkMs := chunkDurationMs(chunk, s.sampleRate, s.channels)

			if rms < rmsThreshold {
				if hadSpeech {
					silence += chunkMs
					buffer = append(buffer, chunk...)
					if silence >= s.silenceMs {
						if !flush() {
							return
						}
					}
				}
			} else {
				hadSpeech = true
				silence = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					if !flush() {
						return
					}
				}
			}
		}
	}
}

// emit delivers an event unless the session is being torn down.
func (s *session) emit(ev recognition.Event) {
	select {
	case s.results <- ev:
	case <-s.done:
	}
}

// fault delivers an engine fault without blocking.
func (s *session) fault(f recognition.Fault) {
	select {
	case s.faults <- f:
	default:
	}
}

// infer converts buffered PCM to float32, runs whisper.cpp inference on a
// fresh context, and returns the concatenated text plus the mean token
// probability as a confidence estimate.
func (s *session) infer(pcm []byte) (string, float64, error) {
	samples := pcmToFloat32Mono(pcm, s.channels)

	// Each whisper context is single-use per goroutine; the model itself is
	// shareable.
	wctx, err := s.model.NewContext()
	if err != nil {
		return "", 0, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", s.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", 0, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts      []string
		probSum    float64
		tokenCount int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			probSum += float64(tok.P)
			tokenCount++
		}
	}

	confidence := fallbackConfidence
	if tokenCount > 0 {
		confidence = probSum / float64(tokenCount)
	}
	return strings.Join(parts, " "), confidence, nil
}

// Compile-time assertion that session satisfies recognition.Session.
var _ recognition.Session = (*session)(nil)
