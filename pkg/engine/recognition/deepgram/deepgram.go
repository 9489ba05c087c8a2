// Package deepgram provides a Deepgram-backed recognition engine using the
// Deepgram streaming WebSocket API. It implements the recognition.Engine
// interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// Endpointing silence windows in milliseconds. The elderly-optimized
	// value tolerates the longer mid-sentence pauses typical of slow
	// speakers before an utterance is finalized.
	defaultEndpointingMs = 300
	elderlyEndpointingMs = 800
)

// Option is a functional option for configuring the Deepgram Engine.
type Option func(*Engine)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(e *Engine) { e.language = language }
}

// WithSampleRate sets the engine-level default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(e *Engine) { e.sampleRate = rate }
}

// Engine implements recognition.Engine backed by the Deepgram streaming API.
type Engine struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Engine. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	e := &Engine{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Start opens a streaming recognition session with Deepgram. It respects
// cfg.Language, cfg.SampleRate, cfg.Channels, cfg.InterimResults,
// cfg.MaxAlternatives, and maps cfg.ElderlyOptimized onto a longer
// endpointing window.
func (e *Engine) Start(ctx context.Context, cfg recognition.Config) (recognition.Session, error) {
	wsURL, err := e.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:    conn,
		results: make(chan recognition.Event, 64),
		faults:  make(chan recognition.Fault, 8),
		audio:   make(chan []byte, 256),
		done:    make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the config.
func (e *Engine) buildURL(cfg recognition.Config) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = e.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = e.sampleRate
	}
	maxAlts := cfg.MaxAlternatives
	if maxAlts < 1 {
		maxAlts = 1
	}
	endpointing := defaultEndpointingMs
	if cfg.ElderlyOptimized {
		endpointing = elderlyEndpointingMs
	}

	q := u.Query()
	q.Set("model", e.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("alternatives", strconv.Itoa(maxAlts))
	q.Set("endpointing", strconv.Itoa(endpointing))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results
// event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements
// recognition.Session.
type session struct {
	conn    *websocket.Conn
	results chan recognition.Event
	faults  chan recognition.Fault
	audio   chan []byte

	done     chan struct{}
	stopOnce sync.Once
	once     sync.Once
	wg       sync.WaitGroup
}

var errSessionClosed = errors.New("deepgram: session is closed")

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// Results returns the channel of recognition events.
func (s *session) Results() <-chan recognition.Event { return s.results }

// Faults returns the channel of engine-level errors.
func (s *session) Faults() <-chan recognition.Fault { return s.faults }

// SetConfig is not supported mid-stream by the Deepgram API; the new
// configuration takes effect on the next session.
func (s *session) SetConfig(recognition.Config) error {
	return errors.New("deepgram: mid-session configuration updates are not supported")
}

// Stop asks Deepgram to flush pending audio and finalize. The server then
// delivers any remaining results and closes the stream, which ends the
// session through the read loop.
func (s *session) Stop() {
	s.stopOnce.Do(func() {
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
	})
}

// Close aborts the session, discarding pending audio and results.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		s.wg.Wait()
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them as
// recognition events. It owns the results channel and closes it on exit.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.results)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.dispatchReadError(ctx, err)
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}

		alts := make([]recognition.Alternative, 0, len(resp.Channel.Alternatives))
		for _, a := range resp.Channel.Alternatives {
			alts = append(alts, recognition.Alternative{
				Transcript: a.Transcript,
				Confidence: a.Confidence,
			})
		}
		// Deepgram delivers one utterance view per message, so every event
		// carries a single candidate starting at index 0.
		ev := recognition.Event{
			Results: []recognition.Candidate{{Final: resp.IsFinal, Alternatives: alts}},
		}
		select {
		case s.results <- ev:
		case <-s.done:
			return
		}
	}
}

// dispatchReadError maps a read failure onto an engine fault. A normal
// closure (after Stop) and a deliberate Close end the session silently.
func (s *session) dispatchReadError(ctx context.Context, err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return
	}

	code := recognition.CodeNetwork
	if ctx.Err() != nil {
		code = recognition.CodeAborted
	}
	select {
	case s.faults <- recognition.Fault{Code: code, Message: err.Error()}:
	default:
	}
}
