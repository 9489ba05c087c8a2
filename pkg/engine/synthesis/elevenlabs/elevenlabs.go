// Package elevenlabs provides an ElevenLabs-backed synthesis engine using the
// ElevenLabs streaming WebSocket API. It implements the synthesis.Engine
// interface.
//
// Synthesized PCM is delivered to a Sink as it streams in, so playback starts
// before the full utterance has been generated.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/gerontovoice/speechkit/pkg/engine/synthesis"
)

const (
	wsEndpointFmt  = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	voicesEndpoint = "https://api.elevenlabs.io/v1/voices"

	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
	defaultVoiceID   = "21m00Tcm4TlvDq8ikWAM" // Rachel, a warm premade voice
)

// Sink consumes raw 16-bit little-endian PCM audio. Write blocks until the
// chunk has been accepted for playback; Flush blocks until everything written
// so far has been heard.
type Sink interface {
	Write(ctx context.Context, pcm []byte) error
	Flush(ctx context.Context) error
}

// Option is a functional option for configuring the ElevenLabs Engine.
type Option func(*Engine)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(e *Engine) { e.outputFormat = format }
}

// WithVoiceID sets the voice used when an utterance does not name one.
func WithVoiceID(id string) Option {
	return func(e *Engine) { e.voiceID = id }
}

// Engine implements synthesis.Engine backed by the ElevenLabs streaming API.
type Engine struct {
	apiKey       string
	model        string
	outputFormat string
	voiceID      string
	sink         Sink
	httpClient   *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the in-flight Speak, nil when idle
}

// Compile-time assertion that Engine satisfies synthesis.Engine.
var _ synthesis.Engine = (*Engine)(nil)

// New creates a new ElevenLabs Engine that plays synthesized audio through
// sink. apiKey and sink must be non-nil.
func New(apiKey string, sink Sink, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if sink == nil {
		return nil, errors.New("elevenlabs: sink must not be nil")
	}
	e := &Engine{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		voiceID:      defaultVoiceID,
		sink:         sink,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object. Speed carries
// the utterance rate; ElevenLabs has no pitch control, so pitch is applied
// nowhere and volume is applied as a gain on the decoded PCM.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text acts as the flush command.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// settingsFor maps an utterance onto ElevenLabs voice settings. The elevated
// stability suits the measured delivery expected of a care-companion voice.
func settingsFor(u synthesis.Utterance) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if u.Rate > 0 {
		vs.Speed = clampSpeed(u.Rate)
	}
	return vs
}

// clampSpeed confines a rate multiplier to the range ElevenLabs accepts.
func clampSpeed(rate float64) float64 {
	const minSpeed, maxSpeed = 0.7, 1.2
	if rate < minSpeed {
		return minSpeed
	}
	if rate > maxSpeed {
		return maxSpeed
	}
	return rate
}

// Speak synthesizes the utterance and blocks until playback through the sink
// has completed, the engine is cancelled, or ctx is done.
func (e *Engine) Speak(ctx context.Context, u synthesis.Utterance) error {
	if strings.TrimSpace(u.Text) == "" {
		return errors.New("elevenlabs: utterance text must not be empty")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	voiceID := u.VoiceID
	if voiceID == "" {
		voiceID = e.voiceID
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, voiceID, e.model, e.outputFormat)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	vs := settingsFor(u)

	// ElevenLabs requires a non-empty first text value to open the stream.
	boi := textMessage{Text: " ", VoiceSettings: vs, XiAPIKey: e.apiKey}
	if err := writeJSON(ctx, conn, boi); err != nil {
		return fmt.Errorf("elevenlabs: send handshake: %w", err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: u.Text, VoiceSettings: vs}); err != nil {
		return fmt.Errorf("elevenlabs: send text: %w", err)
	}
	// Empty text flushes the generation pipeline.
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		return fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	gain := u.Volume
	if gain <= 0 || gain > 1 {
		gain = 1
	}

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return fmt.Errorf("elevenlabs: read: %w", err)
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			if gain != 1 {
				applyGain(pcm, gain)
			}
			if err := e.sink.Write(ctx, pcm); err != nil {
				return fmt.Errorf("elevenlabs: sink write: %w", err)
			}
		}
		if resp.IsFinal {
			break
		}
	}

	if err := e.sink.Flush(ctx); err != nil {
		return fmt.Errorf("elevenlabs: sink flush: %w", err)
	}
	return nil
}

// Voices returns all voices available from ElevenLabs for the configured API
// key.
func (e *Engine) Voices(ctx context.Context) ([]synthesis.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	data := json.NewDecoder(resp.Body)
	var vr voicesResponse
	if err := data.Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return vr.profiles(e.voiceID), nil
}

// Cancel interrupts any in-flight Speak call. Safe to call concurrently and
// when nothing is being spoken.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// ---- voice listing ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID string            `json:"voice_id"`
	Name    string            `json:"name"`
	Labels  map[string]string `json:"labels"`
}

// profiles converts the API response into synthesis voices, flagging the
// engine's configured voice as the default.
func (vr voicesResponse) profiles(defaultID string) []synthesis.Voice {
	voices := make([]synthesis.Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		lang := v.Labels["language"]
		if lang == "" {
			lang = "en-US"
		}
		voices = append(voices, synthesis.Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: lang,
			Default:  v.VoiceID == defaultID,
		})
	}
	return voices
}

// ---- helpers ----

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// applyGain scales 16-bit little-endian PCM samples in place.
func applyGain(pcm []byte, gain float64) {
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		scaled := float64(sample) * gain
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		out := int16(scaled)
		pcm[i] = byte(uint16(out))
		pcm[i+1] = byte(uint16(out) >> 8)
	}
}
