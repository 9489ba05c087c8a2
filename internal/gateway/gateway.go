// Package gateway is the WebSocket voice gateway between a browser client and
// the speech pipeline.
//
// A client connects, sends a "start" control message, then streams raw PCM
// frames as binary messages. The gateway owns one speech Manager per
// connection; final transcripts flow through vocabulary correction to the
// conversation service, both sides of the exchange are persisted to history,
// and results, persona replies, and errors are pushed back to the client as
// JSON events.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/gerontovoice/speechkit/internal/conversation"
	"github.com/gerontovoice/speechkit/internal/history"
	"github.com/gerontovoice/speechkit/internal/observe"
	"github.com/gerontovoice/speechkit/internal/transcript"
	"github.com/gerontovoice/speechkit/pkg/engine/capture"
	"github.com/gerontovoice/speechkit/pkg/speech"
)

// finalsBuffer bounds how many final transcripts can queue for conversation
// processing before new ones are dropped with a logged warning.
const finalsBuffer = 16

// ManagerFactory builds a speech Manager for one connection. The capture
// engine is the connection's inbound PCM feed; implementations wire it via
// [speech.WithCapture] so client audio reaches the recognizer.
type ManagerFactory func(capt capture.Engine) *speech.Manager

// Config assembles a gateway [Handler].
type Config struct {
	// NewManager builds the per-connection speech Manager. Required.
	NewManager ManagerFactory

	// Conversation produces persona replies for final transcripts. Required.
	Conversation conversation.Service

	// History records sessions and exchanges. Required.
	History history.Store

	// Corrector fixes recognizer mistakes on care vocabulary before the
	// transcript reaches the conversation service. Optional.
	Corrector *transcript.Corrector

	// Metrics records gateway observability. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// SpeakReplies synthesizes persona replies through the Manager when true.
	SpeakReplies bool

	// Track registers the connection's Manager with a live-manager registry
	// and returns a function that removes it when the connection ends.
	// Optional; the server uses it to push hot-reloaded voice defaults to
	// open connections.
	Track func(m *speech.Manager) (untrack func())
}

// Handler upgrades HTTP requests to gateway websocket connections.
type Handler struct {
	cfg Config
}

// New validates cfg and returns a Handler.
func New(cfg Config) (*Handler, error) {
	if cfg.NewManager == nil {
		return nil, errors.New("gateway: NewManager is required")
	}
	if cfg.Conversation == nil {
		return nil, errors.New("gateway: Conversation is required")
	}
	if cfg.History == nil {
		return nil, errors.New("gateway: History is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Handler{cfg: cfg}, nil
}

// clientMessage is a control message from the browser. Binary websocket
// messages carry PCM audio and bypass this structure entirely.
type clientMessage struct {
	// Type is one of "start", "stop", "settings".
	Type string `json:"type"`

	// PersonaID selects the persona for a "start". Empty uses the default.
	PersonaID string `json:"persona_id,omitempty"`

	// UserID identifies the caregiver for history records.
	UserID string `json:"user_id,omitempty"`

	// Settings carries a partial voice-settings update for "settings".
	Settings *settingsPatch `json:"settings,omitempty"`
}

// settingsPatch is the wire form of a speech settings update. Absent fields
// keep their current value.
type settingsPatch struct {
	Language            *string  `json:"language,omitempty"`
	Rate                *float64 `json:"rate,omitempty"`
	Pitch               *float64 `json:"pitch,omitempty"`
	Volume              *float64 `json:"volume,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	MaxAlternatives     *int     `json:"max_alternatives,omitempty"`
	InterimResults      *bool    `json:"interim_results,omitempty"`
	Continuous          *bool    `json:"continuous,omitempty"`
	NoiseReduction      *bool    `json:"noise_reduction,omitempty"`
	ElderlyOptimized    *bool    `json:"elderly_optimized,omitempty"`
}

func (p *settingsPatch) patch() speech.Patch {
	return speech.Patch{
		Language:            p.Language,
		Rate:                p.Rate,
		Pitch:               p.Pitch,
		Volume:              p.Volume,
		ConfidenceThreshold: p.ConfidenceThreshold,
		MaxAlternatives:     p.MaxAlternatives,
		InterimResults:      p.InterimResults,
		Continuous:          p.Continuous,
		NoiseReduction:      p.NoiseReduction,
		ElderlyOptimized:    p.ElderlyOptimized,
	}
}

// serverEvent is one JSON event pushed to the client.
type serverEvent struct {
	// Type is one of "session", "result", "reply", "error", "end".
	Type string `json:"type"`

	// SessionID accompanies "session".
	SessionID string `json:"session_id,omitempty"`

	// Result fields, set for "result".
	Transcript   string             `json:"transcript,omitempty"`
	Confidence   float64            `json:"confidence,omitempty"`
	IsFinal      bool               `json:"is_final,omitempty"`
	Alternatives []eventAlternative `json:"alternatives,omitempty"`

	// Reply fields, set for "reply".
	Text    string `json:"text,omitempty"`
	Emotion string `json:"emotion,omitempty"`

	// Error fields, set for "error".
	Kind        string `json:"kind,omitempty"`
	Message     string `json:"message,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
	Suggestion  string `json:"suggestion,omitempty"`
}

type eventAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// conn is the per-connection state.
type conn struct {
	h    *Handler
	ws   *websocket.Conn
	feed *pcmFeed
	mgr  *speech.Manager

	writeMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	personaID string
	turns     []conversation.Turn

	// finalsMu guards finals against the Manager's event goroutine, which can
	// still deliver results after the websocket read loop has ended.
	finalsMu     sync.Mutex
	finals       chan speech.Result
	finalsClosed bool
}

// queueFinal hands a final transcript to the reply worker without blocking.
// After closeFinals the result is dropped: the connection is tearing down and
// there is no client left to answer.
func (c *conn) queueFinal(res speech.Result) {
	c.finalsMu.Lock()
	defer c.finalsMu.Unlock()
	if c.finalsClosed {
		return
	}
	select {
	case c.finals <- res:
	default:
		slog.Warn("gateway: conversation backlog full, dropping final transcript")
	}
}

// closeFinals ends the reply worker's queue once the client is gone.
func (c *conn) closeFinals() {
	c.finalsMu.Lock()
	defer c.finalsMu.Unlock()
	if !c.finalsClosed {
		c.finalsClosed = true
		close(c.finals)
	}
}

// ServeHTTP upgrades the request and runs the connection until the client
// disconnects or the server shuts down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("gateway: websocket accept failed", "err", err)
		return
	}

	feed := newPCMFeed()
	c := &conn{
		h:      h,
		ws:     ws,
		feed:   feed,
		mgr:    h.cfg.NewManager(feed),
		finals: make(chan speech.Result, finalsBuffer),
	}

	if h.cfg.Track != nil {
		defer h.cfg.Track(c.mgr)()
	}

	ctx := r.Context()
	h.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	defer h.cfg.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.replyLoop(gctx) })

	err = g.Wait()
	c.teardown(context.WithoutCancel(ctx))
	if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway: connection ended with error", "err", err)
		ws.Close(websocket.StatusInternalError, "internal error")
		return
	}
	ws.Close(websocket.StatusNormalClosure, "bye")
}

// readLoop consumes websocket messages: binary frames feed the recognizer,
// text frames carry control messages.
func (c *conn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			c.closeFinals()
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("gateway: read: %w", err)
		}

		if typ == websocket.MessageBinary {
			c.feed.Push(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(ctx, &speech.Error{
				Kind:    speech.KindUnknown,
				Message: "malformed control message",
			})
			continue
		}
		c.handleControl(ctx, msg)
	}
}

// handleControl dispatches one control message.
func (c *conn) handleControl(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "start":
		c.start(ctx, msg)
	case "stop":
		c.mgr.StopListening()
	case "settings":
		if msg.Settings != nil {
			c.mgr.UpdateSettings(msg.Settings.patch())
		}
	default:
		slog.Debug("gateway: ignoring unknown control message", "type", msg.Type)
	}
}

// start opens a history session and begins listening. A second start on the
// same connection reuses the existing session.
func (c *conn) start(ctx context.Context, msg clientMessage) {
	persona := conversation.PersonaByID(msg.PersonaID)

	c.mu.Lock()
	if c.sessionID == "" {
		c.sessionID = newSessionID()
		c.personaID = persona.ID
		sess := history.Session{
			ID:        c.sessionID,
			UserID:    msg.UserID,
			PersonaID: persona.ID,
			StartedAt: time.Now(),
		}
		if err := c.h.cfg.History.CreateSession(ctx, sess); err != nil {
			slog.Warn("gateway: create history session", "err", err)
		}
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	c.send(ctx, serverEvent{Type: "session", SessionID: sessionID})
	c.h.cfg.Metrics.ListeningSessions.Add(ctx, 1)

	c.mgr.StartListening(
		func(res speech.Result) { c.onResult(ctx, res) },
		func(serr *speech.Error) { c.sendError(ctx, serr) },
		func() {
			c.h.cfg.Metrics.ListeningSessions.Add(context.WithoutCancel(ctx), -1)
			c.send(ctx, serverEvent{Type: "end"})
		},
	)
}

// onResult forwards a recognition result to the client and queues finals for
// the conversation worker. Runs on the Manager's event goroutine, so it must
// not block.
func (c *conn) onResult(ctx context.Context, res speech.Result) {
	alts := make([]eventAlternative, 0, len(res.Alternatives))
	for _, a := range res.Alternatives {
		alts = append(alts, eventAlternative{Transcript: a.Transcript, Confidence: a.Confidence})
	}
	c.send(ctx, serverEvent{
		Type:         "result",
		Transcript:   res.Transcript,
		Confidence:   res.Confidence,
		IsFinal:      res.IsFinal,
		Alternatives: alts,
	})

	if res.IsFinal {
		c.queueFinal(res)
	}
}

// replyLoop turns final transcripts into persona replies: correction,
// conversation round-trip, history writes, reply event, optional synthesis.
func (c *conn) replyLoop(ctx context.Context) error {
	for {
		var res speech.Result
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok = <-c.finals:
			if !ok {
				return nil
			}
		}

		text := res.Transcript
		if c.h.cfg.Corrector != nil {
			corrected, fixes := c.h.cfg.Corrector.Correct(text)
			if len(fixes) > 0 {
				slog.Debug("gateway: corrected transcript", "fixes", len(fixes))
			}
			text = corrected
		}

		c.mu.Lock()
		sessionID := c.sessionID
		personaID := c.personaID
		turns := append([]conversation.Turn(nil), c.turns...)
		c.mu.Unlock()

		c.h.cfg.Metrics.RecordUtterance(ctx, personaID)
		c.persist(ctx, history.Exchange{
			SessionID:  sessionID,
			Speaker:    "user",
			Text:       text,
			Confidence: res.Confidence,
			SpokenAt:   res.Timestamp,
		})

		convStart := time.Now()
		reply, err := c.h.cfg.Conversation.Simulate(ctx, conversation.Request{
			PersonaID: personaID,
			UserText:  text,
			History:   turns,
		})
		c.h.cfg.Metrics.ConversationDuration.Record(ctx, time.Since(convStart).Seconds())
		if err != nil {
			slog.Error("gateway: conversation failed", "err", err)
			c.sendError(ctx, &speech.Error{
				Kind:        speech.KindUnknown,
				Message:     "the persona could not respond",
				Recoverable: true,
				Suggestion:  "Please try saying that again.",
			})
			continue
		}

		c.mu.Lock()
		c.turns = append(c.turns,
			conversation.Turn{Speaker: "user", Text: text},
			conversation.Turn{Speaker: "ai", Text: reply.Text},
		)
		c.mu.Unlock()

		c.persist(ctx, history.Exchange{
			SessionID:  sessionID,
			Speaker:    "ai",
			Text:       reply.Text,
			Emotion:    reply.Emotion,
			Confidence: reply.Confidence,
			SpokenAt:   time.Now(),
		})

		c.send(ctx, serverEvent{
			Type:       "reply",
			Text:       reply.Text,
			Emotion:    reply.Emotion,
			Confidence: reply.Confidence,
		})

		if c.h.cfg.SpeakReplies {
			synthStart := time.Now()
			if err := c.mgr.Speak(ctx, reply.Text); err != nil {
				slog.Warn("gateway: reply synthesis failed", "err", err)
			}
			c.h.cfg.Metrics.SynthesisDuration.Record(ctx, time.Since(synthStart).Seconds())
		}
	}
}

// persist writes one exchange, logging rather than failing the conversation
// on store errors.
func (c *conn) persist(ctx context.Context, e history.Exchange) {
	if e.SessionID == "" {
		return
	}
	if err := c.h.cfg.History.AppendExchange(ctx, e); err != nil {
		slog.Warn("gateway: append exchange", "err", err)
	}
}

// teardown stops listening, finishes the history session, and shuts the feed.
func (c *conn) teardown(ctx context.Context) {
	c.mgr.StopListening()
	c.feed.Shutdown()

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		if err := c.h.cfg.History.EndSession(ctx, sessionID, time.Now()); err != nil {
			slog.Warn("gateway: end history session", "err", err)
		}
	}
}

// send pushes one event to the client. Write errors end the connection via
// the read loop, so they are only logged here.
func (c *conn) send(ctx context.Context, ev serverEvent) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, c.ws, ev); err != nil {
		slog.Debug("gateway: event write failed", "type", ev.Type, "err", err)
	}
}

func (c *conn) sendError(ctx context.Context, serr *speech.Error) {
	c.send(ctx, serverEvent{
		Type:        "error",
		Kind:        string(serr.Kind),
		Message:     serr.Message,
		Recoverable: serr.Recoverable,
		Suggestion:  serr.Suggestion,
	})
}

// newSessionID returns a random 128-bit hex session identifier.
func newSessionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
