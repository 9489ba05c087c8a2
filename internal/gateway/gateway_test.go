package gateway

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gerontovoice/speechkit/internal/conversation"
	convmock "github.com/gerontovoice/speechkit/internal/conversation/mock"
	"github.com/gerontovoice/speechkit/internal/history"
	"github.com/gerontovoice/speechkit/internal/transcript"
	"github.com/gerontovoice/speechkit/pkg/engine/capture"
	"github.com/gerontovoice/speechkit/pkg/engine/recognition"
	recmock "github.com/gerontovoice/speechkit/pkg/engine/recognition/mock"
	synmock "github.com/gerontovoice/speechkit/pkg/engine/synthesis/mock"
	"github.com/gerontovoice/speechkit/pkg/speech"
)

// testRig bundles the server, a connected client, and the shared mocks.
type testRig struct {
	srv    *httptest.Server
	client *websocket.Conn
	sess   *recmock.Session
	store  *history.MemStore
}

func newTestRig(t *testing.T, svc conversation.Service) *testRig {
	t.Helper()

	sess := recmock.NewSession()
	eng := &recmock.Engine{Session: sess}
	store := history.NewMemStore()

	h, err := New(Config{
		NewManager: func(capt capture.Engine) *speech.Manager {
			return speech.New(eng, &synmock.Engine{}, speech.WithCapture(capt))
		},
		Conversation: svc,
		History:      store,
		Corrector:    transcript.New(transcript.DefaultVocabulary()),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	client, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "test done") })

	return &testRig{srv: srv, client: client, sess: sess, store: store}
}

// readEvent reads server events until one of the wanted type arrives.
func (r *testRig) readEvent(t *testing.T, wantType string) serverEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var ev serverEvent
		if err := wsjson.Read(ctx, r.client, &ev); err != nil {
			t.Fatalf("waiting for %q event: %v", wantType, err)
		}
		if ev.Type == wantType {
			return ev
		}
	}
}

func (r *testRig) sendJSON(t *testing.T, msg clientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, r.client, msg); err != nil {
		t.Fatalf("send %q: %v", msg.Type, err)
	}
}

func TestGateway_StartEmitsSessionEvent(t *testing.T) {
	rig := newTestRig(t, conversation.NewScripted())

	rig.sendJSON(t, clientMessage{Type: "start", PersonaID: "margaret", UserID: "caregiver-1"})

	ev := rig.readEvent(t, "session")
	if ev.SessionID == "" {
		t.Error("session event has empty session_id")
	}

	sessions, err := rig.store.ListSessions(context.Background(), "caregiver-1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].PersonaID != "margaret" {
		t.Errorf("persona = %q, want margaret", sessions[0].PersonaID)
	}
}

func TestGateway_FinalTranscriptProducesReply(t *testing.T) {
	rig := newTestRig(t, conversation.NewScripted())

	rig.sendJSON(t, clientMessage{Type: "start", PersonaID: "margaret"})
	rig.readEvent(t, "session")

	rig.sess.EmitFinal(recognition.Alternative{Transcript: "hello Margaret", Confidence: 0.92})

	res := rig.readEvent(t, "result")
	if !res.IsFinal {
		t.Error("result should be final")
	}
	if res.Transcript != "hello Margaret" {
		t.Errorf("transcript = %q", res.Transcript)
	}

	reply := rig.readEvent(t, "reply")
	if reply.Text == "" {
		t.Error("reply has empty text")
	}
	if reply.Emotion == "" {
		t.Error("reply has empty emotion")
	}
}

func TestGateway_ExchangesPersisted(t *testing.T) {
	rig := newTestRig(t, conversation.NewScripted())

	rig.sendJSON(t, clientMessage{Type: "start"})
	sev := rig.readEvent(t, "session")

	rig.sess.EmitFinal(recognition.Alternative{Transcript: "how are you today", Confidence: 0.9})
	rig.readEvent(t, "reply")

	exchanges, err := rig.store.Exchanges(context.Background(), sev.SessionID)
	if err != nil {
		t.Fatalf("Exchanges: %v", err)
	}
	if len(exchanges) != 2 {
		t.Fatalf("exchanges = %d, want 2 (user + ai)", len(exchanges))
	}
	if exchanges[0].Speaker != "user" || exchanges[1].Speaker != "ai" {
		t.Errorf("speakers = %q, %q; want user, ai", exchanges[0].Speaker, exchanges[1].Speaker)
	}
	if exchanges[1].Emotion == "" {
		t.Error("persona exchange missing emotion")
	}
}

func TestGateway_TranscriptCorrectionApplied(t *testing.T) {
	rig := newTestRig(t, conversation.NewScripted())

	rig.sendJSON(t, clientMessage{Type: "start"})
	sev := rig.readEvent(t, "session")

	// The recognizer heard "margret"; the corrector should fix it before
	// persistence and conversation.
	rig.sess.EmitFinal(recognition.Alternative{Transcript: "hello margret", Confidence: 0.9})
	rig.readEvent(t, "reply")

	exchanges, err := rig.store.Exchanges(context.Background(), sev.SessionID)
	if err != nil {
		t.Fatalf("Exchanges: %v", err)
	}
	if len(exchanges) == 0 {
		t.Fatal("no exchanges persisted")
	}
	if exchanges[0].Text != "hello Margaret" {
		t.Errorf("persisted transcript = %q, want corrected %q", exchanges[0].Text, "hello Margaret")
	}
}

func TestGateway_ConversationErrorSurfacesAsEvent(t *testing.T) {
	rig := newTestRig(t, &convmock.Service{Err: io.ErrUnexpectedEOF})

	rig.sendJSON(t, clientMessage{Type: "start"})
	rig.readEvent(t, "session")

	rig.sess.EmitFinal(recognition.Alternative{Transcript: "hello there", Confidence: 0.9})

	ev := rig.readEvent(t, "error")
	if !ev.Recoverable {
		t.Error("conversation failure should be reported as recoverable")
	}
	if ev.Suggestion == "" {
		t.Error("error event missing suggestion")
	}
}

func TestGateway_BinaryFramesReachRecognizer(t *testing.T) {
	rig := newTestRig(t, conversation.NewScripted())

	rig.sendJSON(t, clientMessage{Type: "start"})
	rig.readEvent(t, "session")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame := make([]byte, 640)
	if err := rig.client.Write(ctx, websocket.MessageBinary, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for rig.sess.SendAudioCallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("audio frame never reached the recognition session")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGateway_StopEndsListening(t *testing.T) {
	rig := newTestRig(t, conversation.NewScripted())

	rig.sendJSON(t, clientMessage{Type: "start"})
	rig.readEvent(t, "session")

	rig.sendJSON(t, clientMessage{Type: "stop"})
	rig.readEvent(t, "end")

	if !rig.sess.Stopped() {
		t.Error("recognition session was not stopped")
	}
}

func TestGateway_SettingsPatchForwarded(t *testing.T) {
	rig := newTestRig(t, conversation.NewScripted())

	rig.sendJSON(t, clientMessage{Type: "start"})
	rig.readEvent(t, "session")

	lang := "en-GB"
	rig.sendJSON(t, clientMessage{Type: "settings", Settings: &settingsPatch{Language: &lang}})

	deadline := time.Now().Add(3 * time.Second)
	for {
		if cfg, ok := rig.sess.LastSetConfig(); ok {
			if cfg.Language != "en-GB" {
				t.Errorf("live config language = %q, want en-GB", cfg.Language)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("settings patch never reached the live session")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// stalledConversation blocks Simulate until released, keeping the reply
// worker busy so tests can control when the finals queue drains.
type stalledConversation struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stalledConversation) Simulate(ctx context.Context, _ conversation.Request) (conversation.Reply, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return conversation.Reply{Text: "mm-hmm", Emotion: "neutral"}, nil
}

// A final transcript can arrive from the recognizer after the client has
// disconnected but before teardown stops the Manager. The gateway must drop
// it rather than crash the event goroutine.
func TestGateway_FinalAfterDisconnectIsDropped(t *testing.T) {
	svc := &stalledConversation{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	rig := newTestRig(t, svc)

	rig.sendJSON(t, clientMessage{Type: "start"})
	rig.readEvent(t, "session")

	// Occupy the reply worker so teardown has to wait for it.
	rig.sess.EmitFinal(recognition.Alternative{Transcript: "first thing", Confidence: 0.9})
	select {
	case <-svc.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("conversation service never entered Simulate")
	}

	rig.client.Close(websocket.StatusNormalClosure, "leaving")

	// The Manager is still listening; a straggler final must not panic the
	// server.
	rig.sess.EmitFinal(recognition.Alternative{Transcript: "one more thing", Confidence: 0.9})
	close(svc.release)

	deadline := time.Now().Add(5 * time.Second)
	for !rig.sess.Stopped() {
		if time.Now().After(deadline) {
			t.Fatal("connection never tore down after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestPCMFeed_ReadAfterShutdownReturnsEOF(t *testing.T) {
	f := newPCMFeed()
	f.Push([]byte{1, 2, 3, 4})
	f.Shutdown()

	buf := make([]byte, 8)
	n, err := f.Read(buf)
	if n != 4 || err != nil {
		t.Fatalf("Read = (%d, %v), want (4, nil) for buffered frame", n, err)
	}
	if _, err := f.Read(buf); err != io.EOF {
		t.Fatalf("Read after shutdown = %v, want io.EOF", err)
	}
}

func TestPCMFeed_DropsOldestWhenFull(t *testing.T) {
	f := newPCMFeed()
	for i := 0; i < feedBuffer+8; i++ {
		f.Push([]byte{byte(i), 0})
	}

	buf := make([]byte, 2)
	n, err := f.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("Read = (%d, %v)", n, err)
	}
	if buf[0] < 8 {
		t.Errorf("oldest frames should have been dropped, got frame %d", buf[0])
	}
}

func TestPCMFeed_PushAfterShutdownIsNoop(t *testing.T) {
	f := newPCMFeed()
	f.Shutdown()
	f.Push([]byte{1, 2}) // must not panic on the closed channel

	if _, err := f.Read(make([]byte, 2)); err != io.EOF {
		t.Fatalf("Read = %v, want io.EOF", err)
	}
}

func TestPCMFeed_ConcurrentPushAndShutdown(t *testing.T) {
	for i := 0; i < 100; i++ {
		f := newPCMFeed()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 200; j++ {
				f.Push([]byte{byte(j), 0})
			}
		}()
		f.Shutdown()
		<-done
	}
}

func TestPCMFeed_GainAttenuates(t *testing.T) {
	f := newPCMFeed()
	f.SetGain(0.5)
	// One sample: 1000 (little-endian).
	f.Push([]byte{0xE8, 0x03})

	buf := make([]byte, 2)
	if _, err := f.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	got := int16(uint16(buf[0]) | uint16(buf[1])<<8)
	if got != 500 {
		t.Errorf("sample = %d, want 500", got)
	}
}
