package conversation

import (
	"context"
	"strings"
	"testing"
)

func TestPersonaByID(t *testing.T) {
	if got := PersonaByID("robert"); got.Name != "Robert" {
		t.Errorf("PersonaByID(robert).Name = %q", got.Name)
	}
	if got := PersonaByID(""); got.ID != DefaultPersonaID {
		t.Errorf("empty id should default to %q, got %q", DefaultPersonaID, got.ID)
	}
	if got := PersonaByID("nobody"); got.ID != DefaultPersonaID {
		t.Errorf("unknown id should default to %q, got %q", DefaultPersonaID, got.ID)
	}
}

func TestPersonas_Roster(t *testing.T) {
	roster := Personas()
	if len(roster) != 3 {
		t.Fatalf("got %d personas, want 3", len(roster))
	}
	for _, p := range roster {
		if p.ID == "" || p.Condition == "" || len(p.Symptoms) == 0 {
			t.Errorf("persona %q is missing required fields", p.Name)
		}
	}
}

func TestBuildPrompt_IncludesPersonaTraits(t *testing.T) {
	p := PersonaByID("eleanor")
	prompt := BuildPrompt(p, "how are you today")
	for _, want := range []string{"Eleanor", "83", "Mobility Issues", "how are you today"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestTrimHistory(t *testing.T) {
	long := make([]Turn, 30)
	trimmed := TrimHistory(long)
	if len(trimmed) != maxHistoryTurns {
		t.Errorf("got %d turns, want %d", len(trimmed), maxHistoryTurns)
	}
	short := make([]Turn, 3)
	if got := TrimHistory(short); len(got) != 3 {
		t.Errorf("short history should pass through, got %d turns", len(got))
	}
}

func TestScripted_KeywordRouting(t *testing.T) {
	svc := NewScripted()
	tests := []struct {
		input       string
		wantEmotion string
	}{
		{"I feel so confused about where I am", "understanding"},
		{"Did you take your medication this morning?", "caring"},
		{"Are you worried about falling again?", "encouraging"},
		{"hello there", "warm"},
		{"I've been feeling quite lonely lately", "compassionate"},
		{"something completely unrelated", "attentive"},
	}
	for _, tt := range tests {
		reply, err := svc.Simulate(context.Background(), Request{UserText: tt.input})
		if err != nil {
			t.Fatalf("Simulate(%q): %v", tt.input, err)
		}
		if reply.Emotion != tt.wantEmotion {
			t.Errorf("Simulate(%q).Emotion = %q, want %q", tt.input, reply.Emotion, tt.wantEmotion)
		}
		if reply.Text == "" {
			t.Errorf("Simulate(%q) returned empty text", tt.input)
		}
		if reply.Confidence != scriptConfidence {
			t.Errorf("Simulate(%q).Confidence = %v", tt.input, reply.Confidence)
		}
	}
}

func TestScripted_Deterministic(t *testing.T) {
	svc := NewScripted()
	first, _ := svc.Simulate(context.Background(), Request{UserText: "hello there"})
	second, _ := svc.Simulate(context.Background(), Request{UserText: "hello there"})
	if first.Text != second.Text {
		t.Error("identical utterances should produce identical scripted replies")
	}
}

func TestScripted_ConditionKeywordsWinOverMood(t *testing.T) {
	// "good" alone routes to the joyful bank, but a medication concern in the
	// same sentence must take priority.
	svc := NewScripted()
	reply, err := svc.Simulate(context.Background(), Request{UserText: "good, but I forgot my medication"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Emotion != "caring" {
		t.Errorf("emotion = %q, want caring", reply.Emotion)
	}
}

func TestScripted_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewScripted().Simulate(ctx, Request{UserText: "hi"}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
