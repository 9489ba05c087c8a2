package transcript

import (
	"strings"
	"testing"
)

func TestCorrect_FixesPersonaNames(t *testing.T) {
	c := New(DefaultVocabulary())

	got, corrections := c.Correct("good morning margret how did you sleep")
	if !strings.Contains(got, "Margaret") {
		t.Errorf("corrected text = %q, want Margaret substituted", got)
	}
	if len(corrections) != 1 {
		t.Fatalf("got %d corrections, want 1", len(corrections))
	}
	if corrections[0].Original != "margret" {
		t.Errorf("correction original = %q", corrections[0].Original)
	}
	if corrections[0].Score < defaultPhoneticThreshold {
		t.Errorf("correction score = %v, below threshold", corrections[0].Score)
	}
}

func TestCorrect_FixesCareVocabulary(t *testing.T) {
	c := New(DefaultVocabulary())

	tests := []struct {
		in   string
		want string
	}{
		{"did you take your medecation today", "medication"},
		{"your insulen levels look fine", "insulin"},
		{"she uses a wauker to get around", "walker"},
	}
	for _, tt := range tests {
		got, corrections := c.Correct(tt.in)
		if !strings.Contains(strings.ToLower(got), tt.want) {
			t.Errorf("Correct(%q) = %q, want it to contain %q", tt.in, got, tt.want)
		}
		if len(corrections) == 0 {
			t.Errorf("Correct(%q) recorded no corrections", tt.in)
		}
	}
}

func TestCorrect_LeavesExactMatchesAlone(t *testing.T) {
	c := New(DefaultVocabulary())
	in := "Margaret took her medication"
	got, corrections := c.Correct(in)
	if got != in {
		t.Errorf("Correct(%q) = %q, want unchanged", in, got)
	}
	if len(corrections) != 0 {
		t.Errorf("got %d corrections, want 0", len(corrections))
	}
}

func TestCorrect_PreservesPunctuation(t *testing.T) {
	c := New([]string{"Margaret"})
	got, _ := c.Correct("hello margret, are you there")
	if !strings.Contains(got, "Margaret,") {
		t.Errorf("got %q, want trailing comma preserved", got)
	}
}

func TestCorrect_ShortTokensSkipped(t *testing.T) {
	c := New([]string{"Robert"})
	in := "rob is here"
	if got, _ := c.Correct(in); got != in {
		t.Errorf("short token was corrected: %q", got)
	}
}

func TestCorrect_UnrelatedTextUnchanged(t *testing.T) {
	c := New(DefaultVocabulary())
	in := "the weather is lovely outside"
	got, corrections := c.Correct(in)
	if got != in {
		t.Errorf("Correct(%q) = %q, want unchanged", in, got)
	}
	if len(corrections) != 0 {
		t.Errorf("unexpected corrections: %+v", corrections)
	}
}

func TestCorrect_EmptyInputs(t *testing.T) {
	if got, _ := New(nil).Correct("anything at all"); got != "anything at all" {
		t.Errorf("empty vocabulary changed text: %q", got)
	}
	if got, _ := New(DefaultVocabulary()).Correct(""); got != "" {
		t.Errorf("empty text became %q", got)
	}
}

func TestCorrect_CasePropagation(t *testing.T) {
	c := New([]string{"Eleanor"})
	got, _ := c.Correct("is elanor awake")
	if !strings.Contains(got, "Eleanor") {
		t.Errorf("got %q, want proper-noun capitalisation kept", got)
	}
}
