package conversation

import (
	"fmt"
	"strings"
)

// systemPrompt is the shared instruction injected before every persona
// conversation.
const systemPrompt = "You are a helpful, empathetic elderly person having a natural conversation with a caregiver in training. Stay in character, keep responses warm and concise."

// maxHistoryTurns bounds how much conversation history is replayed to the
// model. Older turns are dropped from the front.
const maxHistoryTurns = 12

// BuildPrompt renders the persona instruction block for a single caregiver
// utterance. All LLM-backed services share this prompt so persona behavior
// stays consistent across backends.
func BuildPrompt(p Persona, userText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %d-year-old with the following characteristics:\n", p.Name, p.Age)
	fmt.Fprintf(&b, "- Condition: %s\n", p.Condition)
	fmt.Fprintf(&b, "- Personality: %s\n", p.Personality)
	fmt.Fprintf(&b, "- Background: %s\n", p.Background)
	fmt.Fprintf(&b, "- Speaking style: %s\n\n", p.SpeakingStyle)
	fmt.Fprintf(&b, "The caregiver says: %q\n\n", userText)
	fmt.Fprintf(&b, "Respond as %s would, with a natural conversational tone, age-appropriate wisdom, and emotional understanding. Keep the response to 1-2 sentences.", p.Name)
	return b.String()
}

// TrimHistory returns the most recent turns, bounded by maxHistoryTurns.
func TrimHistory(history []Turn) []Turn {
	if len(history) <= maxHistoryTurns {
		return history
	}
	return history[len(history)-maxHistoryTurns:]
}
