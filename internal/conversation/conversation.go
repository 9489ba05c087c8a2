// Package conversation defines the Service interface for the elderly persona
// simulation that caregivers practice against, together with the persona
// roster and the request/reply types shared by all backends.
//
// Implementors must be safe for concurrent use. Simulate must propagate
// context cancellation promptly.
package conversation

import "context"

// Turn is a single exchange in the conversation history.
type Turn struct {
	// Speaker is "user" (the caregiver) or "ai" (the persona).
	Speaker string
	// Text is what was said.
	Text string
}

// Request carries one caregiver utterance plus the context needed to answer
// in character.
type Request struct {
	// PersonaID selects the persona; empty defaults to Margaret.
	PersonaID string
	// UserText is the caregiver's (speech-recognized) utterance.
	UserText string
	// History is the prior conversation, oldest first. Backends may truncate
	// it to fit their context budget.
	History []Turn
}

// Reply is the persona's in-character answer.
type Reply struct {
	// Text is the spoken reply, kept short for natural conversation flow.
	Text string
	// Emotion labels the reply's affect (e.g., "warm", "understanding").
	// Used by the frontend to drive the persona avatar.
	Emotion string
	// Confidence is the backend's self-assessed response quality in [0, 1].
	Confidence float64
}

// Service produces in-character persona replies.
type Service interface {
	// Simulate answers one caregiver utterance in the voice of the requested
	// persona.
	Simulate(ctx context.Context, req Request) (Reply, error)
}

// Persona describes one simulated elderly care recipient.
type Persona struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Age           int      `json:"age"`
	Condition     string   `json:"condition"`
	Personality   string   `json:"personality"`
	Background    string   `json:"background"`
	SpeakingStyle string   `json:"speaking_style"`
	Difficulty    string   `json:"difficulty"`
	Description   string   `json:"description"`
	Symptoms      []string `json:"symptoms"`
}

// DefaultPersonaID is used when a request does not name a persona.
const DefaultPersonaID = "margaret"

var personas = []Persona{
	{
		ID:            "margaret",
		Name:          "Margaret",
		Age:           78,
		Condition:     "Mild Dementia",
		Personality:   "warm, wise, grandmotherly, with mild dementia but strong emotional intelligence",
		Background:    "retired teacher, loves gardening, has grandchildren, lives independently",
		SpeakingStyle: "gentle, uses endearing terms like 'dear' and 'sweetheart', shares life experiences",
		Difficulty:    "beginner",
		Description:   "Practice with Margaret, who experiences mild memory concerns and needs patient, empathetic communication.",
		Symptoms:      []string{"Memory loss", "Confusion with time/place", "Trouble with familiar tasks"},
	},
	{
		ID:            "robert",
		Name:          "Robert",
		Age:           72,
		Condition:     "Diabetes Management",
		Personality:   "stubborn, independent, worried about being a burden",
		Background:    "retired mechanic, widower, proud of fixing things himself",
		SpeakingStyle: "direct, a little gruff, softens when he feels heard",
		Difficulty:    "intermediate",
		Description:   "Help Robert manage his diabetes care and medication while addressing his concerns about being a burden.",
		Symptoms:      []string{"Increased thirst/urination", "Fatigue", "Blurred vision"},
	},
	{
		ID:            "eleanor",
		Name:          "Eleanor",
		Age:           83,
		Condition:     "Mobility Issues",
		Personality:   "proud, safety-conscious, socially active",
		Background:    "former librarian, hosts a weekly book club, values her independence",
		SpeakingStyle: "articulate and courteous, understates her difficulties",
		Difficulty:    "advanced",
		Description:   "Support Eleanor with mobility challenges while maintaining her dignity and social connections.",
		Symptoms:      []string{"Difficulty walking", "Muscle weakness", "Fear of falling"},
	},
}

// Personas returns the full persona roster. The returned slice must not be
// mutated.
func Personas() []Persona { return personas }

// PersonaByID looks up a persona, falling back to the default when id is
// empty or unknown.
func PersonaByID(id string) Persona {
	for _, p := range personas {
		if p.ID == id {
			return p
		}
	}
	return personas[0]
}
