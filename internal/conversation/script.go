package conversation

import (
	"context"
	"hash/fnv"
	"strings"
)

// scriptConfidence is reported for scripted replies; they are hand-written,
// but not tailored to the utterance the way a model reply is.
const scriptConfidence = 0.7

// Scripted is a Service that answers from a bank of hand-written persona
// responses keyed on caregiver phrasing. It needs no network or model and is
// the fallback when the LLM backend is unavailable.
type Scripted struct{}

// NewScripted returns the scripted fallback service.
func NewScripted() *Scripted { return &Scripted{} }

var _ Service = (*Scripted)(nil)

// script is one keyword-triggered response category.
type script struct {
	keywords  []string
	emotion   string
	responses []string
}

var scripts = []script{
	{
		keywords: []string{"confused", "dementia", "memory"},
		emotion:  "understanding",
		responses: []string{
			"Oh sweetheart, I understand that feeling completely. Sometimes my mind feels a bit foggy too, but that's okay. Would you like to tell me more about what's confusing you?",
			"My dear, confusion is nothing to be ashamed of. You're safe here with me, and I'm listening with my whole heart.",
			"Honey, I can hear the worry in your voice about memory troubles. What's important is that you're reaching out and sharing. How can I support you right now?",
		},
	},
	{
		keywords: []string{"diabetes", "blood sugar", "medication", "pills"},
		emotion:  "caring",
		responses: []string{
			"Oh dear, managing health can feel overwhelming sometimes, can't it? Tell me, what's been the most challenging part for you lately?",
			"You're being so responsible about your health, and that takes real strength. What support do you need most right now?",
			"I can hear the concern in your voice about your health management. How are you feeling about everything today?",
		},
	},
	{
		keywords: []string{"mobility", "walking", "fall", "movement"},
		emotion:  "encouraging",
		responses: []string{
			"Dear, I completely understand those concerns about mobility. Tell me, what activities matter most to you?",
			"Sweetheart, your courage in facing mobility challenges inspires me. What helps you feel most confident when moving around?",
			"Oh honey, I can relate to worries about falling or moving safely. What would help you feel more secure in your daily activities?",
		},
	},
	{
		keywords: []string{"hello", "hi ", "hey", "good morning", "good afternoon"},
		emotion:  "warm",
		responses: []string{
			"Hello dear! It's so wonderful to see you today. How are you feeling right now?",
			"Hi there, sweetheart! Your voice just brightened my whole day. Tell me, what's on your mind today?",
			"Oh, hello dear! I'm so glad you're here. What would you like to talk about today?",
		},
	},
	{
		keywords: []string{"sad", "down", "upset", "depressed", "unhappy", "lonely", "worried"},
		emotion:  "compassionate",
		responses: []string{
			"Oh sweetheart, I can hear the sadness in your voice, and it touches my heart. What's weighing heavily on your heart today?",
			"My dear, I'm so sorry you're going through a difficult time. Would you like to share what's troubling you? Sometimes talking helps lighten the load.",
			"Dear one, I can feel your pain, and I want you to know that you're not alone. Tell me, what's been making your heart feel heavy?",
		},
	},
	{
		keywords: []string{"happy", "good", "great", "wonderful", "excited", "amazing"},
		emotion:  "joyful",
		responses: []string{
			"Oh my goodness, your joy is absolutely infectious! What's been filling your heart with such wonderful feelings?",
			"That's absolutely marvelous, dear! Please, tell me all about what's making you feel so wonderful!",
			"How delightful! Your positive energy is like a breath of fresh air. What's been bringing you such beautiful feelings?",
		},
	},
	{
		keywords: []string{"how are you", "how do you feel", "tell me about"},
		emotion:  "warm",
		responses: []string{
			"Well, thank you for asking! I'm doing quite well for my age. My garden is blooming, and I just finished a good book. How about you, dear?",
			"I'm having a lovely day, thank you! The sunshine came through my kitchen window this morning and reminded me how beautiful life can be. How are you feeling?",
			"Oh, I'm doing well, sweetheart. At my age, every day above ground is a blessing! What about you?",
		},
	},
}

var defaultScript = script{
	emotion: "attentive",
	responses: []string{
		"I'm listening with my whole heart, dear. Please, share more with me - I truly want to understand.",
		"That's really thoughtful of you to share that with me, sweetheart. What else would you like to talk about?",
		"How interesting, dear one. I'm genuinely curious to hear more about your thoughts and feelings.",
		"I can sense there's something important in what you're saying. Please, continue - I'm here with you.",
	},
}

// Simulate implements Service. The reply for a given utterance is
// deterministic, which keeps demo sessions and tests reproducible.
func (s *Scripted) Simulate(ctx context.Context, req Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	sc := matchScript(req.UserText)
	text := sc.responses[pick(req.UserText, len(sc.responses))]
	return Reply{Text: text, Emotion: sc.emotion, Confidence: scriptConfidence}, nil
}

// matchScript finds the first category whose keywords appear in the
// utterance. Category order encodes priority: condition-specific concerns win
// over greetings and moods.
func matchScript(userText string) script {
	lower := strings.ToLower(userText)
	for _, sc := range scripts {
		for _, kw := range sc.keywords {
			if strings.Contains(lower, kw) {
				return sc
			}
		}
	}
	return defaultScript
}

// pick maps an utterance onto a stable response index.
func pick(userText string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(userText))
	return int(h.Sum32() % uint32(n))
}
