// Package anyllm provides a conversation.Service backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider LLM interface.
// The default backend is a local Ollama instance running Mistral, so persona
// simulation works without any cloud credentials.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/gerontovoice/speechkit/internal/conversation"
)

const (
	defaultModel = "mistral:latest"

	// Generation settings tuned for short, warm in-character replies.
	temperature = 0.7
	maxTokens   = 150

	// modelConfidence is attributed to model-generated replies. The LLM has
	// no calibrated self-assessment, so a fixed high value distinguishes it
	// from scripted fallbacks.
	modelConfidence = 0.9
)

// Service implements conversation.Service by wrapping any-llm-go.
type Service struct {
	backend anyllmlib.Provider
	model   string
}

var _ conversation.Service = (*Service)(nil)

// New creates a Service backed by the given LLM provider name, one of
// "ollama", "mistral", or "openai". opts are any-llm-go configuration options
// (e.g., anyllmlib.WithAPIKey, anyllmlib.WithBaseURL); without options each
// backend falls back to its usual environment variables or local endpoint.
func New(providerName, model string, opts ...anyllmlib.Option) (*Service, error) {
	if model == "" {
		model = defaultModel
	}
	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Service{backend: backend, model: model}, nil
}

// NewOllama creates a Service backed by a local Ollama instance. Without
// options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Service, error) {
	return New("ollama", model, opts...)
}

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "", "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "openai":
		return anyllmoai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: ollama, mistral, openai", providerName)
	}
}

// Simulate implements conversation.Service.
func (s *Service) Simulate(ctx context.Context, req conversation.Request) (conversation.Reply, error) {
	persona := conversation.PersonaByID(req.PersonaID)

	messages := []anyllmlib.Message{
		{Role: anyllmlib.RoleSystem, Content: conversation.BuildPrompt(persona, req.UserText)},
	}
	for _, turn := range conversation.TrimHistory(req.History) {
		role := anyllmlib.RoleUser
		if turn.Speaker == "ai" {
			role = anyllmlib.RoleAssistant
		}
		messages = append(messages, anyllmlib.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: req.UserText})

	t := float64(temperature)
	mt := maxTokens
	resp, err := s.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:       s.model,
		Messages:    messages,
		Temperature: &t,
		MaxTokens:   &mt,
	})
	if err != nil {
		return conversation.Reply{}, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return conversation.Reply{}, fmt.Errorf("anyllm: empty choices in response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if text == "" {
		return conversation.Reply{}, fmt.Errorf("anyllm: model returned an empty reply")
	}
	return conversation.Reply{
		Text:       text,
		Emotion:    "warm",
		Confidence: modelConfidence,
	}, nil
}
