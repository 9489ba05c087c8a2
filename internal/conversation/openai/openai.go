// Package openai provides a conversation.Service backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/gerontovoice/speechkit/internal/conversation"
)

const (
	defaultModel = "gpt-4o-mini"

	temperature = 0.7
	maxTokens   = 150

	modelConfidence = 0.9
)

// Service implements conversation.Service using the OpenAI API.
type Service struct {
	client oai.Client
	model  string
}

var _ conversation.Service = (*Service)(nil)

// config holds optional configuration for the service.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Service.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI-backed Service.
func New(apiKey, model string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Service{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Simulate implements conversation.Service.
func (s *Service) Simulate(ctx context.Context, req conversation.Request) (conversation.Reply, error) {
	persona := conversation.PersonaByID(req.PersonaID)

	messages := []oai.ChatCompletionMessageParamUnion{
		oai.SystemMessage(conversation.BuildPrompt(persona, req.UserText)),
	}
	for _, turn := range conversation.TrimHistory(req.History) {
		if turn.Speaker == "ai" {
			messages = append(messages, oai.AssistantMessage(turn.Text))
		} else {
			messages = append(messages, oai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, oai.UserMessage(req.UserText))

	resp, err := s.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(s.model),
		Messages:            messages,
		Temperature:         param.NewOpt(float64(temperature)),
		MaxCompletionTokens: param.NewOpt(int64(maxTokens)),
	})
	if err != nil {
		return conversation.Reply{}, fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return conversation.Reply{}, fmt.Errorf("openai: empty choices in response")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return conversation.Reply{}, fmt.Errorf("openai: model returned an empty reply")
	}
	return conversation.Reply{
		Text:       text,
		Emotion:    "warm",
		Confidence: modelConfidence,
	}, nil
}
