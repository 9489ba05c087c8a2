package resilience

import (
	"context"

	"github.com/gerontovoice/speechkit/internal/conversation"
)

// ConversationFallback implements [conversation.Service] with automatic
// failover across persona backends. The usual composition is an LLM backend
// as primary with the scripted service as the last fallback, so the demo
// keeps answering in character even with no model running.
type ConversationFallback struct {
	group *FallbackGroup[conversation.Service]
}

// Compile-time interface assertion.
var _ conversation.Service = (*ConversationFallback)(nil)

// NewConversationFallback creates a [ConversationFallback] with primary as
// the preferred backend.
func NewConversationFallback(primary conversation.Service, primaryName string, cfg FallbackConfig) *ConversationFallback {
	return &ConversationFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional conversation service as a fallback.
func (f *ConversationFallback) AddFallback(name string, svc conversation.Service) {
	f.group.AddFallback(name, svc)
}

// Simulate asks the first healthy backend for an in-character reply.
func (f *ConversationFallback) Simulate(ctx context.Context, req conversation.Request) (conversation.Reply, error) {
	return ExecuteWithResult(f.group, func(s conversation.Service) (conversation.Reply, error) {
		return s.Simulate(ctx, req)
	})
}
