// Package mock provides a test double for the conversation.Service interface.
//
// Use Service in unit tests to feed controlled persona replies without a live
// LLM backend:
//
//	svc := &mock.Service{Reply: conversation.Reply{Text: "Hello dear!"}}
//	reply, err := svc.Simulate(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/gerontovoice/speechkit/internal/conversation"
)

// Service is a mock implementation of conversation.Service.
type Service struct {
	mu sync.Mutex

	// Reply is returned by Simulate when Err is nil.
	Reply conversation.Reply

	// Err, if non-nil, is returned by Simulate.
	Err error

	// SimulateCalls records every request passed to Simulate in order.
	SimulateCalls []conversation.Request
}

var _ conversation.Service = (*Service)(nil)

// Simulate implements conversation.Service.
func (s *Service) Simulate(ctx context.Context, req conversation.Request) (conversation.Reply, error) {
	s.mu.Lock()
	s.SimulateCalls = append(s.SimulateCalls, req)
	reply, err := s.Reply, s.Err
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return conversation.Reply{}, err
	}
	return reply, err
}

// CallCount returns the number of Simulate invocations so far. Safe to call
// concurrently with Simulate.
func (s *Service) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SimulateCalls)
}
