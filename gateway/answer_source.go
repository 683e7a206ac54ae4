package gateway

import (
	"context"
	"errors"
	"sync"

	"gateflow/runtime"
)

// ErrNoPendingQuestion is returned when an answer arrives while the flow
// is not waiting on one.
var ErrNoPendingQuestion = errors.New("no pending question")

// PendingAnswerSource bridges the engine's synchronous ask/answer exchange
// to the request/response world: the engine blocks inside Ask while the
// question is exposed for polling, until some HTTP client posts an answer.
type PendingAnswerSource struct {
	mu      sync.Mutex
	pending string
	waiting bool
	answers chan string
}

func NewPendingAnswerSource() *PendingAnswerSource {
	return &PendingAnswerSource{answers: make(chan string)}
}

// Source adapts the exchange to the runtime.AnswerSource contract.
func (s *PendingAnswerSource) Source() runtime.AnswerSource {
	return func(ctx context.Context, question string) (string, error) {
		s.mu.Lock()
		s.pending = question
		s.waiting = true
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.pending = ""
			s.waiting = false
			s.mu.Unlock()
		}()

		select {
		case answer := <-s.answers:
			return answer, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Pending returns the question the flow is currently blocked on, if any.
func (s *PendingAnswerSource) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.waiting
}

// Answer delivers an answer to the blocked Ask call.
func (s *PendingAnswerSource) Answer(ctx context.Context, text string) error {
	s.mu.Lock()
	waiting := s.waiting
	s.mu.Unlock()
	if !waiting {
		return ErrNoPendingQuestion
	}

	select {
	case s.answers <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
