// Package collect implements collect mode: a conversation can ask the
// gateway to hold incoming messages instead of routing them, then release
// the whole batch at once with a trigger phrase.
package collect

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// DefaultTrigger releases a collected batch when sent on its own.
const DefaultTrigger = "go"

// Service tracks which conversations are collecting and holds their
// queued messages. Safe for concurrent use.
type Service struct {
	trigger string

	mu     sync.Mutex
	queues map[string][]*bus.CombinedMessage
}

// NewService creates a collect service with the given trigger phrase.
// Empty trigger means DefaultTrigger. Matching is case-insensitive on
// the trimmed combined text.
func NewService(trigger string) *Service {
	if trigger == "" {
		trigger = DefaultTrigger
	}
	return &Service{
		trigger: strings.ToLower(trigger),
		queues:  make(map[string][]*bus.CombinedMessage),
	}
}

// Start begins collecting for a conversation. Idempotent.
func (s *Service) Start(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queues[convID]; !ok {
		s.queues[convID] = []*bus.CombinedMessage{}
		slog.Info("collect mode started", "conversation_id", convID)
	}
}

// IsCollecting reports whether the conversation currently holds messages
// instead of routing them.
func (s *Service) IsCollecting(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queues[convID]
	return ok
}

// MatchesTrigger reports whether msg is the release phrase: a text-only
// message whose combined text equals the trigger, ignoring case and
// surrounding whitespace.
func (s *Service) MatchesTrigger(msg *bus.CombinedMessage) bool {
	for _, ev := range msg.Events {
		if ev.Kind != bus.KindText {
			return false
		}
	}
	text := strings.ToLower(strings.TrimSpace(msg.CombinedText()))
	return text == s.trigger
}

// Enqueue holds msg for later release. Returns the queue depth after the
// append, or 0 if the conversation is not collecting.
func (s *Service) Enqueue(msg *bus.CombinedMessage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[msg.ConversationID]
	if !ok {
		return 0
	}
	s.queues[msg.ConversationID] = append(q, msg)
	return len(q) + 1
}

// Drain ends collect mode for the conversation and returns the queued
// messages in arrival order. The triggering message itself is not part
// of the batch; callers append it last if the batch should include it.
func (s *Service) Drain(convID string) []*bus.CombinedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[convID]
	delete(s.queues, convID)
	slog.Info("collect mode drained", "conversation_id", convID, "queued", len(q))
	return q
}

// Cancel ends collect mode and discards anything queued. Returns the
// number of discarded messages.
func (s *Service) Cancel(convID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queues[convID])
	delete(s.queues, convID)
	return n
}
