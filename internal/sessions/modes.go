// Package sessions tracks per-conversation mode state. Conversations run
// in plain relay mode unless switched to agent mode, either by the
// configured seed list or at runtime through a command.
package sessions

import (
	"log/slog"
	"sync"
)

// Modes is the per-conversation agent-mode registry. Safe for concurrent
// use.
type Modes struct {
	mu    sync.RWMutex
	agent map[string]bool
}

// NewModes seeds the registry with conversations that start in agent mode.
func NewModes(agentConversations []string) *Modes {
	m := &Modes{agent: make(map[string]bool, len(agentConversations))}
	for _, id := range agentConversations {
		m.agent[id] = true
	}
	return m
}

// IsAgentMode reports whether the conversation runs in agent mode.
func (m *Modes) IsAgentMode(convID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agent[convID]
}

// SetAgentMode switches a conversation's mode at runtime.
func (m *Modes) SetAgentMode(convID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.agent[convID] = true
	} else {
		delete(m.agent, convID)
	}
	slog.Info("conversation mode changed", "conversation_id", convID, "agent_mode", on)
}
