// Package plugins lets deployment-specific interceptors claim a combined
// message before the rest of the pipeline sees it.
package plugins

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// Plugin inspects a combined message and either claims it or passes.
// Handled reports whether the message was consumed; once a plugin claims
// a message no other plugin or handler runs for it.
type Plugin interface {
	Name() string
	TryHandle(ctx context.Context, msg *bus.CombinedMessage) (handled bool, err error)
}

// Registry holds plugins in registration order. First claim wins.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a plugin. Registration order is evaluation order.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
	slog.Info("plugin registered", "name", p.Name(), "position", len(r.plugins))
}

// TryHandle offers msg to each plugin in order and stops at the first
// claim. A plugin error is logged and treated as a pass so one broken
// plugin cannot black-hole the conversation.
func (r *Registry) TryHandle(ctx context.Context, msg *bus.CombinedMessage) bool {
	r.mu.RLock()
	plugins := r.plugins
	r.mu.RUnlock()

	for _, p := range plugins {
		handled, err := p.TryHandle(ctx, msg)
		if err != nil {
			slog.Error("plugin failed, treating as pass",
				"plugin", p.Name(),
				"conversation_id", msg.ConversationID,
				"error", err)
			continue
		}
		if handled {
			slog.Debug("plugin claimed message",
				"plugin", p.Name(), "conversation_id", msg.ConversationID)
			return true
		}
	}
	return false
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
