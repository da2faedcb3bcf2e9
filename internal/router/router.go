// Package router decides what happens to each flushed CombinedMessage.
// The priority is fixed: plugins first, then commands, then collect mode,
// then exactly one content handler chosen by kind precedence. A message is
// consumed by exactly one branch.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/inlet/internal/bus"
	"github.com/nextlevelbuilder/inlet/internal/commands"
	"github.com/nextlevelbuilder/inlet/internal/handlers"
	"github.com/nextlevelbuilder/inlet/internal/metrics"
)

// genericFailureNotice is what the sender sees when handling fails for a
// reason they cannot act on.
const genericFailureNotice = "Something went wrong while processing your message. Please try again."

// PluginGate offers a message to registered interceptors. True means one
// of them consumed it.
type PluginGate interface {
	TryHandle(ctx context.Context, msg *bus.CombinedMessage) bool
}

// CommandExecutor runs a recognized command.
type CommandExecutor interface {
	Execute(ctx context.Context, msg *bus.CombinedMessage, cmd commands.Command) error
}

// CommandClassifier recognizes commands inside a combined message.
type CommandClassifier interface {
	ClassifyMessage(msg *bus.CombinedMessage) (commands.Command, bool)
}

// CollectGate is the collect-mode state the router consults.
type CollectGate interface {
	IsCollecting(convID string) bool
	MatchesTrigger(msg *bus.CombinedMessage) bool
	Enqueue(msg *bus.CombinedMessage) int
	Drain(convID string) []*bus.CombinedMessage
}

// AgentModeChecker reports whether a conversation runs in agent mode.
type AgentModeChecker interface {
	IsAgentMode(convID string) bool
}

// Notifier sends a short operational notice back to the conversation.
type Notifier interface {
	Notify(ctx context.Context, convID, text string) error
}

// Router routes combined messages. All collaborators are required except
// plugins, which may be nil when no plugins are configured.
type Router struct {
	plugins    PluginGate
	classifier CommandClassifier
	executor   CommandExecutor
	collect    CollectGate
	handlers   *handlers.Set
	agentMode  AgentModeChecker
	notify     Notifier
}

func New(
	plugins PluginGate,
	classifier CommandClassifier,
	executor CommandExecutor,
	collect CollectGate,
	set *handlers.Set,
	agentMode AgentModeChecker,
	notify Notifier,
) *Router {
	return &Router{
		plugins:    plugins,
		classifier: classifier,
		executor:   executor,
		collect:    collect,
		handlers:   set,
		agentMode:  agentMode,
		notify:     notify,
	}
}

// kindPrecedence orders content kinds from most to least specific. The
// first kind present in the message picks the handler.
var kindPrecedence = []bus.ContentKind{
	bus.KindPhoto,
	bus.KindVoice,
	bus.KindVideo,
	bus.KindPoll,
	bus.KindContact,
	bus.KindDocument,
	bus.KindText,
}

// Route consumes one combined message. It never panics; a panicking
// handler is recovered, logged, and reported to the sender as a generic
// failure. Context cancellation is returned as-is, never masked.
func (r *Router) Route(ctx context.Context, msg *bus.CombinedMessage) (outcome bus.RoutingOutcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("handler panicked",
				"conversation_id", msg.ConversationID,
				"sender_id", msg.SenderID,
				"panic", rec)
			r.sendNotice(msg.ConversationID, genericFailureNotice)
			outcome = bus.RoutingOutcome{Kind: bus.OutcomeEmpty}
			err = fmt.Errorf("handler panicked: %v", rec)
		}
		// The overflow notice is tied to the flush, not to the branch
		// taken: sent exactly once, after the message was handled.
		if msg.OverflowCount > 0 {
			r.sendNotice(msg.ConversationID,
				fmt.Sprintf("%d message(s) were dropped because they arrived too quickly. Please resend anything important.", msg.OverflowCount))
		}
		metrics.RoutedOutcome(string(outcome.Kind)).Inc()
	}()

	if r.plugins != nil && r.plugins.TryHandle(ctx, msg) {
		return bus.RoutingOutcome{Kind: bus.OutcomePluginHandled}, nil
	}

	if cmd, ok := r.classifier.ClassifyMessage(msg); ok {
		if execErr := r.executor.Execute(ctx, msg, cmd); execErr != nil {
			if isCancellation(execErr) {
				return bus.RoutingOutcome{Kind: bus.OutcomeCommandHandled, Command: cmd.Kind}, execErr
			}
			slog.Error("command failed",
				"conversation_id", msg.ConversationID,
				"sender_id", msg.SenderID,
				"command", cmd.Kind,
				"error", execErr)
			r.sendNotice(msg.ConversationID, genericFailureNotice)
		}
		return bus.RoutingOutcome{Kind: bus.OutcomeCommandHandled, Command: cmd.Kind}, nil
	}

	if r.collect.IsCollecting(msg.ConversationID) {
		if r.collect.MatchesTrigger(msg) {
			return r.releaseCollected(ctx, msg)
		}
		depth := r.collect.Enqueue(msg)
		slog.Debug("message held by collect mode",
			"conversation_id", msg.ConversationID, "queued", depth)
		return bus.RoutingOutcome{Kind: bus.OutcomeCollectQueued}, nil
	}

	return r.dispatchContent(ctx, msg)
}

// releaseCollected merges the held batch into one message and dispatches
// it. The trigger phrase itself is not part of the batch content.
func (r *Router) releaseCollected(ctx context.Context, trigger *bus.CombinedMessage) (bus.RoutingOutcome, error) {
	batch := r.collect.Drain(trigger.ConversationID)
	if len(batch) == 0 {
		r.sendNotice(trigger.ConversationID, "Nothing was collected.")
		return bus.RoutingOutcome{Kind: bus.OutcomeCollectTriggered}, nil
	}

	merged := &bus.CombinedMessage{
		ConversationID: trigger.ConversationID,
		SenderID:       trigger.SenderID,
		ReplyToEventID: batch[0].ReplyToEventID,
	}
	for _, m := range batch {
		merged.Events = append(merged.Events, m.Events...)
		merged.OverflowCount += m.OverflowCount
	}

	outcome, err := r.dispatchContent(ctx, merged)
	return bus.RoutingOutcome{Kind: bus.OutcomeCollectTriggered, ContentKind: outcome.ContentKind}, err
}

// dispatchContent picks the single content handler by kind precedence.
func (r *Router) dispatchContent(ctx context.Context, msg *bus.CombinedMessage) (bus.RoutingOutcome, error) {
	var kind bus.ContentKind
	for _, k := range kindPrecedence {
		if msg.HasKind(k) {
			kind = k
			break
		}
	}
	if kind == "" || (kind == bus.KindText && msg.CombinedText() == "") {
		slog.Debug("nothing routable in message", "conversation_id", msg.ConversationID)
		return bus.RoutingOutcome{Kind: bus.OutcomeEmpty}, nil
	}

	h := r.handlers.ForKind(kind)
	if h == nil {
		return bus.RoutingOutcome{Kind: bus.OutcomeEmpty}, nil
	}

	agentMode := r.agentMode.IsAgentMode(msg.ConversationID)
	if err := h.Handle(ctx, msg, agentMode); err != nil {
		if isCancellation(err) {
			return bus.RoutingOutcome{Kind: bus.OutcomeContentHandled, ContentKind: kind}, err
		}
		// Validation rejections are handled here: the sender gets the
		// specific reason and the error does not bubble further.
		var rej *handlers.RejectionError
		if errors.As(err, &rej) {
			slog.Warn("content rejected",
				"conversation_id", msg.ConversationID,
				"kind", kind,
				"reason", rej.Reason)
			r.sendNotice(msg.ConversationID, rej.Reason)
			return bus.RoutingOutcome{Kind: bus.OutcomeContentHandled, ContentKind: kind}, nil
		}
		slog.Error("content handler failed",
			"conversation_id", msg.ConversationID,
			"sender_id", msg.SenderID,
			"kind", kind,
			"error", err)
		r.sendNotice(msg.ConversationID, genericFailureNotice)
		return bus.RoutingOutcome{Kind: bus.OutcomeContentHandled, ContentKind: kind}, err
	}
	return bus.RoutingOutcome{Kind: bus.OutcomeContentHandled, ContentKind: kind}, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// sendNotice delivers a user-facing notice on a background context so a
// cancelled request can still explain itself. Failures are logged only.
func (r *Router) sendNotice(convID, text string) {
	if err := r.notify.Notify(context.Background(), convID, text); err != nil {
		slog.Warn("notice delivery failed", "conversation_id", convID, "error", err)
	}
}
