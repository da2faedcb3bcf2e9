package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// Notifier sends a short text back to the conversation.
type Notifier interface {
	Notify(ctx context.Context, convID, text string) error
}

// CollectControl is the collect-mode surface commands operate on.
type CollectControl interface {
	Start(convID string)
	Cancel(convID string) int
	IsCollecting(convID string) bool
}

// ModeSwitch toggles and reports a conversation's agent mode.
type ModeSwitch interface {
	IsAgentMode(convID string) bool
	SetAgentMode(convID string, on bool)
}

// Resetter clears downstream conversation state. Optional.
type Resetter interface {
	Reset(ctx context.Context, convID string) error
}

// Status is a point-in-time snapshot rendered by /status.
type Status struct {
	Uptime      time.Duration
	ActiveTasks int
}

// StatusFunc supplies the current Status.
type StatusFunc func() Status

// Executor runs recognized commands against the gateway's services.
type Executor struct {
	notify  Notifier
	collect CollectControl
	modes   ModeSwitch
	reset   Resetter // may be nil
	status  StatusFunc
}

func NewExecutor(notify Notifier, collect CollectControl, modes ModeSwitch, reset Resetter, status StatusFunc) *Executor {
	return &Executor{notify: notify, collect: collect, modes: modes, reset: reset, status: status}
}

const helpText = `Commands:
/help - this list
/status - gateway status
/collect - hold messages until you send the release phrase
/stop - cancel collect mode
/agent on|off - toggle agent mode for this conversation
/reset - clear conversation state
/stop and /collect only affect this conversation.`

// Execute runs one command. Errors are reported to the caller; user-facing
// confirmation goes through the notifier.
func (e *Executor) Execute(ctx context.Context, msg *bus.CombinedMessage, cmd Command) error {
	conv := msg.ConversationID
	switch cmd.Kind {
	case "start":
		return e.notify.Notify(ctx, conv, "Hello! Send me text, photos, voice notes, or documents. /help lists the commands.")

	case "help":
		return e.notify.Notify(ctx, conv, helpText)

	case "collect":
		e.collect.Start(conv)
		return e.notify.Notify(ctx, conv, "Collecting. Send messages, then the release phrase on its own to process them together.")

	case "stop":
		if e.collect.IsCollecting(conv) {
			n := e.collect.Cancel(conv)
			return e.notify.Notify(ctx, conv, fmt.Sprintf("Collect mode cancelled, %d held message(s) discarded.", n))
		}
		return e.notify.Notify(ctx, conv, "Nothing to stop.")

	case "reset":
		if e.reset != nil {
			if err := e.reset.Reset(ctx, conv); err != nil {
				return fmt.Errorf("reset conversation: %w", err)
			}
		}
		e.collect.Cancel(conv)
		return e.notify.Notify(ctx, conv, "Conversation state cleared.")

	case "agent":
		if len(cmd.Args) != 1 {
			return e.notify.Notify(ctx, conv, "Usage: /agent on|off")
		}
		switch strings.ToLower(cmd.Args[0]) {
		case "on":
			e.modes.SetAgentMode(conv, true)
			return e.notify.Notify(ctx, conv, "Agent mode on.")
		case "off":
			e.modes.SetAgentMode(conv, false)
			return e.notify.Notify(ctx, conv, "Agent mode off.")
		default:
			return e.notify.Notify(ctx, conv, "Usage: /agent on|off")
		}

	case "status":
		st := e.status()
		var sb strings.Builder
		fmt.Fprintf(&sb, "Up %s, %d background task(s).", st.Uptime.Round(time.Second), st.ActiveTasks)
		if e.collect.IsCollecting(conv) {
			sb.WriteString(" Collect mode is on.")
		}
		if e.modes.IsAgentMode(conv) {
			sb.WriteString(" Agent mode is on.")
		}
		return e.notify.Notify(ctx, conv, sb.String())

	default:
		return e.notify.Notify(ctx, conv, fmt.Sprintf("Unknown command /%s. Try /help.", cmd.Kind))
	}
}
