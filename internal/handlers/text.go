package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// TextHandler forwards the combined text with no asset work.
type TextHandler struct {
	fwd Forwarder
}

func (h *TextHandler) Handle(ctx context.Context, msg *bus.CombinedMessage, agentMode bool) error {
	req := baseRequest(msg, agentMode)
	if strings.TrimSpace(req.Text) == "" {
		return nil
	}
	if err := h.fwd.Forward(ctx, req); err != nil {
		return fmt.Errorf("forward text: %w", err)
	}
	return nil
}

// ContactHandler renders shared contacts as text.
type ContactHandler struct {
	fwd Forwarder
}

func (h *ContactHandler) Handle(ctx context.Context, msg *bus.CombinedMessage, agentMode bool) error {
	var sb strings.Builder
	for _, ev := range msg.Contacts() {
		c := ev.Contact
		sb.WriteString("Shared contact: ")
		sb.WriteString(strings.TrimSpace(c.Name))
		if c.Phone != "" {
			sb.WriteString(" (")
			sb.WriteString(c.Phone)
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}

	req := baseRequest(msg, agentMode)
	req.Text = joinNonEmpty(sb.String(), req.Text)
	if err := h.fwd.Forward(ctx, req); err != nil {
		return fmt.Errorf("forward contact: %w", err)
	}
	return nil
}

// PollHandler renders polls as a question with its options.
type PollHandler struct {
	fwd Forwarder
}

func (h *PollHandler) Handle(ctx context.Context, msg *bus.CombinedMessage, agentMode bool) error {
	var sb strings.Builder
	for _, ev := range msg.Polls() {
		p := ev.Poll
		fmt.Fprintf(&sb, "Poll: %s\n", p.Question)
		for i, opt := range p.Options {
			fmt.Fprintf(&sb, "  %d. %s\n", i+1, opt)
		}
	}

	req := baseRequest(msg, agentMode)
	req.Text = joinNonEmpty(sb.String(), req.Text)
	if err := h.fwd.Forward(ctx, req); err != nil {
		return fmt.Errorf("forward poll: %w", err)
	}
	return nil
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n")
}
