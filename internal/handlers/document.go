package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nextlevelbuilder/inlet/internal/assets"
	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// DocumentHandler downloads attached documents, validates type and size,
// and forwards them. Items are independent.
type DocumentHandler struct {
	fwd    Forwarder
	assets *assets.Manager
	limits Limits
}

func (h *DocumentHandler) Handle(ctx context.Context, msg *bus.CombinedMessage, agentMode bool) error {
	scope := h.assets.NewScope()
	defer scope.Close()

	var attachments []Attachment
	var skipped []string
	for _, ev := range msg.Documents() {
		if ev.Media == nil {
			continue
		}
		att, err := h.prepare(ctx, scope, *ev.Media)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("document skipped",
				"conversation_id", msg.ConversationID,
				"event_id", ev.EventID,
				"error", err)
			skipped = append(skipped, userReason(err))
			continue
		}
		attachments = append(attachments, att)
	}

	if len(attachments) == 0 {
		return &RejectionError{Reason: "No usable documents: " + strings.Join(skipped, "; ")}
	}

	req := baseRequest(msg, agentMode)
	req.Attachments = attachments
	if excerpt := extractText(attachments); excerpt != "" {
		req.Text = joinNonEmpty(excerpt, req.Text)
	}
	if err := h.fwd.Forward(ctx, req); err != nil {
		return fmt.Errorf("forward documents: %w", err)
	}
	return nil
}

// extractTextLimit bounds how much of a text document is inlined.
const extractTextLimit = 64 << 10

// extractText inlines the content of plain-text attachments so the
// downstream consumer gets the words, not just a file path.
func extractText(attachments []Attachment) string {
	var parts []string
	for _, att := range attachments {
		if !strings.HasPrefix(att.MIME, "text/") && att.MIME != "application/json" {
			continue
		}
		data, err := os.ReadFile(att.Path)
		if err != nil {
			slog.Warn("document text extraction failed", "error", err)
			continue
		}
		if len(data) > extractTextLimit {
			data = data[:extractTextLimit]
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, "\n")
}

func (h *DocumentHandler) prepare(ctx context.Context, scope *assets.Scope, ref bus.MediaRef) (Attachment, error) {
	if err := validateRef(ref, h.limits); err != nil {
		return Attachment{}, err
	}
	path, err := scope.Acquire(ctx, ref)
	if err != nil {
		return Attachment{}, err
	}
	mime, err := validateFile(path, h.limits)
	if err != nil {
		return Attachment{}, err
	}
	return Attachment{Path: path, MIME: mime, Kind: bus.KindDocument}, nil
}
