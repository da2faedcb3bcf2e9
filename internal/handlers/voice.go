package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/inlet/internal/assets"
	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// VoiceHandler downloads voice notes and forwards their transcripts.
// Without a transcriber the audio is forwarded as an attachment with a
// note that no transcript is available.
type VoiceHandler struct {
	fwd    Forwarder
	assets *assets.Manager
	stt    Transcriber
	limits Limits
}

func (h *VoiceHandler) Handle(ctx context.Context, msg *bus.CombinedMessage, agentMode bool) error {
	scope := h.assets.NewScope()
	defer scope.Close()

	var transcripts []string
	var attachments []Attachment
	var skipped []string
	for _, ev := range msg.Voices() {
		if ev.Media == nil {
			continue
		}
		path, mime, err := fetchValidated(ctx, scope, *ev.Media, h.limits)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Items are independent: one bad voice note must not take
			// its siblings down with it.
			slog.Warn("voice message skipped",
				"conversation_id", msg.ConversationID,
				"event_id", ev.EventID,
				"error", err)
			skipped = append(skipped, userReason(err))
			continue
		}

		if h.stt == nil {
			attachments = append(attachments, Attachment{Path: path, MIME: mime, Kind: bus.KindVoice})
			continue
		}
		text, err := h.stt.Transcribe(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transcription is best effort; fall back to the raw audio.
			slog.Warn("transcription failed, forwarding audio",
				"conversation_id", msg.ConversationID,
				"event_id", ev.EventID,
				"error", err)
			attachments = append(attachments, Attachment{Path: path, MIME: mime, Kind: bus.KindVoice})
			continue
		}
		transcripts = append(transcripts, text)
	}

	if len(transcripts) == 0 && len(attachments) == 0 {
		reason := "No usable voice messages."
		if len(skipped) > 0 {
			reason = "No usable voice messages: " + strings.Join(skipped, "; ")
		}
		return &RejectionError{Reason: reason}
	}

	req := baseRequest(msg, agentMode)
	if len(transcripts) > 0 {
		req.Text = joinNonEmpty("Voice message transcript: "+strings.Join(transcripts, " "), req.Text)
	}
	req.Attachments = attachments
	if err := h.fwd.Forward(ctx, req); err != nil {
		return fmt.Errorf("forward voice: %w", err)
	}
	return nil
}
