package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/inlet/internal/assets"
	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// VideoHandler downloads videos and, when a transcriber is configured,
// extracts the audio track with ffmpeg and forwards its transcript
// alongside the video.
type VideoHandler struct {
	fwd    Forwarder
	assets *assets.Manager
	stt    Transcriber
	limits Limits

	// ffmpegPath overrides the binary looked up on PATH. Tests use it.
	ffmpegPath string
}

func (h *VideoHandler) Handle(ctx context.Context, msg *bus.CombinedMessage, agentMode bool) error {
	scope := h.assets.NewScope()
	defer scope.Close()

	var transcripts []string
	var attachments []Attachment
	var skipped []string
	for _, ev := range msg.Videos() {
		if ev.Media == nil {
			continue
		}
		path, mime, err := fetchValidated(ctx, scope, *ev.Media, h.limits)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("video skipped",
				"conversation_id", msg.ConversationID,
				"event_id", ev.EventID,
				"error", err)
			skipped = append(skipped, userReason(err))
			continue
		}
		attachments = append(attachments, Attachment{Path: path, MIME: mime, Kind: bus.KindVideo})

		if h.stt == nil {
			continue
		}
		text, err := h.transcribeAudioTrack(ctx, scope, path)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("video transcription failed",
				"conversation_id", msg.ConversationID,
				"event_id", ev.EventID,
				"error", err)
			continue
		}
		if text != "" {
			transcripts = append(transcripts, text)
		}
	}

	if len(attachments) == 0 {
		reason := "No usable videos."
		if len(skipped) > 0 {
			reason = "No usable videos: " + strings.Join(skipped, "; ")
		}
		return &RejectionError{Reason: reason}
	}

	req := baseRequest(msg, agentMode)
	if len(transcripts) > 0 {
		req.Text = joinNonEmpty("Video audio transcript: "+strings.Join(transcripts, " "), req.Text)
	}
	req.Attachments = attachments
	if err := h.fwd.Forward(ctx, req); err != nil {
		return fmt.Errorf("forward video: %w", err)
	}
	return nil
}

// transcribeAudioTrack extracts the audio track into a temp file owned by
// the scope and runs it through the transcriber.
func (h *VideoHandler) transcribeAudioTrack(ctx context.Context, scope *assets.Scope, videoPath string) (string, error) {
	bin := h.ffmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	audioPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + "_audio.ogg"

	cmd := exec.CommandContext(ctx, bin,
		"-i", videoPath,
		"-vn",
		"-acodec", "libopus",
		"-y",
		audioPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(audioPath)
		return "", fmt.Errorf("extract audio track: %w (%s)", err, firstLine(out))
	}
	scope.Adopt(audioPath)

	return h.stt.Transcribe(ctx, audioPath)
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
