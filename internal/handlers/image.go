package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/inlet/internal/assets"
	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// ImageHandler downloads every photo in the message, validates it, and
// re-encodes oversized images before forwarding. Items are independent:
// one bad image is skipped with a note, the rest still go through.
type ImageHandler struct {
	fwd    Forwarder
	assets *assets.Manager
	limits Limits
}

func (h *ImageHandler) Handle(ctx context.Context, msg *bus.CombinedMessage, agentMode bool) error {
	scope := h.assets.NewScope()
	defer scope.Close()

	var attachments []Attachment
	var skipped []string
	for _, ev := range msg.Images() {
		if ev.Media == nil {
			continue
		}
		att, err := h.prepare(ctx, scope, *ev.Media)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("image skipped",
				"conversation_id", msg.ConversationID,
				"event_id", ev.EventID,
				"error", err)
			skipped = append(skipped, userReason(err))
			continue
		}
		attachments = append(attachments, att)
	}

	if len(attachments) == 0 {
		return &RejectionError{Reason: "No usable images: " + strings.Join(skipped, "; ")}
	}

	req := baseRequest(msg, agentMode)
	req.Attachments = attachments
	if err := h.fwd.Forward(ctx, req); err != nil {
		return fmt.Errorf("forward images: %w", err)
	}
	return nil
}

func (h *ImageHandler) prepare(ctx context.Context, scope *assets.Scope, ref bus.MediaRef) (Attachment, error) {
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
	if !strings.HasPrefix(mime, "image/") {
		return Attachment{}, &RejectionError{Reason: "file is not an image"}
	}

	path, err = h.shrink(scope, path)
	if err != nil {
		return Attachment{}, err
	}
	return Attachment{Path: path, MIME: mime, Kind: bus.KindPhoto}, nil
}

// shrink re-encodes the image as JPEG bounded to the configured longest
// edge. Images already within bounds pass through untouched.
func (h *ImageHandler) shrink(scope *assets.Scope, path string) (string, error) {
	if h.limits.MaxImageDim <= 0 {
		return path, nil
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= h.limits.MaxImageDim && b.Dy() <= h.limits.MaxImageDim {
		return path, nil
	}

	resized := imaging.Fit(img, h.limits.MaxImageDim, h.limits.MaxImageDim, imaging.Lanczos)
	out := strings.TrimSuffix(path, filepath.Ext(path)) + "_fit.jpg"
	if err := imaging.Save(resized, out, imaging.JPEGQuality(85)); err != nil {
		// A partial output must not outlive the failure.
		os.Remove(out)
		return "", fmt.Errorf("re-encode image: %w", err)
	}
	scope.Adopt(out)
	return out, nil
}
