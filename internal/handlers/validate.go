package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nextlevelbuilder/inlet/internal/assets"
	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// RejectionError carries a reason safe to show the sender: it names the
// offending category (type, size) without internal paths or detected
// MIME strings. The router relays the reason instead of the generic
// failure notice.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

// Limits bounds what media the gateway accepts. Zero-value fields mean
// no restriction for that dimension.
type Limits struct {
	MaxBytes    int64
	AllowedExt  []string // lowercase, with dot: ".jpg"
	MIMEPrefix  []string // accepted detected-MIME prefixes: "image/"
	MaxImageDim int      // longest image edge after re-encode
}

// DefaultLimits mirrors the platform caps the gateway is deployed behind.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes: 20 << 20,
		AllowedExt: []string{
			".jpg", ".jpeg", ".png", ".gif", ".webp",
			".ogg", ".oga", ".mp3", ".m4a", ".wav",
			".mp4", ".mov", ".webm",
			".pdf", ".txt", ".md", ".csv", ".json", ".zip",
		},
		MIMEPrefix: []string{
			"image/", "audio/", "video/",
			"application/pdf", "application/zip",
			"text/", "application/json",
		},
		MaxImageDim: 2048,
	}
}

// validateRef rejects a media reference before download using its declared
// metadata. Error messages name the offending type or size, never file
// paths or internal identifiers.
func validateRef(ref bus.MediaRef, limits Limits) error {
	if limits.MaxBytes > 0 && ref.Size > limits.MaxBytes {
		return &RejectionError{Reason: fmt.Sprintf("file too large: %d bytes (limit %d)", ref.Size, limits.MaxBytes)}
	}
	if len(limits.AllowedExt) > 0 && ref.FileName != "" {
		ext := strings.ToLower(filepath.Ext(ref.FileName))
		if ext != "" && !contains(limits.AllowedExt, ext) {
			return &RejectionError{Reason: fmt.Sprintf("unsupported file type %q", ext)}
		}
	}
	return nil
}

// validateFile checks a downloaded file against the limits: actual size,
// and content-sniffed MIME type. The declared MIME from the platform is
// advisory only; the sniffed type decides.
func validateFile(path string, limits Limits) (detectedMIME string, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat downloaded file: %w", err)
	}
	if limits.MaxBytes > 0 && info.Size() > limits.MaxBytes {
		return "", &RejectionError{Reason: fmt.Sprintf("file too large: %d bytes (limit %d)", info.Size(), limits.MaxBytes)}
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect file type: %w", err)
	}
	detected := mt.String()

	if len(limits.MIMEPrefix) > 0 {
		ok := false
		for _, prefix := range limits.MIMEPrefix {
			if strings.HasPrefix(detected, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			// The detected type goes to the debug log, never into the
			// error; rejection reasons name the category only.
			slog.Debug("file content type rejected", "detected", detected)
			return "", &RejectionError{Reason: "unsupported file type"}
		}
	}
	return detected, nil
}

// fetchValidated runs the full per-item pipeline: pre-download checks on
// the declared metadata, download into the scope, then checks on the file
// as it actually is.
func fetchValidated(ctx context.Context, scope *assets.Scope, ref bus.MediaRef, limits Limits) (path, mime string, err error) {
	if err := validateRef(ref, limits); err != nil {
		return "", "", err
	}
	path, err = scope.Acquire(ctx, ref)
	if err != nil {
		return "", "", err
	}
	mime, err = validateFile(path, limits)
	if err != nil {
		return "", "", err
	}
	return path, mime, nil
}

// userReason reduces a per-item failure to something safe to echo back.
// Rejections carry their own wording; anything else (download, decode)
// collapses to a neutral phrase.
func userReason(err error) string {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason
	}
	return "processing failed"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
