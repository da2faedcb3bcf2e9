// Package handlers processes combined messages by content kind: media is
// downloaded into a managed scope, validated, post-processed, and forwarded
// downstream. Attachment paths are only valid for the duration of the
// Forward call; every temp file is removed when the handler returns.
package handlers

import (
	"context"

	"github.com/nextlevelbuilder/inlet/internal/assets"
	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// Attachment is one processed file handed downstream. Path points at a
// temp file owned by the handler's asset scope.
type Attachment struct {
	Path string
	MIME string
	Kind bus.ContentKind
}

// ForwardRequest is the processed form of a combined message.
type ForwardRequest struct {
	ConversationID string
	SenderID       string
	Text           string
	Attachments    []Attachment
	AgentMode      bool
	ReplyToEventID int64
}

// Forwarder delivers processed content to the downstream consumer.
// Attachment paths are not valid after Forward returns.
type Forwarder interface {
	Forward(ctx context.Context, req ForwardRequest) error
}

// Handler processes one combined message of its content kind.
type Handler interface {
	Handle(ctx context.Context, msg *bus.CombinedMessage, agentMode bool) error
}

// Set bundles one handler per content kind, sharing the forwarder and
// asset manager.
type Set struct {
	Text     Handler
	Image    Handler
	Voice    Handler
	Video    Handler
	Document Handler
	Contact  Handler
	Poll     Handler
}

// NewSet wires the standard handlers. stt may be nil, in which case voice
// and video messages are forwarded without a transcript.
func NewSet(fwd Forwarder, mgr *assets.Manager, stt Transcriber, limits Limits) *Set {
	return &Set{
		Text:     &TextHandler{fwd: fwd},
		Image:    &ImageHandler{fwd: fwd, assets: mgr, limits: limits},
		Voice:    &VoiceHandler{fwd: fwd, assets: mgr, stt: stt, limits: limits},
		Video:    &VideoHandler{fwd: fwd, assets: mgr, stt: stt, limits: limits},
		Document: &DocumentHandler{fwd: fwd, assets: mgr, limits: limits},
		Contact:  &ContactHandler{fwd: fwd},
		Poll:     &PollHandler{fwd: fwd},
	}
}

// ForKind returns the handler for a content kind, or nil when the kind
// has no content handler (commands are resolved before dispatch).
func (s *Set) ForKind(kind bus.ContentKind) Handler {
	switch kind {
	case bus.KindText:
		return s.Text
	case bus.KindPhoto:
		return s.Image
	case bus.KindVoice:
		return s.Voice
	case bus.KindVideo:
		return s.Video
	case bus.KindDocument:
		return s.Document
	case bus.KindContact:
		return s.Contact
	case bus.KindPoll:
		return s.Poll
	default:
		return nil
	}
}

func baseRequest(msg *bus.CombinedMessage, agentMode bool) ForwardRequest {
	return ForwardRequest{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.CombinedText(),
		AgentMode:      agentMode,
		ReplyToEventID: msg.ReplyToEventID,
	}
}
