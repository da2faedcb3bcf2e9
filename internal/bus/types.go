// Package bus defines the typed message model shared between the transport
// adapters and the aggregation/routing core. Transport adapters produce
// InboundEvents; the buffer manager merges them into CombinedMessages which
// the router consumes exactly once.
package bus

import "time"

// ContentKind classifies the payload of an inbound event.
type ContentKind string

const (
	KindText     ContentKind = "text"
	KindPhoto    ContentKind = "photo"
	KindVoice    ContentKind = "voice"
	KindVideo    ContentKind = "video"
	KindDocument ContentKind = "document"
	KindContact  ContentKind = "contact"
	KindPoll     ContentKind = "poll"
	KindCommand  ContentKind = "command"
)

// MediaRef is an opaque reference to a media object held by the transport's
// media store. The media store collaborator resolves it to a local file.
type MediaRef struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"` // declared by the transport, not trusted
	Size     int64  `json:"size,omitempty"`
}

// PollPayload carries a poll question and its options.
type PollPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// ContactPayload carries a shared contact card.
type ContactPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// InboundEvent is one raw arrival from the transport. Immutable once
// created; owned by the buffer manager until flushed.
type InboundEvent struct {
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	EventID        int64       `json:"event_id"` // unique, monotonic per conversation
	ArrivedAt      time.Time   `json:"arrived_at"`
	Kind           ContentKind `json:"kind"`

	Text    string          `json:"text,omitempty"` // body text, or caption for media kinds
	Media   *MediaRef       `json:"media,omitempty"`
	Poll    *PollPayload    `json:"poll,omitempty"`
	Contact *ContactPayload `json:"contact,omitempty"`

	ReplyToEventID int64 `json:"reply_to_event_id,omitempty"` // 0 = not a reply
}

// HasText reports whether the event carries a non-empty text payload
// (body text for text/command events, caption for media events).
func (e InboundEvent) HasText() bool { return e.Text != "" }

// CombinedMessage is the aggregate produced by one buffer flush.
// Created once at flush time, immutable thereafter, consumed by exactly
// one router invocation.
type CombinedMessage struct {
	ConversationID string
	SenderID       string
	Events         []InboundEvent // arrival order, load-bearing for CombinedText
	OverflowCount  int            // events refused past capacity before this flush
	ReplyToEventID int64          // resolved from the first event, 0 if none
}

// CombinedText concatenates all text-bearing payloads in arrival order,
// space-separated.
func (m *CombinedMessage) CombinedText() string {
	var out []byte
	for _, e := range m.Events {
		if !e.HasText() {
			continue
		}
		if len(out) > 0 {
			out = append(out, ' ')
		}
		out = append(out, e.Text...)
	}
	return string(out)
}

func (m *CombinedMessage) filter(kind ContentKind) []InboundEvent {
	var out []InboundEvent
	for _, e := range m.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Images returns the photo events in arrival order. The returned slice is a
// filtered view; the events themselves are shared, not copied.
func (m *CombinedMessage) Images() []InboundEvent { return m.filter(KindPhoto) }

// Voices returns the voice events in arrival order.
func (m *CombinedMessage) Voices() []InboundEvent { return m.filter(KindVoice) }

// Videos returns the video events in arrival order.
func (m *CombinedMessage) Videos() []InboundEvent { return m.filter(KindVideo) }

// Documents returns the document events in arrival order.
func (m *CombinedMessage) Documents() []InboundEvent { return m.filter(KindDocument) }

// Contacts returns the contact events in arrival order.
func (m *CombinedMessage) Contacts() []InboundEvent { return m.filter(KindContact) }

// Polls returns the poll events in arrival order.
func (m *CombinedMessage) Polls() []InboundEvent { return m.filter(KindPoll) }

// HasKind reports whether any event in the message has the given kind.
func (m *CombinedMessage) HasKind(kind ContentKind) bool {
	for _, e := range m.Events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// OutcomeKind tags the routing decision taken for one CombinedMessage.
type OutcomeKind string

const (
	OutcomePluginHandled    OutcomeKind = "plugin_handled"
	OutcomeCommandHandled   OutcomeKind = "command_handled"
	OutcomeCollectQueued    OutcomeKind = "collect_queued"
	OutcomeCollectTriggered OutcomeKind = "collect_triggered"
	OutcomeContentHandled   OutcomeKind = "content_handled"
	OutcomeEmpty            OutcomeKind = "empty"
)

// RoutingOutcome records which branch of the priority policy claimed a
// message. Transient; exists to make routing decisions auditable in tests.
type RoutingOutcome struct {
	Kind        OutcomeKind
	ContentKind ContentKind // set for OutcomeContentHandled
	Command     string      // set for OutcomeCommandHandled
}
