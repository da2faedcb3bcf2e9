// Package buffer implements per-conversation aggregation of inbound events.
// Rapid-fire events from one conversation are merged into a single
// CombinedMessage under a sliding debounce window, bounded by an absolute
// cap and a capacity limit. Flushed messages for one conversation are
// delivered to the sink strictly in flush order, one at a time;
// different conversations deliver concurrently.
package buffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/inlet/internal/bus"
	"github.com/nextlevelbuilder/inlet/internal/metrics"
)

// Sink consumes one flushed CombinedMessage. The manager guarantees that
// for a given conversation the previous call has returned before the next
// message is delivered.
type Sink func(ctx context.Context, msg *bus.CombinedMessage)

// Config bounds the aggregation window.
type Config struct {
	Debounce    time.Duration // sliding window after the last event
	AbsoluteCap time.Duration // max window measured from buffer creation
	MaxCapacity int           // events kept per buffer; extras are refused
}

const (
	DefaultDebounce    = 1 * time.Second
	DefaultAbsoluteCap = 10 * time.Second
	DefaultMaxCapacity = 32
)

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.AbsoluteCap <= 0 {
		c.AbsoluteCap = DefaultAbsoluteCap
	}
	if c.MaxCapacity <= 0 {
		c.MaxCapacity = DefaultMaxCapacity
	}
	return c
}

// pending is the mutable buffer for one conversation between creation and
// flush. It never survives its own flush.
type pending struct {
	events   []bus.InboundEvent
	overflow int
	debounce *time.Timer
	capTimer *time.Timer
}

// conversation holds per-conversation state: the open buffer (if any) and
// the delivery queue of flushed messages awaiting the sink.
type conversation struct {
	buf        *pending
	queue      []*bus.CombinedMessage
	delivering bool
}

// Manager owns all conversation buffers. Safe for concurrent use.
type Manager struct {
	cfg  Config
	sink Sink

	mu     sync.Mutex
	convs  map[string]*conversation
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewManager creates a buffer manager delivering flushed messages to sink.
func NewManager(cfg Config, sink Sink) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg.withDefaults(),
		sink:   sink,
		convs:  make(map[string]*conversation),
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnEvent buffers one inbound event. For a new conversation it opens a
// buffer and arms the debounce and absolute-cap timers; for an existing
// buffer it appends and extends the debounce window. Past capacity the
// event is refused and counted; already-buffered events are never dropped,
// which preserves command and caption ordering. This method never fails.
func (m *Manager) OnEvent(ev bus.InboundEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		slog.Warn("event dropped: buffer manager closed",
			"conversation_id", ev.ConversationID, "event_id", ev.EventID)
		return
	}

	c := m.convs[ev.ConversationID]
	if c == nil {
		c = &conversation{}
		m.convs[ev.ConversationID] = c
	}

	if c.buf == nil {
		// The absolute cap is measured from buffer creation, not from the
		// platform's event timestamp: a backlogged update must not flush
		// the moment it is buffered.
		buf := &pending{events: []bus.InboundEvent{ev}}
		convID := ev.ConversationID
		buf.debounce = time.AfterFunc(m.cfg.Debounce, func() { m.timerFlush(convID, buf) })
		buf.capTimer = time.AfterFunc(m.cfg.AbsoluteCap, func() { m.timerFlush(convID, buf) })
		c.buf = buf
		return
	}

	if len(c.buf.events) >= m.cfg.MaxCapacity {
		c.buf.overflow++
		metrics.OverflowEvents.Inc()
		slog.Debug("event refused: buffer at capacity",
			"conversation_id", ev.ConversationID,
			"event_id", ev.EventID,
			"overflow", c.buf.overflow)
		return
	}

	c.buf.events = append(c.buf.events, ev)
	// Sliding window: each arrival pushes the flush deadline out by the
	// debounce duration. The absolute-cap timer is armed once at creation
	// and bounds worst-case latency regardless of resets.
	c.buf.debounce.Reset(m.cfg.Debounce)
}

// timerFlush runs on timer expiry. The buffer identity check guards
// against a stale timer firing after its buffer was already flushed.
func (m *Manager) timerFlush(convID string, buf *pending) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.convs[convID]
	if c == nil || c.buf != buf {
		return
	}
	m.flushLocked(convID, c)
}

// flushLocked finalizes the open buffer into a CombinedMessage, discards
// the buffer, and enqueues the message for serialized delivery.
// Caller holds m.mu.
func (m *Manager) flushLocked(convID string, c *conversation) {
	buf := c.buf
	c.buf = nil
	buf.debounce.Stop()
	buf.capTimer.Stop()

	first := buf.events[0]
	msg := &bus.CombinedMessage{
		ConversationID: convID,
		SenderID:       first.SenderID,
		Events:         buf.events,
		OverflowCount:  buf.overflow,
		ReplyToEventID: first.ReplyToEventID,
	}
	metrics.FlushesTotal.Inc()

	c.queue = append(c.queue, msg)
	if !c.delivering {
		c.delivering = true
		m.wg.Add(1)
		go m.deliver(convID)
	}
}

// deliver drains one conversation's queue in order. Exactly one deliver
// goroutine runs per conversation at a time, which is what serializes
// routing within a conversation while leaving conversations independent.
func (m *Manager) deliver(convID string) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		c := m.convs[convID]
		if c == nil || len(c.queue) == 0 {
			if c != nil {
				c.delivering = false
				if c.buf == nil && len(c.queue) == 0 {
					delete(m.convs, convID)
				}
			}
			m.mu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		m.mu.Unlock()

		m.sink(m.ctx, msg)
	}
}

// PendingConversations returns how many conversations currently hold an
// open buffer or undelivered messages.
func (m *Manager) PendingConversations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// Shutdown flushes every open buffer, stops accepting events, and waits
// for in-flight deliveries bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for convID, c := range m.convs {
		if c.buf != nil {
			m.flushLocked(convID, c)
		}
	}
	m.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
}
