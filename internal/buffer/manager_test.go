package buffer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// collectSink records delivered messages and optionally blocks each
// delivery until released.
type collectSink struct {
	mu    sync.Mutex
	msgs  []*bus.CombinedMessage
	block chan struct{} // nil = don't block
}

func (s *collectSink) sink(_ context.Context, msg *bus.CombinedMessage) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *collectSink) snapshot() []*bus.CombinedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*bus.CombinedMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *collectSink) waitFor(t *testing.T, n int, timeout time.Duration) []*bus.CombinedMessage {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msgs := s.snapshot(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d deliveries, got %d", n, len(s.snapshot()))
	return nil
}

func textEvent(conv string, id int64, text string) bus.InboundEvent {
	return bus.InboundEvent{
		ConversationID: conv,
		SenderID:       "u1",
		EventID:        id,
		ArrivedAt:      time.Now(),
		Kind:           bus.KindText,
		Text:           text,
	}
}

func TestOrdering_CombinedTextPreservesArrivalOrder(t *testing.T) {
	s := &collectSink{}
	m := NewManager(Config{Debounce: 50 * time.Millisecond, AbsoluteCap: time.Second, MaxCapacity: 10}, s.sink)

	for i, text := range []string{"a", "b", "c"} {
		m.OnEvent(textEvent("c1", int64(i+1), text))
	}

	msgs := s.waitFor(t, 1, time.Second)
	if got := msgs[0].CombinedText(); got != "a b c" {
		t.Errorf("CombinedText() = %q, want %q", got, "a b c")
	}
	if len(msgs[0].Events) != 3 {
		t.Errorf("len(Events) = %d, want 3", len(msgs[0].Events))
	}
}

func TestCapacity_RefusesNewestAndCountsOverflow(t *testing.T) {
	s := &collectSink{}
	m := NewManager(Config{Debounce: 50 * time.Millisecond, AbsoluteCap: time.Second, MaxCapacity: 3}, s.sink)

	for i := 1; i <= 5; i++ {
		m.OnEvent(textEvent("c1", int64(i), fmt.Sprintf("m%d", i)))
	}

	msgs := s.waitFor(t, 1, time.Second)
	if len(msgs[0].Events) != 3 {
		t.Errorf("len(Events) = %d, want 3", len(msgs[0].Events))
	}
	if msgs[0].OverflowCount != 2 {
		t.Errorf("OverflowCount = %d, want 2", msgs[0].OverflowCount)
	}
	// Oldest-first retention: the first three survive.
	if got := msgs[0].CombinedText(); got != "m1 m2 m3" {
		t.Errorf("CombinedText() = %q, want %q", got, "m1 m2 m3")
	}
}

func TestDebounce_ResetsDeadlinePerArrival(t *testing.T) {
	s := &collectSink{}
	const d = 120 * time.Millisecond
	m := NewManager(Config{Debounce: d, AbsoluteCap: 5 * time.Second, MaxCapacity: 10}, s.sink)

	m.OnEvent(textEvent("c1", 1, "a"))
	time.Sleep(d / 2)
	m.OnEvent(textEvent("c1", 2, "b"))

	// Half a window after the second event the flush must not have
	// happened yet (the first event's deadline was extended).
	time.Sleep(d / 2)
	if n := len(s.snapshot()); n != 0 {
		t.Fatalf("flushed too early: %d deliveries", n)
	}

	msgs := s.waitFor(t, 1, time.Second)
	if got := msgs[0].CombinedText(); got != "a b" {
		t.Errorf("CombinedText() = %q, want %q", got, "a b")
	}
}

func TestAbsoluteCap_BoundsWorstCaseLatency(t *testing.T) {
	s := &collectSink{}
	m := NewManager(Config{Debounce: 60 * time.Millisecond, AbsoluteCap: 150 * time.Millisecond, MaxCapacity: 100}, s.sink)

	// Keep resetting the debounce window; the cap must still flush.
	stop := make(chan struct{})
	go func() {
		id := int64(1)
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.OnEvent(textEvent("c1", id, "x"))
				id++
			}
		}
	}()
	defer close(stop)

	s.waitFor(t, 1, time.Second)
}

func TestSameConversation_SerializedDelivery(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	sink := func(_ context.Context, _ *bus.CombinedMessage) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
	}

	m := NewManager(Config{Debounce: 20 * time.Millisecond, AbsoluteCap: time.Second, MaxCapacity: 10}, sink)

	// Three bursts for the same conversation, spaced past the debounce.
	for burst := 0; burst < 3; burst++ {
		m.OnEvent(textEvent("c1", int64(burst), "x"))
		time.Sleep(60 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent deliveries for one conversation = %d, want 1", maxInFlight.Load())
	}
}

func TestDifferentConversations_DeliverConcurrently(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	both := make(chan struct{})
	var once sync.Once
	sink := func(_ context.Context, _ *bus.CombinedMessage) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		if cur >= 2 {
			once.Do(func() { close(both) })
		}
		<-both // hold until both conversations are mid-flight
		inFlight.Add(-1)
	}

	m := NewManager(Config{Debounce: 20 * time.Millisecond, AbsoluteCap: time.Second, MaxCapacity: 10}, sink)
	m.OnEvent(textEvent("c1", 1, "x"))
	m.OnEvent(textEvent("c2", 1, "y"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if maxInFlight.Load() < 2 {
		t.Errorf("conversations never observed mid-flight simultaneously (max = %d)", maxInFlight.Load())
	}
}

func TestFlushOrder_SameConversation(t *testing.T) {
	s := &collectSink{}
	m := NewManager(Config{Debounce: 20 * time.Millisecond, AbsoluteCap: time.Second, MaxCapacity: 10}, s.sink)

	m.OnEvent(textEvent("c1", 1, "first"))
	time.Sleep(60 * time.Millisecond)
	m.OnEvent(textEvent("c1", 2, "second"))

	msgs := s.waitFor(t, 2, time.Second)
	if msgs[0].CombinedText() != "first" || msgs[1].CombinedText() != "second" {
		t.Errorf("flush order broken: %q, %q", msgs[0].CombinedText(), msgs[1].CombinedText())
	}
}

func TestShutdown_FlushesOpenBuffers(t *testing.T) {
	s := &collectSink{}
	m := NewManager(Config{Debounce: time.Hour, AbsoluteCap: 2 * time.Hour, MaxCapacity: 10}, s.sink)

	m.OnEvent(textEvent("c1", 1, "pending"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	msgs := s.snapshot()
	if len(msgs) != 1 || msgs[0].CombinedText() != "pending" {
		t.Errorf("open buffer not flushed on shutdown: %+v", msgs)
	}

	// Events after shutdown are dropped silently.
	m.OnEvent(textEvent("c1", 2, "late"))
	time.Sleep(20 * time.Millisecond)
	if len(s.snapshot()) != 1 {
		t.Error("event accepted after shutdown")
	}
}

func TestReplyContext_ResolvedFromFirstEvent(t *testing.T) {
	s := &collectSink{}
	m := NewManager(Config{Debounce: 30 * time.Millisecond, AbsoluteCap: time.Second, MaxCapacity: 10}, s.sink)

	first := textEvent("c1", 1, "a")
	first.ReplyToEventID = 99
	second := textEvent("c1", 2, "b")
	second.ReplyToEventID = 7

	m.OnEvent(first)
	m.OnEvent(second)

	msgs := s.waitFor(t, 1, time.Second)
	if msgs[0].ReplyToEventID != 99 {
		t.Errorf("ReplyToEventID = %d, want 99 (first event)", msgs[0].ReplyToEventID)
	}
}
