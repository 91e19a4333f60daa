package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type panicSink struct{}

func (panicSink) Emit(context.Context, Event) { panic("sink failure") }

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestEmitFillsIDAndTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink, func() time.Time { return now })

	d.Emit(context.Background(), Event{EventType: "rate_limited", Identity: "X"})
	d.Emit(context.Background(), Event{EventType: "banned", EventID: "fixed"})
	d.Close()

	events := sink.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventID == "" || len(events[0].EventID) != 36 {
		t.Fatalf("expected uuid event id, got %q", events[0].EventID)
	}
	if !events[0].Timestamp.Equal(now) {
		t.Fatalf("expected timestamp %v, got %v", now, events[0].Timestamp)
	}
	if events[1].EventID != "fixed" {
		t.Fatalf("expected caller event id to be kept, got %q", events[1].EventID)
	}
}

func TestFullBufferDropsWithoutBlocking(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink, nil)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	start := time.Now()
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "e"})
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit with a full buffer")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}
}

func TestPanickingSinkDoesNotStopDispatcher(t *testing.T) {
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2}, panicSink{}, nil)
	d.Emit(context.Background(), Event{EventType: "a"})
	d.Emit(context.Background(), Event{EventType: "b"})
	d.Close()
}

func TestEmitAfterCloseIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2}, sink, nil)
	d.Close()
	d.Close()
	d.Emit(context.Background(), Event{EventType: "late"})
	if len(sink.Events()) != 0 {
		t.Fatal("expected no delivery after close")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventID: "id-1", EventType: "banned", Identity: "X"})

	var decoded Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.EventType != "banned" || decoded.Identity != "X" {
		t.Fatalf("unexpected event: %+v", decoded)
	}
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewSlogSink(logger, slog.LevelInfo)

	s.Emit(context.Background(), Event{
		EventID:   "id-1",
		EventType: "auth_denied",
		Identity:  "203.0.113.9",
		Reason:    "insufficient_role",
		Metadata:  map[string]string{"min_role": "admin"},
	})

	out := buf.String()
	for _, want := range []string{`"event_type":"auth_denied"`, `"identity":"203.0.113.9"`, `"meta.min_role":"admin"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	s := NewChannelSink(1)
	s.Emit(context.Background(), Event{EventType: "a"})
	s.Emit(context.Background(), Event{EventType: "b"})

	if got := (<-s.Events()).EventType; got != "a" {
		t.Fatalf("expected first event, got %q", got)
	}
	select {
	case e := <-s.Events():
		t.Fatalf("unexpected second event %+v", e)
	default:
	}
}
