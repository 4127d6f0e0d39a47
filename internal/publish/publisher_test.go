package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"marinealarm/internal/domain"
)

type failingPublisher struct {
	err   error
	calls int
}

func (p *failingPublisher) Publish(context.Context, Event) error {
	p.calls++
	return p.err
}

func (p *failingPublisher) Close() error {
	return p.err
}

func TestBuildEventIDDeterministic(t *testing.T) {
	t.Parallel()

	alarm := domain.Alarm{
		ID:       "a-1",
		Severity: domain.SeverityWarning,
		Status:   domain.StatusActive,
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := BuildEventID(EventAlarmCreated, alarm, at)
	second := BuildEventID(EventAlarmCreated, alarm, at)
	if first != second {
		t.Fatalf("expected deterministic id, got %q and %q", first, second)
	}
	if len(first) != 40 {
		t.Fatalf("expected hex sha1 id, got %q", first)
	}

	if BuildEventID(EventAlarmCleared, alarm, at) == first {
		t.Fatalf("expected event type to change the id")
	}
	escalated := alarm
	escalated.EscalationLevel = 1
	if BuildEventID(EventAlarmCreated, escalated, at) == first {
		t.Fatalf("expected escalation level to change the id")
	}
}

func TestMemoryPublisherRecordsInOrder(t *testing.T) {
	t.Parallel()

	publisher := NewMemoryPublisher()
	ctx := context.Background()
	for _, eventType := range []EventType{EventAlarmCreated, EventAlarmAcknowledged} {
		if err := publisher.Publish(ctx, Event{ID: string(eventType), Type: eventType}); err != nil {
			t.Fatalf("publish failed: %+v", err)
		}
	}

	events := publisher.Events()
	if len(events) != 2 || events[0].Type != EventAlarmCreated || events[1].Type != EventAlarmAcknowledged {
		t.Fatalf("unexpected event log %+v", events)
	}

	events[0].Type = EventAlarmCleared
	if publisher.Events()[0].Type != EventAlarmCreated {
		t.Fatalf("expected returned slice isolated from internal log")
	}
}

func TestMultiPublisherAttemptsAllTargets(t *testing.T) {
	t.Parallel()

	boom := errors.New("transport down")
	failing := &failingPublisher{err: boom}
	memory := NewMemoryPublisher()
	multi := NewMultiPublisher(failing, memory)

	err := multi.Publish(context.Background(), Event{ID: "evt-1", Type: EventAlarmCreated})
	if !errors.Is(err, boom) {
		t.Fatalf("expected first error returned, got %+v", err)
	}
	if failing.calls != 1 {
		t.Fatalf("expected failing target attempted, got %d calls", failing.calls)
	}
	if len(memory.Events()) != 1 {
		t.Fatalf("expected remaining target still attempted, got %+v", memory.Events())
	}
}

func TestMultiPublisherEmptyDiscards(t *testing.T) {
	t.Parallel()

	multi := NewMultiPublisher()
	if err := multi.Publish(context.Background(), Event{ID: "evt-1"}); err != nil {
		t.Fatalf("expected empty fan-out to discard, got %+v", err)
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("expected empty fan-out close, got %+v", err)
	}
}
