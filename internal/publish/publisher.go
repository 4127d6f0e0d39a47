package publish

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"marinealarm/internal/domain"
)

// EventType identifies one outbound alarm event kind.
// Params: lifecycle event constants.
// Returns: typed marker for the notification boundary.
type EventType string

const (
	// EventAlarmCreated marks a newly triggered or manually created alarm.
	EventAlarmCreated EventType = "alarm_created"
	// EventAlarmEscalated marks an automatic severity escalation.
	EventAlarmEscalated EventType = "alarm_escalated"
	// EventAlarmAcknowledged marks an operator acknowledgment.
	EventAlarmAcknowledged EventType = "alarm_acknowledged"
	// EventAlarmCleared marks a terminal clear.
	EventAlarmCleared EventType = "alarm_cleared"
	// EventAlarmGrouped marks an alarm joining a group.
	EventAlarmGrouped EventType = "alarm_grouped"
	// EventAlarmSuppressed marks a maintenance-window mute.
	EventAlarmSuppressed EventType = "alarm_suppressed"
	// EventAlarmUnsuppressed marks the end of a maintenance-window mute.
	EventAlarmUnsuppressed EventType = "alarm_unsuppressed"
)

// Event is one outbound alarm lifecycle notification.
// Params: deterministic id, event kind, alarm snapshot, and optional
// escalation/grouping context.
// Returns: payload for the notification transport boundary.
type Event struct {
	ID               string             `json:"event_id"`
	Type             EventType          `json:"type"`
	Alarm            domain.Alarm       `json:"alarm"`
	PreviousSeverity domain.Severity    `json:"previous_severity,omitempty"`
	Group            *domain.AlarmGroup `json:"group,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
}

// BuildEventID creates a deterministic id for one outbound event.
// Params: event kind, alarm snapshot, and event timestamp.
// Returns: stable SHA1-based id string used for transport dedup.
func BuildEventID(eventType EventType, alarm domain.Alarm, at time.Time) string {
	raw := fmt.Sprintf(
		"%s|%s|%s|%s|%d|%d",
		eventType,
		alarm.ID,
		alarm.Status,
		alarm.Severity,
		alarm.EscalationLevel,
		at.UnixNano(),
	)
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Publisher delivers outbound alarm events to the notification boundary.
// Implementations must be safe for concurrent use; the engine calls Publish
// synchronously after each committed state change, never from inside a lock.
// Params: context and event payload.
// Returns: publish error.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// MemoryPublisher records events in memory for tests and single mode.
// Params: mutex-guarded event log.
// Returns: publisher implementation without external dependencies.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an in-memory event recorder.
// Params: none.
// Returns: initialized publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish appends one event to the in-memory log.
// Params: context (unused) and event payload.
// Returns: nil.
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

// Events returns a copy of recorded events in publish order.
// Params: none.
// Returns: event slice copy.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Close releases publisher resources.
// Params: none.
// Returns: nil.
func (p *MemoryPublisher) Close() error {
	return nil
}

// MultiPublisher fans one event out to several publishers.
// Params: ordered publisher list.
// Returns: composite publisher; first error wins, remaining targets still run.
type MultiPublisher struct {
	targets []Publisher
}

// NewMultiPublisher composes publishers into one fan-out target.
// Params: publisher list.
// Returns: composite publisher.
func NewMultiPublisher(targets ...Publisher) *MultiPublisher {
	return &MultiPublisher{targets: targets}
}

// Publish delivers the event to every target.
// Params: context and event payload.
// Returns: first delivery error after all targets were attempted.
func (p *MultiPublisher) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, target := range p.targets {
		if err := target.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every target publisher.
// Params: none.
// Returns: first close error.
func (p *MultiPublisher) Close() error {
	var firstErr error
	for _, target := range p.targets {
		if err := target.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
