package escalate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"marinealarm/internal/clock"
	"marinealarm/internal/domain"
	"marinealarm/internal/history"
	"marinealarm/internal/publish"
	"marinealarm/internal/rules"
	"marinealarm/internal/state"
)

// RuleResolver looks up the originating rule of one alarm.
// Params: rule id from the alarm record.
// Returns: rule definition and existence flag.
type RuleResolver interface {
	Rule(ruleID string) (rules.Rule, bool)
}

// Tracker sweeps active alarms and escalates unacknowledged ones.
// Params: injected store, rule resolver, recorder, publisher, and clock.
// Returns: background escalation behavior with cooperative shutdown.
type Tracker struct {
	store     state.Store
	resolver  RuleResolver
	recorder  *history.Recorder
	publisher publish.Publisher
	clk       clock.Clock
	logger    *slog.Logger
	interval  time.Duration

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewTracker creates the escalation tracker.
// Params: dependencies and sweep interval.
// Returns: initialized tracker; Start launches the sweep loop.
func NewTracker(store state.Store, resolver RuleResolver, recorder *history.Recorder, publisher publish.Publisher, clk clock.Clock, logger *slog.Logger, interval time.Duration) *Tracker {
	return &Tracker{
		store:     store,
		resolver:  resolver,
		recorder:  recorder,
		publisher: publisher,
		clk:       clk,
		logger:    logger,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
// Params: root context for sweep operations.
// Returns: none; loop stops on Close or context cancellation.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := t.Sweep(ctx); err != nil {
					t.logger.Error("escalation sweep failed", "error", err.Error())
				}
			}
		}
	}()
}

// Close stops accepting new ticks and waits for an in-flight sweep.
// Params: none.
// Returns: nil after the loop exits.
func (t *Tracker) Close() error {
	t.once.Do(func() { close(t.done) })
	t.wg.Wait()
	return nil
}

// Sweep escalates all overdue active alarms once.
// One alarm's failure never stops the sweep from processing the rest.
// Params: context for store/publish calls.
// Returns: escalated count and listing error.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	now := t.clk.Now()
	active, err := t.store.ListActiveAlarms(ctx)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, alarm := range active {
		ok, err := t.escalateOne(ctx, alarm.ID, now)
		if err != nil {
			t.logger.Warn("alarm escalation failed", "alarm_id", alarm.ID, "error", err.Error())
			continue
		}
		if ok {
			escalated++
		}
	}
	return escalated, nil
}

// escalateOne re-reads, checks, and escalates one alarm with CAS.
// A concurrent acknowledge wins the race: the CAS conflict (or the re-read
// showing a non-active status) makes this sweep skip the alarm.
// Params: alarm id and sweep time.
// Returns: true when the alarm was escalated.
func (t *Tracker) escalateOne(ctx context.Context, alarmID string, now time.Time) (bool, error) {
	alarm, revision, err := t.store.GetAlarm(ctx, alarmID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if alarm.Status != domain.StatusActive {
		return false, nil
	}
	if alarm.RuleID == "" {
		return false, nil
	}
	rule, found := t.resolver.Rule(alarm.RuleID)
	if !found || !rule.Escalation.Enabled {
		return false, nil
	}
	if alarm.Severity.Rank() >= rule.Escalation.EscalateToSeverity.Rank() {
		return false, nil
	}

	// Re-escalation compounds the interval: level n escalates after (n+1)
	// times the configured escalation time.
	due := time.Duration(rule.Escalation.EscalationTimeSec*(alarm.EscalationLevel+1)) * time.Second
	if now.Sub(alarm.TriggeredAt) < due {
		return false, nil
	}

	previous := alarm.Severity
	alarm.Severity = rule.Escalation.EscalateToSeverity
	alarm.EscalationLevel++
	if _, err := t.store.UpdateAlarm(ctx, revision, alarm); err != nil {
		if errors.Is(err, state.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	if _, err := t.recorder.Record(ctx, domain.HistoryEntry{
		AlarmID:          alarm.ID,
		EventType:        domain.HistoryEscalated,
		Timestamp:        now,
		PreviousSeverity: previous,
		NewSeverity:      alarm.Severity,
		SourceValue:      alarm.SourceValue,
		ThresholdValue:   alarm.ThresholdValue,
	}); err != nil {
		return false, err
	}

	event := publish.Event{
		ID:               publish.BuildEventID(publish.EventAlarmEscalated, alarm, now),
		Type:             publish.EventAlarmEscalated,
		Alarm:            alarm,
		PreviousSeverity: previous,
		Timestamp:        now,
	}
	if err := t.publisher.Publish(ctx, event); err != nil {
		return true, err
	}
	return true, nil
}
