package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marinealarm/internal/clock"
	"marinealarm/internal/domain"
	"marinealarm/internal/engine"
	"marinealarm/internal/grouping"
	"marinealarm/internal/history"
	"marinealarm/internal/publish"
	"marinealarm/internal/rules"
	"marinealarm/internal/state"

	"github.com/google/uuid"
)

// casAttempts bounds optimistic retry on concurrent alarm transitions.
const casAttempts = 4

// Manager is the alarm facade coordinating evaluation, grouping, history,
// and lifecycle transitions behind one surface.
// Params: injected registry, evaluator, grouping engine, recorder, store,
// publisher, clock, and logger.
// Returns: single entry point for readings, statuses, and operator actions.
type Manager struct {
	registry  *rules.Registry
	engine    *engine.Engine
	grouping  *grouping.Engine
	recorder  *history.Recorder
	store     state.Store
	publisher publish.Publisher
	clk       clock.Clock
	logger    *slog.Logger
	newID     func() string
}

// NewManager creates the alarm facade.
// Params: rule registry, evaluator, grouping engine, history recorder,
// store, publisher, clock, and logger.
// Returns: initialized manager with UUID alarm ids.
func NewManager(
	registry *rules.Registry,
	evaluator *engine.Engine,
	groups *grouping.Engine,
	recorder *history.Recorder,
	store state.Store,
	publisher publish.Publisher,
	clk clock.Clock,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		registry:  registry,
		engine:    evaluator,
		grouping:  groups,
		recorder:  recorder,
		store:     store,
		publisher: publisher,
		clk:       clk,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// PushReading forwards one ingested reading into evaluation.
// Params: validated reading event.
// Returns: processing error.
func (m *Manager) PushReading(event domain.ReadingEvent) error {
	return m.HandleReading(context.Background(), event)
}

// PushStatus forwards one ingested status report into evaluation.
// Params: validated status event.
// Returns: processing error.
func (m *Manager) PushStatus(event domain.StatusEvent) error {
	return m.HandleStatus(context.Background(), event)
}

// HandleReading evaluates one reading against every applicable rule.
// A broken rule is logged and skipped so the remaining rules still run.
// Params: context and validated reading event.
// Returns: first alarm materialization failure.
func (m *Manager) HandleReading(ctx context.Context, event domain.ReadingEvent) error {
	now := event.EventTime()
	obs := domain.Observation{
		SourceID:   event.SourceID,
		SourceType: event.SourceType,
		VesselID:   event.VesselID,
		Value:      event.Value,
		HasValue:   true,
	}

	var firstErr error
	for _, rule := range m.registry.RulesFor(obs.SourceType, obs.SourceID) {
		if err := m.applyRule(ctx, rule, obs, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HandleStatus evaluates one status report against every applicable rule.
// Pattern rules see the status token; threshold/condition rules read the
// metric named by the rule from the report metrics.
// Params: context and validated status event.
// Returns: first alarm materialization failure.
func (m *Manager) HandleStatus(ctx context.Context, event domain.StatusEvent) error {
	now := event.EventTime()
	base := domain.Observation{
		SourceID:   event.EngineID,
		SourceType: domain.SourceTypeEngine,
		VesselID:   event.VesselID,
		Status:     event.Status,
	}

	var firstErr error
	for _, rule := range m.registry.RulesFor(base.SourceType, base.SourceID) {
		obs := base
		if rule.Metric != "" {
			value, ok := event.Metrics[rule.Metric]
			if !ok {
				continue
			}
			obs.Value = value
			obs.HasValue = true
		}
		if err := m.applyRule(ctx, rule, obs, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// applyRule evaluates one rule and materializes its trigger decision.
// Evaluation failures degrade to a warning; they never block other rules.
// Params: rule, observation, and event time.
// Returns: materialization error for triggered decisions.
func (m *Manager) applyRule(ctx context.Context, rule rules.Rule, obs domain.Observation, now time.Time) error {
	decision, err := m.engine.Evaluate(rule, obs, now)
	if err != nil {
		m.logger.Warn("rule evaluation failed",
			"rule_id", rule.ID,
			"source_id", obs.SourceID,
			"error", err.Error(),
		)
		return nil
	}

	switch decision.Outcome {
	case domain.DecisionTrigger:
		return m.materialize(ctx, rule, decision.Draft, now)
	case domain.DecisionSuppressed:
		m.logger.Debug("trigger suppressed",
			"rule_id", rule.ID,
			"source_id", obs.SourceID,
			"reason", decision.Reason,
		)
		return nil
	default:
		return nil
	}
}

// materialize persists one triggered alarm with grouping, history, and
// outbound events. The alarm commits before anything is published.
// Params: triggering rule, alarm draft, and trigger time.
// Returns: wrapped store/history failure.
func (m *Manager) materialize(ctx context.Context, rule rules.Rule, draft domain.AlarmDraft, now time.Time) error {
	sourceValue := draft.SourceValue
	thresholdValue := draft.ThresholdValue
	alarm := domain.Alarm{
		ID:             m.newID(),
		Title:          draft.Title,
		Description:    draft.Description,
		Severity:       draft.Severity,
		Status:         domain.StatusActive,
		VesselID:       draft.VesselID,
		RuleID:         draft.RuleID,
		SourceID:       draft.SourceID,
		SourceValue:    &sourceValue,
		ThresholdValue: &thresholdValue,
		TriggeredAt:    now,
	}
	switch draft.SourceType {
	case domain.SourceTypeEngine:
		alarm.EngineID = draft.SourceID
	default:
		alarm.SensorID = draft.SourceID
	}

	var (
		group   domain.AlarmGroup
		grouped bool
	)
	if rule.Grouping.Enabled {
		assigned, _, err := m.grouping.Assign(ctx, &alarm, rule.Grouping, now)
		if err != nil {
			m.logger.Warn("alarm grouping failed",
				"rule_id", rule.ID,
				"alarm_id", alarm.ID,
				"error", err.Error(),
			)
		} else {
			group = assigned
			grouped = true
		}
	}

	if _, err := m.store.PutAlarm(ctx, alarm); err != nil {
		return fmt.Errorf("store alarm %q: %w", alarm.ID, err)
	}

	if _, err := m.recorder.Record(ctx, domain.HistoryEntry{
		AlarmID:        alarm.ID,
		EventType:      domain.HistoryCreated,
		Timestamp:      now,
		NewSeverity:    alarm.Severity,
		GroupID:        alarm.GroupID,
		SourceValue:    alarm.SourceValue,
		ThresholdValue: alarm.ThresholdValue,
	}); err != nil {
		return err
	}
	if grouped {
		if _, err := m.recorder.Record(ctx, domain.HistoryEntry{
			AlarmID:   alarm.ID,
			EventType: domain.HistoryGroupedInto,
			Timestamp: now,
			GroupID:   group.ID,
		}); err != nil {
			return err
		}
	}

	m.publishEvent(ctx, publish.Event{
		ID:        publish.BuildEventID(publish.EventAlarmCreated, alarm, now),
		Type:      publish.EventAlarmCreated,
		Alarm:     alarm,
		Timestamp: now,
	})
	if grouped {
		m.publishEvent(ctx, publish.Event{
			ID:        publish.BuildEventID(publish.EventAlarmGrouped, alarm, now),
			Type:      publish.EventAlarmGrouped,
			Alarm:     alarm,
			Group:     &group,
			Timestamp: now,
		})
	}

	m.logger.Info("alarm created",
		"alarm_id", alarm.ID,
		"rule_id", alarm.RuleID,
		"severity", string(alarm.Severity),
		"source_id", alarm.SourceID,
	)
	return nil
}

// CreateAlarm persists one manually raised alarm without a rule reference.
// Params: title, description, severity, and origin references.
// Returns: stored alarm or validation/store error.
func (m *Manager) CreateAlarm(ctx context.Context, alarm domain.Alarm) (domain.Alarm, error) {
	if !alarm.Severity.Valid() {
		return domain.Alarm{}, fmt.Errorf("unsupported severity %q", alarm.Severity)
	}
	if alarm.Title == "" {
		return domain.Alarm{}, errors.New("alarm title is required")
	}

	now := m.clk.Now()
	alarm.ID = m.newID()
	alarm.Status = domain.StatusActive
	alarm.EscalationLevel = 0
	alarm.TriggeredAt = now
	alarm.AcknowledgedAt = nil
	alarm.AcknowledgedBy = ""
	alarm.ClearedAt = nil
	alarm.ClearedBy = ""

	if _, err := m.store.PutAlarm(ctx, alarm); err != nil {
		return domain.Alarm{}, fmt.Errorf("store alarm %q: %w", alarm.ID, err)
	}
	if _, err := m.recorder.Record(ctx, domain.HistoryEntry{
		AlarmID:     alarm.ID,
		EventType:   domain.HistoryCreated,
		Timestamp:   now,
		NewSeverity: alarm.Severity,
	}); err != nil {
		return domain.Alarm{}, err
	}
	m.publishEvent(ctx, publish.Event{
		ID:        publish.BuildEventID(publish.EventAlarmCreated, alarm, now),
		Type:      publish.EventAlarmCreated,
		Alarm:     alarm,
		Timestamp: now,
	})
	return alarm, nil
}

// Acknowledge moves one active alarm into the acknowledged state.
// Params: alarm id and acting operator.
// Returns: updated alarm, domain.ErrNotFound for unknown id, or
// domain.ErrInvalidTransition when the alarm is not active.
func (m *Manager) Acknowledge(ctx context.Context, alarmID, actor string) (domain.Alarm, error) {
	now := m.clk.Now()
	alarm, err := m.transition(ctx, alarmID, func(alarm *domain.Alarm) error {
		if alarm.Status != domain.StatusActive {
			return fmt.Errorf("alarm %q is %s: %w", alarm.ID, alarm.Status, domain.ErrInvalidTransition)
		}
		alarm.Status = domain.StatusAcknowledged
		alarm.AcknowledgedAt = &now
		alarm.AcknowledgedBy = actor
		return nil
	})
	if err != nil {
		return domain.Alarm{}, err
	}

	if _, err := m.recorder.Record(ctx, domain.HistoryEntry{
		AlarmID:   alarm.ID,
		EventType: domain.HistoryAcknowledged,
		Timestamp: now,
		ActorID:   actor,
	}); err != nil {
		return domain.Alarm{}, err
	}
	m.publishEvent(ctx, publish.Event{
		ID:        publish.BuildEventID(publish.EventAlarmAcknowledged, alarm, now),
		Type:      publish.EventAlarmAcknowledged,
		Alarm:     alarm,
		Timestamp: now,
	})
	return alarm, nil
}

// Clear moves one alarm into the terminal cleared state.
// Clearing is valid from active, acknowledged, and suppressed; a second
// clear fails with domain.ErrInvalidTransition and leaves no history.
// Params: alarm id and acting operator.
// Returns: updated alarm or transition error.
func (m *Manager) Clear(ctx context.Context, alarmID, actor string) (domain.Alarm, error) {
	now := m.clk.Now()
	alarm, err := m.transition(ctx, alarmID, func(alarm *domain.Alarm) error {
		if alarm.Status == domain.StatusCleared {
			return fmt.Errorf("alarm %q is already cleared: %w", alarm.ID, domain.ErrInvalidTransition)
		}
		alarm.Status = domain.StatusCleared
		alarm.ClearedAt = &now
		alarm.ClearedBy = actor
		return nil
	})
	if err != nil {
		return domain.Alarm{}, err
	}

	if _, err := m.recorder.Record(ctx, domain.HistoryEntry{
		AlarmID:   alarm.ID,
		EventType: domain.HistoryCleared,
		Timestamp: now,
		ActorID:   actor,
	}); err != nil {
		return domain.Alarm{}, err
	}
	m.publishEvent(ctx, publish.Event{
		ID:        publish.BuildEventID(publish.EventAlarmCleared, alarm, now),
		Type:      publish.EventAlarmCleared,
		Alarm:     alarm,
		Timestamp: now,
	})
	return alarm, nil
}

// Suppress mutes one active alarm for a maintenance window.
// Params: alarm id and acting operator.
// Returns: updated alarm or transition error.
func (m *Manager) Suppress(ctx context.Context, alarmID, actor string) (domain.Alarm, error) {
	now := m.clk.Now()
	alarm, err := m.transition(ctx, alarmID, func(alarm *domain.Alarm) error {
		if alarm.Status != domain.StatusActive {
			return fmt.Errorf("alarm %q is %s: %w", alarm.ID, alarm.Status, domain.ErrInvalidTransition)
		}
		alarm.Status = domain.StatusSuppressed
		return nil
	})
	if err != nil {
		return domain.Alarm{}, err
	}

	if _, err := m.recorder.Record(ctx, domain.HistoryEntry{
		AlarmID:   alarm.ID,
		EventType: domain.HistorySuppressed,
		Timestamp: now,
		ActorID:   actor,
	}); err != nil {
		return domain.Alarm{}, err
	}
	m.publishEvent(ctx, publish.Event{
		ID:        publish.BuildEventID(publish.EventAlarmSuppressed, alarm, now),
		Type:      publish.EventAlarmSuppressed,
		Alarm:     alarm,
		Timestamp: now,
	})
	return alarm, nil
}

// Unsuppress returns one suppressed alarm to the active state.
// Params: alarm id and acting operator.
// Returns: updated alarm or transition error.
func (m *Manager) Unsuppress(ctx context.Context, alarmID, actor string) (domain.Alarm, error) {
	now := m.clk.Now()
	alarm, err := m.transition(ctx, alarmID, func(alarm *domain.Alarm) error {
		if alarm.Status != domain.StatusSuppressed {
			return fmt.Errorf("alarm %q is %s: %w", alarm.ID, alarm.Status, domain.ErrInvalidTransition)
		}
		alarm.Status = domain.StatusActive
		return nil
	})
	if err != nil {
		return domain.Alarm{}, err
	}

	if _, err := m.recorder.Record(ctx, domain.HistoryEntry{
		AlarmID:   alarm.ID,
		EventType: domain.HistoryUnsuppressed,
		Timestamp: now,
		ActorID:   actor,
	}); err != nil {
		return domain.Alarm{}, err
	}
	m.publishEvent(ctx, publish.Event{
		ID:        publish.BuildEventID(publish.EventAlarmUnsuppressed, alarm, now),
		Type:      publish.EventAlarmUnsuppressed,
		Alarm:     alarm,
		Timestamp: now,
	})
	return alarm, nil
}

// AcknowledgeGroup cascades acknowledgment to all members of one group.
// Members already cleared or acknowledged are skipped, not an error.
// Params: group id and acting operator.
// Returns: count of acknowledged members or group lookup error.
func (m *Manager) AcknowledgeGroup(ctx context.Context, groupID, actor string) (int, error) {
	return m.grouping.AcknowledgeGroup(ctx, groupID, actor, func(ctx context.Context, alarmID, actor string) error {
		_, err := m.Acknowledge(ctx, alarmID, actor)
		return err
	})
}

// Alarm returns one alarm by id.
// Params: alarm id.
// Returns: alarm record or domain.ErrNotFound.
func (m *Manager) Alarm(ctx context.Context, alarmID string) (domain.Alarm, error) {
	alarm, _, err := m.store.GetAlarm(ctx, alarmID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return domain.Alarm{}, fmt.Errorf("alarm %q: %w", alarmID, domain.ErrNotFound)
		}
		return domain.Alarm{}, fmt.Errorf("get alarm %q: %w", alarmID, err)
	}
	return alarm, nil
}

// ActiveAlarms lists alarms in the active status.
// Params: none.
// Returns: active alarms or wrapped store error.
func (m *Manager) ActiveAlarms(ctx context.Context) ([]domain.Alarm, error) {
	alarms, err := m.store.ListActiveAlarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alarms: %w", err)
	}
	return alarms, nil
}

// Group returns one alarm group by id.
// Params: group id.
// Returns: group record or domain.ErrNotFound.
func (m *Manager) Group(ctx context.Context, groupID string) (domain.AlarmGroup, error) {
	return m.grouping.Group(ctx, groupID)
}

// History returns the audit trail of one alarm, oldest first.
// Params: alarm id.
// Returns: history entries or wrapped store error.
func (m *Manager) History(ctx context.Context, alarmID string) ([]domain.HistoryEntry, error) {
	return m.recorder.AlarmHistory(ctx, alarmID)
}

// Trend aggregates alarm history over one time range.
// Params: inclusive start and exclusive end timestamps.
// Returns: trend report or wrapped store error.
func (m *Manager) Trend(ctx context.Context, start, end time.Time) (history.Trend, error) {
	return m.recorder.Trend(ctx, start, end)
}

// transition applies one compare-and-set alarm mutation with retry.
// Params: alarm id and mutation callback rejecting invalid transitions.
// Returns: updated alarm, domain.ErrNotFound, the mutation error, or
// state.ErrConflict after retries are exhausted.
func (m *Manager) transition(ctx context.Context, alarmID string, mutate func(alarm *domain.Alarm) error) (domain.Alarm, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		alarm, revision, err := m.store.GetAlarm(ctx, alarmID)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return domain.Alarm{}, fmt.Errorf("alarm %q: %w", alarmID, domain.ErrNotFound)
			}
			return domain.Alarm{}, fmt.Errorf("get alarm %q: %w", alarmID, err)
		}
		if err := mutate(&alarm); err != nil {
			return domain.Alarm{}, err
		}
		if _, err := m.store.UpdateAlarm(ctx, revision, alarm); err != nil {
			if errors.Is(err, state.ErrConflict) {
				continue
			}
			return domain.Alarm{}, fmt.Errorf("update alarm %q: %w", alarmID, err)
		}
		return alarm, nil
	}
	return domain.Alarm{}, fmt.Errorf("alarm %q transition: %w", alarmID, state.ErrConflict)
}

// publishEvent delivers one outbound event and logs delivery failures.
// State is already committed; a failed publish never rolls it back.
// Params: context and event payload.
// Returns: none.
func (m *Manager) publishEvent(ctx context.Context, event publish.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Error("event publish failed",
			"event_id", event.ID,
			"type", string(event.Type),
			"alarm_id", event.Alarm.ID,
			"error", err.Error(),
		)
	}
}
