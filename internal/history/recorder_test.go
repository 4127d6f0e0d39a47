package history

import (
	"context"
	"testing"
	"time"

	"marinealarm/internal/domain"
	"marinealarm/internal/state"
)

func TestRecordAssignsIDAndAppends(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	recorder := NewRecorder(store)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entry, err := recorder.Record(ctx, domain.HistoryEntry{
		AlarmID:     "a-1",
		EventType:   domain.HistoryCreated,
		Timestamp:   now,
		NewSeverity: domain.SeverityWarning,
	})
	if err != nil {
		t.Fatalf("record failed: %+v", err)
	}
	if entry.ID == "" {
		t.Fatalf("expected assigned entry id")
	}

	second, err := recorder.Record(ctx, domain.HistoryEntry{
		AlarmID:   "a-1",
		EventType: domain.HistoryAcknowledged,
		Timestamp: now.Add(time.Minute),
		ActorID:   "chief",
	})
	if err != nil {
		t.Fatalf("record failed: %+v", err)
	}
	if second.ID == entry.ID {
		t.Fatalf("expected unique entry ids")
	}

	entries, err := recorder.AlarmHistory(ctx, "a-1")
	if err != nil {
		t.Fatalf("history query failed: %+v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].EventType != domain.HistoryCreated || entries[1].EventType != domain.HistoryAcknowledged {
		t.Fatalf("expected append order preserved, got %+v", entries)
	}
}

func TestAlarmHistoryFiltersByAlarm(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	recorder := NewRecorder(store)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, alarmID := range []string{"a-1", "a-2", "a-1"} {
		if _, err := recorder.Record(ctx, domain.HistoryEntry{
			AlarmID:   alarmID,
			EventType: domain.HistoryCreated,
			Timestamp: now,
		}); err != nil {
			t.Fatalf("record failed: %+v", err)
		}
	}

	entries, err := recorder.AlarmHistory(ctx, "a-1")
	if err != nil {
		t.Fatalf("history query failed: %+v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries for a-1, got %d", len(entries))
	}
}

func TestTrendAggregatesBySeverityAndHour(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	recorder := NewRecorder(store)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []struct {
		offset   time.Duration
		severity domain.Severity
		event    domain.HistoryEventType
	}{
		{5 * time.Minute, domain.SeverityWarning, domain.HistoryCreated},
		{25 * time.Minute, domain.SeverityCritical, domain.HistoryCreated},
		{40 * time.Minute, "", domain.HistoryAcknowledged},
		{70 * time.Minute, domain.SeverityInfo, domain.HistoryCreated},
		{3 * time.Hour, domain.SeverityWarning, domain.HistoryCreated},
	}
	for i, item := range seed {
		if _, err := recorder.Record(ctx, domain.HistoryEntry{
			AlarmID:     "a-1",
			EventType:   item.event,
			Timestamp:   base.Add(item.offset),
			NewSeverity: item.severity,
		}); err != nil {
			t.Fatalf("record %d failed: %+v", i, err)
		}
	}

	trend, err := recorder.Trend(ctx, base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("trend failed: %+v", err)
	}
	if trend.Total != 4 {
		t.Fatalf("expected four entries inside range, got %d", trend.Total)
	}
	if trend.BySeverity[domain.SeverityWarning] != 1 || trend.BySeverity[domain.SeverityCritical] != 1 || trend.BySeverity[domain.SeverityInfo] != 1 {
		t.Fatalf("unexpected severity counts %+v", trend.BySeverity)
	}

	if len(trend.Buckets) != 2 {
		t.Fatalf("expected two hourly buckets, got %+v", trend.Buckets)
	}
	if !trend.Buckets[0].Start.Equal(base) || !trend.Buckets[1].Start.Equal(base.Add(time.Hour)) {
		t.Fatalf("expected sorted hourly bucket starts, got %+v", trend.Buckets)
	}
	if trend.Buckets[0].Total != 3 || trend.Buckets[1].Total != 1 {
		t.Fatalf("unexpected bucket totals %+v", trend.Buckets)
	}
	if trend.Buckets[1].BySeverity[domain.SeverityInfo] != 1 {
		t.Fatalf("unexpected second bucket severities %+v", trend.Buckets[1].BySeverity)
	}
}
