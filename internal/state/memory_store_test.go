package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"marinealarm/internal/domain"
)

func TestAlarmRevisionedWrites(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	alarm := domain.Alarm{ID: "a-1", Severity: domain.SeverityWarning, Status: domain.StatusActive}
	revision, err := store.PutAlarm(ctx, alarm)
	if err != nil {
		t.Fatalf("put failed: %+v", err)
	}
	if revision != 1 {
		t.Fatalf("expected first revision 1, got %d", revision)
	}

	stored, gotRevision, err := store.GetAlarm(ctx, "a-1")
	if err != nil {
		t.Fatalf("get failed: %+v", err)
	}
	if gotRevision != revision || stored.ID != "a-1" {
		t.Fatalf("unexpected read %+v revision=%d", stored, gotRevision)
	}

	stored.Status = domain.StatusAcknowledged
	next, err := store.UpdateAlarm(ctx, gotRevision, stored)
	if err != nil {
		t.Fatalf("update failed: %+v", err)
	}
	if next != gotRevision+1 {
		t.Fatalf("expected revision bump, got %d", next)
	}
}

func TestUpdateAlarmConflictAndNotFound(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	alarm := domain.Alarm{ID: "a-1", Status: domain.StatusActive}
	if _, err := store.PutAlarm(ctx, alarm); err != nil {
		t.Fatalf("put failed: %+v", err)
	}

	if _, err := store.UpdateAlarm(ctx, 99, alarm); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale revision, got %+v", err)
	}
	missing := domain.Alarm{ID: "a-missing"}
	if _, err := store.UpdateAlarm(ctx, 1, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown alarm, got %+v", err)
	}
	if _, _, err := store.GetAlarm(ctx, "a-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on read, got %+v", err)
	}
}

func TestListActiveAlarmsFiltersStatus(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	seed := []domain.Alarm{
		{ID: "a-active", Status: domain.StatusActive},
		{ID: "a-acked", Status: domain.StatusAcknowledged},
		{ID: "a-cleared", Status: domain.StatusCleared},
		{ID: "a-muted", Status: domain.StatusSuppressed},
	}
	for _, alarm := range seed {
		if _, err := store.PutAlarm(ctx, alarm); err != nil {
			t.Fatalf("put failed: %+v", err)
		}
	}

	active, err := store.ListActiveAlarms(ctx)
	if err != nil {
		t.Fatalf("list failed: %+v", err)
	}
	if len(active) != 1 || active[0].ID != "a-active" {
		t.Fatalf("expected only the active alarm, got %+v", active)
	}
}

func TestGroupStorageIsolatesCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	group := domain.AlarmGroup{
		ID:        "g-1",
		Strategy:  domain.GroupByVessel,
		Key:       "mv_aurora",
		CreatedAt: now,
		WindowEnd: now.Add(time.Minute),
		MemberIDs: []string{"a-1"},
	}
	if err := store.PutGroup(ctx, group); err != nil {
		t.Fatalf("put group failed: %+v", err)
	}

	group.MemberIDs[0] = "mutated"
	read, err := store.GetGroup(ctx, "g-1")
	if err != nil {
		t.Fatalf("get group failed: %+v", err)
	}
	if read.MemberIDs[0] != "a-1" {
		t.Fatalf("expected stored members isolated from caller slice, got %+v", read.MemberIDs)
	}

	if _, err := store.GetGroup(ctx, "g-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %+v", err)
	}

	byVessel, err := store.ListGroups(ctx, domain.GroupByVessel)
	if err != nil {
		t.Fatalf("list groups failed: %+v", err)
	}
	if len(byVessel) != 1 {
		t.Fatalf("expected one vessel group, got %+v", byVessel)
	}
	bySource, err := store.ListGroups(ctx, domain.GroupBySource)
	if err != nil {
		t.Fatalf("list groups failed: %+v", err)
	}
	if len(bySource) != 0 {
		t.Fatalf("expected no source groups, got %+v", bySource)
	}
}

func TestHistoryRangeIsHalfOpen(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-time.Minute, 0, 30 * time.Minute, time.Hour} {
		entry := domain.HistoryEntry{
			ID:        string(rune('a' + i)),
			AlarmID:   "a-1",
			EventType: domain.HistoryCreated,
			Timestamp: base.Add(offset),
		}
		if err := store.AppendHistory(ctx, entry); err != nil {
			t.Fatalf("append failed: %+v", err)
		}
	}

	entries, err := store.QueryHistoryRange(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("range query failed: %+v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected entries in [start, end), got %+v", entries)
	}
	if !entries[0].Timestamp.Equal(base) || !entries[1].Timestamp.Equal(base.Add(30*time.Minute)) {
		t.Fatalf("unexpected range contents %+v", entries)
	}
}
