package state

import (
	"context"
	"sync"
	"time"

	"marinealarm/internal/domain"
)

// MemoryStore keeps alarm state in process memory for single-instance mode.
// Params: in-memory maps for alarms/groups and an ordered history log.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu      sync.RWMutex
	alarms  map[string]memoryAlarm
	groups  map[string]domain.AlarmGroup
	history []domain.HistoryEntry
}

type memoryAlarm struct {
	alarm    domain.Alarm
	revision uint64
}

// NewMemoryStore creates an in-memory state store.
// Params: none.
// Returns: initialized in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alarms: make(map[string]memoryAlarm),
		groups: make(map[string]domain.AlarmGroup),
	}
}

// GetAlarm reads one alarm and its revision.
// Params: alarm id.
// Returns: alarm copy, revision, or ErrNotFound.
func (s *MemoryStore) GetAlarm(_ context.Context, alarmID string) (domain.Alarm, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.alarms[alarmID]
	if !ok {
		return domain.Alarm{}, 0, ErrNotFound
	}
	return stored.alarm, stored.revision, nil
}

// PutAlarm writes one alarm unconditionally.
// Params: alarm payload.
// Returns: new revision.
func (s *MemoryStore) PutAlarm(_ context.Context, alarm domain.Alarm) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.alarms[alarm.ID]
	stored.alarm = alarm
	stored.revision++
	s.alarms[alarm.ID] = stored
	return stored.revision, nil
}

// UpdateAlarm writes one alarm using expected revision CAS.
// Params: expected revision and replacement payload.
// Returns: new revision, ErrNotFound, or ErrConflict.
func (s *MemoryStore) UpdateAlarm(_ context.Context, expectedRevision uint64, alarm domain.Alarm) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.alarms[alarm.ID]
	if !ok {
		return 0, ErrNotFound
	}
	if stored.revision != expectedRevision {
		return 0, ErrConflict
	}
	stored.alarm = alarm
	stored.revision++
	s.alarms[alarm.ID] = stored
	return stored.revision, nil
}

// ListActiveAlarms returns all alarms with active status.
// Params: none.
// Returns: alarm copies in unspecified order.
func (s *MemoryStore) ListActiveAlarms(_ context.Context) ([]domain.Alarm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := make([]domain.Alarm, 0)
	for _, stored := range s.alarms {
		if stored.alarm.Status == domain.StatusActive {
			active = append(active, stored.alarm)
		}
	}
	return active, nil
}

// PutGroup writes one group record.
// Params: group payload.
// Returns: nil (in-memory update).
func (s *MemoryStore) PutGroup(_ context.Context, group domain.AlarmGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyGroup := group
	copyGroup.MemberIDs = append([]string(nil), group.MemberIDs...)
	s.groups[group.ID] = copyGroup
	return nil
}

// GetGroup reads one group by id.
// Params: group id.
// Returns: group copy or ErrNotFound.
func (s *MemoryStore) GetGroup(_ context.Context, groupID string) (domain.AlarmGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[groupID]
	if !ok {
		return domain.AlarmGroup{}, ErrNotFound
	}
	group.MemberIDs = append([]string(nil), group.MemberIDs...)
	return group, nil
}

// ListGroups returns groups for one strategy.
// Params: strategy selector.
// Returns: group copies in unspecified order.
func (s *MemoryStore) ListGroups(_ context.Context, strategy domain.GroupStrategy) ([]domain.AlarmGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make([]domain.AlarmGroup, 0)
	for _, group := range s.groups {
		if group.Strategy != strategy {
			continue
		}
		group.MemberIDs = append([]string(nil), group.MemberIDs...)
		groups = append(groups, group)
	}
	return groups, nil
}

// AppendHistory appends one audit entry. Entries are never mutated.
// Params: history entry payload.
// Returns: nil (in-memory append).
func (s *MemoryStore) AppendHistory(_ context.Context, entry domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

// QueryHistory returns entries for one alarm in append order.
// Params: alarm id.
// Returns: entry copies.
func (s *MemoryStore) QueryHistory(_ context.Context, alarmID string) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]domain.HistoryEntry, 0)
	for _, entry := range s.history {
		if entry.AlarmID == alarmID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// QueryHistoryRange returns entries inside [start, end) in append order.
// Params: inclusive start and exclusive end timestamps.
// Returns: entry copies.
func (s *MemoryStore) QueryHistoryRange(_ context.Context, start, end time.Time) ([]domain.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]domain.HistoryEntry, 0)
	for _, entry := range s.history {
		if entry.Timestamp.Before(start) || !entry.Timestamp.Before(end) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close releases store resources.
// Params: none.
// Returns: nil (nothing to release in memory mode).
func (s *MemoryStore) Close() error {
	return nil
}
