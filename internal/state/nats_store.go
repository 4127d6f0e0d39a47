package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"marinealarm/internal/config"
	"marinealarm/internal/domain"

	"github.com/nats-io/nats.go"
)

const (
	groupKeyPrefix   = "group/"
	historyKeyPrefix = "history/"
)

// NATSStore persists alarm state in JetStream KV buckets.
// Params: NATS connection, JetStream context, and KV bucket handles for
// alarms, groups, and history.
// Returns: KV-backed state store implementation.
type NATSStore struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	alarmKV   nats.KeyValue
	groupKV   nats.KeyValue
	historyKV nats.KeyValue
	settings  config.NATSStateConfig
}

// NewNATSStore opens KV buckets and returns the NATS state backend.
// Params: NATS/JetStream settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStateConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	store := &NATSStore{nc: nc, js: js, settings: settings}
	store.alarmKV, err = store.openBucket(settings.AlarmBucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	store.groupKV, err = store.openBucket(settings.GroupBucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	store.historyKV, err = store.openBucket(settings.HistoryBucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return store, nil
}

// openBucket opens one KV bucket, creating it when allowed.
// Params: bucket name.
// Returns: KV handle or setup error.
func (s *NATSStore) openBucket(bucket string) (nats.KeyValue, error) {
	kv, err := s.js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !s.settings.AllowCreateBuckets {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	kv, err = s.js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// GetAlarm reads one alarm and its KV revision.
// Params: alarm id key.
// Returns: alarm payload, revision, or ErrNotFound.
func (s *NATSStore) GetAlarm(_ context.Context, alarmID string) (domain.Alarm, uint64, error) {
	entry, err := s.alarmKV.Get(alarmID)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return domain.Alarm{}, 0, ErrNotFound
		}
		return domain.Alarm{}, 0, fmt.Errorf("get alarm: %w", err)
	}

	var alarm domain.Alarm
	if err := json.Unmarshal(entry.Value(), &alarm); err != nil {
		return domain.Alarm{}, 0, fmt.Errorf("decode alarm: %w", err)
	}
	return alarm, entry.Revision(), nil
}

// PutAlarm writes alarm payload unconditionally.
// Params: alarm payload.
// Returns: new KV revision.
func (s *NATSStore) PutAlarm(_ context.Context, alarm domain.Alarm) (uint64, error) {
	body, err := json.Marshal(alarm)
	if err != nil {
		return 0, fmt.Errorf("encode alarm: %w", err)
	}
	rev, err := s.alarmKV.Put(alarm.ID, body)
	if err != nil {
		return 0, fmt.Errorf("put alarm: %w", err)
	}
	return rev, nil
}

// UpdateAlarm updates alarm payload using expected revision CAS.
// Params: expected revision and replacement payload.
// Returns: new KV revision or ErrConflict.
func (s *NATSStore) UpdateAlarm(_ context.Context, expectedRevision uint64, alarm domain.Alarm) (uint64, error) {
	body, err := json.Marshal(alarm)
	if err != nil {
		return 0, fmt.Errorf("encode alarm: %w", err)
	}
	rev, err := s.alarmKV.Update(alarm.ID, body, expectedRevision)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence") {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update alarm: %w", err)
	}
	return rev, nil
}

// ListActiveAlarms scans the alarm bucket for active records.
// Params: none.
// Returns: alarms with active status.
func (s *NATSStore) ListActiveAlarms(_ context.Context) ([]domain.Alarm, error) {
	keys, err := s.alarmKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list alarm keys: %w", err)
	}

	active := make([]domain.Alarm, 0)
	for _, key := range keys {
		entry, err := s.alarmKV.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get alarm %q: %w", key, err)
		}
		var alarm domain.Alarm
		if err := json.Unmarshal(entry.Value(), &alarm); err != nil {
			return nil, fmt.Errorf("decode alarm %q: %w", key, err)
		}
		if alarm.Status == domain.StatusActive {
			active = append(active, alarm)
		}
	}
	return active, nil
}

// PutGroup writes one group record.
// Params: group payload.
// Returns: put error.
func (s *NATSStore) PutGroup(_ context.Context, group domain.AlarmGroup) error {
	body, err := json.Marshal(group)
	if err != nil {
		return fmt.Errorf("encode group: %w", err)
	}
	if _, err := s.groupKV.Put(groupKey(group.Strategy, group.ID), body); err != nil {
		return fmt.Errorf("put group: %w", err)
	}
	return nil
}

// GetGroup scans strategy namespaces for one group id.
// Params: group id.
// Returns: group payload or ErrNotFound.
func (s *NATSStore) GetGroup(_ context.Context, groupID string) (domain.AlarmGroup, error) {
	keys, err := s.groupKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return domain.AlarmGroup{}, ErrNotFound
		}
		return domain.AlarmGroup{}, fmt.Errorf("list group keys: %w", err)
	}
	suffix := "/" + groupID
	for _, key := range keys {
		if !strings.HasPrefix(key, groupKeyPrefix) || !strings.HasSuffix(key, suffix) {
			continue
		}
		entry, err := s.groupKV.Get(key)
		if err != nil {
			return domain.AlarmGroup{}, fmt.Errorf("get group %q: %w", key, err)
		}
		var group domain.AlarmGroup
		if err := json.Unmarshal(entry.Value(), &group); err != nil {
			return domain.AlarmGroup{}, fmt.Errorf("decode group %q: %w", key, err)
		}
		return group, nil
	}
	return domain.AlarmGroup{}, ErrNotFound
}

// ListGroups lists groups by strategy namespace prefix.
// Params: strategy selector.
// Returns: matching groups from the group bucket.
func (s *NATSStore) ListGroups(_ context.Context, strategy domain.GroupStrategy) ([]domain.AlarmGroup, error) {
	keys, err := s.groupKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list group keys: %w", err)
	}

	prefix := groupKeyPrefix + string(strategy) + "/"
	groups := make([]domain.AlarmGroup, 0)
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entry, err := s.groupKV.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get group %q: %w", key, err)
		}
		var group domain.AlarmGroup
		if err := json.Unmarshal(entry.Value(), &group); err != nil {
			return nil, fmt.Errorf("decode group %q: %w", key, err)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// AppendHistory writes one audit entry under the alarm namespace.
// Params: history entry payload.
// Returns: put error.
func (s *NATSStore) AppendHistory(_ context.Context, entry domain.HistoryEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	key := historyKeyPrefix + entry.AlarmID + "/" + entry.ID
	if _, err := s.historyKV.Put(key, body); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// QueryHistory lists entries by alarm namespace prefix, oldest first.
// Params: alarm id.
// Returns: matching entries sorted by timestamp.
func (s *NATSStore) QueryHistory(_ context.Context, alarmID string) ([]domain.HistoryEntry, error) {
	return s.scanHistory(func(entry domain.HistoryEntry) bool {
		return entry.AlarmID == alarmID
	})
}

// QueryHistoryRange lists entries inside [start, end), oldest first.
// Params: inclusive start and exclusive end timestamps.
// Returns: matching entries sorted by timestamp.
func (s *NATSStore) QueryHistoryRange(_ context.Context, start, end time.Time) ([]domain.HistoryEntry, error) {
	return s.scanHistory(func(entry domain.HistoryEntry) bool {
		return !entry.Timestamp.Before(start) && entry.Timestamp.Before(end)
	})
}

// scanHistory decodes all history entries passing one filter.
// Params: entry filter.
// Returns: matching entries sorted by timestamp then id.
func (s *NATSStore) scanHistory(keep func(domain.HistoryEntry) bool) ([]domain.HistoryEntry, error) {
	keys, err := s.historyKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list history keys: %w", err)
	}

	entries := make([]domain.HistoryEntry, 0)
	for _, key := range keys {
		kvEntry, err := s.historyKV.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get history %q: %w", key, err)
		}
		var entry domain.HistoryEntry
		if err := json.Unmarshal(kvEntry.Value(), &entry); err != nil {
			return nil, fmt.Errorf("decode history %q: %w", key, err)
		}
		if keep(entry) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// groupKey builds the strategy-namespaced group bucket key.
// Params: strategy and group id.
// Returns: KV key string.
func groupKey(strategy domain.GroupStrategy, groupID string) string {
	return groupKeyPrefix + string(strategy) + "/" + groupID
}

// Close closes the underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
