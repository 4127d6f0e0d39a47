package state

import (
	"context"
	"errors"
	"time"

	"marinealarm/internal/domain"
)

var (
	// ErrNotFound indicates absent alarm/group/history key.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
)

// Store provides alarm state persistence operations.
// Alarm writes are revisioned: UpdateAlarm applies compare-and-set on the
// revision read by GetAlarm so concurrent transitions resolve coherently.
// Params: alarm CRUD, group storage, and append-only history operations.
// Returns: backend persistence behavior.
type Store interface {
	GetAlarm(ctx context.Context, alarmID string) (domain.Alarm, uint64, error)
	PutAlarm(ctx context.Context, alarm domain.Alarm) (uint64, error)
	UpdateAlarm(ctx context.Context, expectedRevision uint64, alarm domain.Alarm) (uint64, error)
	ListActiveAlarms(ctx context.Context) ([]domain.Alarm, error)

	PutGroup(ctx context.Context, group domain.AlarmGroup) error
	GetGroup(ctx context.Context, groupID string) (domain.AlarmGroup, error)
	ListGroups(ctx context.Context, strategy domain.GroupStrategy) ([]domain.AlarmGroup, error)

	AppendHistory(ctx context.Context, entry domain.HistoryEntry) error
	QueryHistory(ctx context.Context, alarmID string) ([]domain.HistoryEntry, error)
	QueryHistoryRange(ctx context.Context, start, end time.Time) ([]domain.HistoryEntry, error)

	Close() error
}
