package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"marinealarm/internal/domain"
	"marinealarm/internal/state"

	"github.com/google/uuid"
)

// Recorder owns the append-only alarm audit log and trend queries.
// Params: injected store and id generator.
// Returns: history recording behavior; entries are never mutated.
type Recorder struct {
	store state.Store
	newID func() string
}

// NewRecorder creates the history recorder.
// Params: store backend.
// Returns: initialized recorder with UUID entry ids.
func NewRecorder(store state.Store) *Recorder {
	return &Recorder{store: store, newID: uuid.NewString}
}

// Record appends one audit entry.
// Params: entry payload without id (id is assigned here).
// Returns: stored entry or wrapped store error; storage failures propagate,
// never swallowed.
func (r *Recorder) Record(ctx context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	entry.ID = r.newID()
	if err := r.store.AppendHistory(ctx, entry); err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("append history for alarm %q: %w", entry.AlarmID, err)
	}
	return entry, nil
}

// AlarmHistory returns the audit trail of one alarm, oldest first.
// Params: alarm id.
// Returns: entries or wrapped store error.
func (r *Recorder) AlarmHistory(ctx context.Context, alarmID string) ([]domain.HistoryEntry, error) {
	entries, err := r.store.QueryHistory(ctx, alarmID)
	if err != nil {
		return nil, fmt.Errorf("query history for alarm %q: %w", alarmID, err)
	}
	return entries, nil
}

// TrendBucket aggregates history events inside one time bucket.
// Params: bucket start and per-severity counts.
// Returns: one point of the trend series.
type TrendBucket struct {
	Start      time.Time
	BySeverity map[domain.Severity]int
	Total      int
}

// Trend summarizes history events over one time range.
// Params: overall and per-severity counts plus hourly buckets.
// Returns: aggregate trend report.
type Trend struct {
	Total      int
	BySeverity map[domain.Severity]int
	Buckets    []TrendBucket
}

// Trend aggregates entry counts by severity and hourly bucket.
// Read-only and side-effect-free; safe to run concurrently with writers
// since it only reads committed entries.
// Params: inclusive start and exclusive end timestamps.
// Returns: trend report or wrapped store error.
func (r *Recorder) Trend(ctx context.Context, start, end time.Time) (Trend, error) {
	entries, err := r.store.QueryHistoryRange(ctx, start, end)
	if err != nil {
		return Trend{}, fmt.Errorf("query history range: %w", err)
	}

	trend := Trend{BySeverity: make(map[domain.Severity]int)}
	byBucket := make(map[time.Time]*TrendBucket)
	for _, entry := range entries {
		trend.Total++
		severity := entry.NewSeverity
		if severity != "" {
			trend.BySeverity[severity]++
		}

		bucketStart := entry.Timestamp.UTC().Truncate(time.Hour)
		bucket, ok := byBucket[bucketStart]
		if !ok {
			bucket = &TrendBucket{Start: bucketStart, BySeverity: make(map[domain.Severity]int)}
			byBucket[bucketStart] = bucket
		}
		bucket.Total++
		if severity != "" {
			bucket.BySeverity[severity]++
		}
	}

	trend.Buckets = make([]TrendBucket, 0, len(byBucket))
	for _, bucket := range byBucket {
		trend.Buckets = append(trend.Buckets, *bucket)
	}
	sort.Slice(trend.Buckets, func(i, j int) bool {
		return trend.Buckets[i].Start.Before(trend.Buckets[j].Start)
	})
	return trend, nil
}
