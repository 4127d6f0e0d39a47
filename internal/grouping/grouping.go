package grouping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marinealarm/internal/domain"
	"marinealarm/internal/rules"
	"marinealarm/internal/state"

	"github.com/google/uuid"
)

// AckFunc acknowledges one member alarm during a group cascade.
// Params: context, alarm id, and acting operator.
// Returns: transition error; ErrInvalidTransition members are skipped.
type AckFunc func(ctx context.Context, alarmID, actor string) error

// Engine clusters triggered alarms into time-windowed groups.
// Lookups for one strategy key are serialized per key so two alarms cannot
// race to create duplicate groups within the same window.
// Params: injected store, per-key lock table, and id generator.
// Returns: grouping behavior owning AlarmGroup membership.
type Engine struct {
	store state.Store
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	newID func() string
}

// NewEngine creates the grouping engine.
// Params: store backend.
// Returns: initialized engine with UUID group ids.
func NewEngine(store state.Store) *Engine {
	return &Engine{
		store: store,
		locks: make(map[string]*sync.Mutex),
		newID: uuid.NewString,
	}
}

// keyLock returns the mutex serializing one strategy key.
// Params: composite strategy/key token.
// Returns: per-key mutex, created lazily.
func (e *Engine) keyLock(token string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[token]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[token] = lock
	}
	return lock
}

// Assign places one new alarm into an open group or creates a new group.
// Params: triggered alarm, grouping settings from its rule, and trigger time.
// Returns: the group joined/created, a created flag, or wrapped store error.
func (e *Engine) Assign(ctx context.Context, alarm *domain.Alarm, cfg rules.GroupingConfig, now time.Time) (domain.AlarmGroup, bool, error) {
	if !cfg.Enabled {
		return domain.AlarmGroup{}, false, errors.New("grouping is disabled for rule")
	}
	key := StrategyKey(cfg.Strategy, *alarm)
	if key == "" {
		return domain.AlarmGroup{}, false, fmt.Errorf("alarm %q has no %s grouping key", alarm.ID, cfg.Strategy)
	}

	token := string(cfg.Strategy) + "/" + key
	lock := e.keyLock(token)
	lock.Lock()
	defer lock.Unlock()

	group, found, err := e.findOpenGroup(ctx, cfg.Strategy, key, now)
	if err != nil {
		return domain.AlarmGroup{}, false, err
	}

	created := false
	if !found {
		group = domain.AlarmGroup{
			ID:        e.newID(),
			Strategy:  cfg.Strategy,
			Key:       key,
			CreatedAt: now,
			WindowEnd: now.Add(time.Duration(cfg.TimeWindowSec) * time.Second),
		}
		created = true
	}
	group.MemberIDs = append(group.MemberIDs, alarm.ID)
	if err := e.store.PutGroup(ctx, group); err != nil {
		return domain.AlarmGroup{}, false, fmt.Errorf("store group %q: %w", group.ID, err)
	}

	alarm.GroupID = group.ID
	return group, created, nil
}

// findOpenGroup looks up one still-open group for a strategy key.
// Params: strategy, canonical key, and current time.
// Returns: open group, found flag, or wrapped store error.
func (e *Engine) findOpenGroup(ctx context.Context, strategy domain.GroupStrategy, key string, now time.Time) (domain.AlarmGroup, bool, error) {
	groups, err := e.store.ListGroups(ctx, strategy)
	if err != nil {
		return domain.AlarmGroup{}, false, fmt.Errorf("list %s groups: %w", strategy, err)
	}
	for _, group := range groups {
		if group.Key != key {
			continue
		}
		if !group.Open(now) {
			continue
		}
		return group, true, nil
	}
	return domain.AlarmGroup{}, false, nil
}

// Group returns one group by id.
// Params: group id.
// Returns: group record or domain.ErrNotFound.
func (e *Engine) Group(ctx context.Context, groupID string) (domain.AlarmGroup, error) {
	group, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return domain.AlarmGroup{}, fmt.Errorf("group %q: %w", groupID, domain.ErrNotFound)
		}
		return domain.AlarmGroup{}, fmt.Errorf("get group %q: %w", groupID, err)
	}
	return group, nil
}

// AcknowledgeGroup cascades acknowledgment to all still-active members.
// Members in a non-acknowledgeable state (already cleared) are skipped, not
// an error.
// Params: group id, acting operator, and per-member acknowledge callback.
// Returns: count of acknowledged members, domain.ErrNotFound for unknown
// group, or the first unexpected member failure.
func (e *Engine) AcknowledgeGroup(ctx context.Context, groupID, actor string, ack AckFunc) (int, error) {
	group, err := e.Group(ctx, groupID)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, memberID := range group.MemberIDs {
		err := ack(ctx, memberID, actor)
		if err == nil {
			acked++
			continue
		}
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		return acked, fmt.Errorf("acknowledge member %q: %w", memberID, err)
	}
	return acked, nil
}
