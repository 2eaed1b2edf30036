// Package queue implements the durable FIFO log of mutations waiting to be
// delivered to the remote service. Entries live in the pendingActions
// collection of the local store and are removed only after the remote
// service acknowledged them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/logger"
	"github.com/atinyakov/declutter/internal/models"
)

var (
	// ErrInvalidAction is returned by Enqueue for malformed actions.
	ErrInvalidAction = errors.New("invalid action")
	// ErrActionNotFound is returned by Discard and Get for unknown ids.
	ErrActionNotFound = errors.New("action not found")
)

// Store is the subset of the local store the log needs.
type Store interface {
	Put(ctx context.Context, c models.Collection, rec models.Record) error
	Get(ctx context.Context, c models.Collection, key string) (models.Record, bool, error)
	GetAll(ctx context.Context, c models.Collection) ([]models.Record, error)
	Delete(ctx context.Context, c models.Collection, key string) error
}

// OnlineChecker reports current connectivity.
type OnlineChecker interface {
	IsOnline() bool
}

type availability interface {
	Available() bool
}

// ActionLog is the pending action log.
type ActionLog struct {
	store  Store
	online OnlineChecker
	log    *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	seq     int64
	seeded  bool
	trigger func()
	changed func()
}

// New creates an ActionLog over store. online may be nil, in which case
// Enqueue never triggers a drain.
func New(store Store, online OnlineChecker, log *zap.Logger) *ActionLog {
	return &ActionLog{
		store:  store,
		online: online,
		log:    logger.OrNop(log),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetDrainTrigger registers the function called after an enqueue while online.
// It must not block.
func (l *ActionLog) SetDrainTrigger(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trigger = fn
}

// SetChangeHook registers a function called after an enqueue or a discard,
// for example to refresh a displayed pending count. It must not block.
func (l *ActionLog) SetChangeHook(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changed = fn
}

func (l *ActionLog) notifyChange() {
	l.mu.Lock()
	changed := l.changed
	l.mu.Unlock()
	if changed != nil {
		changed()
	}
}

// Enqueue validates and persists a new action, then kicks a drain if online.
// It returns once the action is written to the store.
func (l *ActionLog) Enqueue(ctx context.Context, typ models.ActionType, c models.Collection, payload models.Record) (models.PendingAction, error) {
	if err := validate(typ, c, payload); err != nil {
		return models.PendingAction{}, err
	}

	seq, err := l.nextSeq(ctx)
	if err != nil {
		return models.PendingAction{}, err
	}

	action := models.PendingAction{
		ID:         uuid.NewString(),
		Type:       typ,
		Collection: c,
		Payload:    payload,
		EnqueuedAt: l.now(),
		Seq:        seq,
	}

	rec, err := action.ToRecord()
	if err != nil {
		return models.PendingAction{}, err
	}
	if err := l.store.Put(ctx, models.PendingActions, rec); err != nil {
		return models.PendingAction{}, fmt.Errorf("persist action: %w", err)
	}

	if a, ok := l.store.(availability); ok && !a.Available() {
		l.log.Warn("action not persisted, local store unavailable",
			zap.String("id", action.ID),
			zap.String("type", string(typ)),
			zap.String("collection", string(c)),
		)
	} else {
		l.log.Debug("action enqueued",
			zap.String("id", action.ID),
			zap.String("type", string(typ)),
			zap.String("collection", string(c)),
		)
	}

	l.notifyChange()

	l.mu.Lock()
	trigger := l.trigger
	l.mu.Unlock()
	if trigger != nil && l.online != nil && l.online.IsOnline() {
		trigger()
	}

	return action, nil
}

// EnqueuePayload enqueues a typed payload for its own collection.
func (l *ActionLog) EnqueuePayload(ctx context.Context, typ models.ActionType, p models.Payload) (models.PendingAction, error) {
	rec, err := models.EncodePayload(p)
	if err != nil {
		return models.PendingAction{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return l.Enqueue(ctx, typ, p.Collection(), rec)
}

// ListPending returns every stored action ordered by enqueue time.
// Entries that cannot be decoded are logged and skipped.
func (l *ActionLog) ListPending(ctx context.Context) ([]models.PendingAction, error) {
	recs, err := l.store.GetAll(ctx, models.PendingActions)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}

	actions := make([]models.PendingAction, 0, len(recs))
	for _, rec := range recs {
		a, err := models.PendingActionFromRecord(rec)
		if err != nil {
			l.log.Warn("skipping unreadable pending action", zap.Any("record", rec), zap.Error(err))
			continue
		}
		actions = append(actions, a)
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Before(actions[j])
	})
	return actions, nil
}

// Count returns the number of stored actions.
func (l *ActionLog) Count(ctx context.Context) (int, error) {
	recs, err := l.store.GetAll(ctx, models.PendingActions)
	if err != nil {
		return 0, fmt.Errorf("count pending actions: %w", err)
	}
	return len(recs), nil
}

// Get returns one stored action.
func (l *ActionLog) Get(ctx context.Context, id string) (models.PendingAction, error) {
	rec, ok, err := l.store.Get(ctx, models.PendingActions, id)
	if err != nil {
		return models.PendingAction{}, fmt.Errorf("get action %s: %w", id, err)
	}
	if !ok {
		return models.PendingAction{}, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	return models.PendingActionFromRecord(rec)
}

// Remove deletes an acknowledged action. Removing an unknown id is a no-op.
func (l *ActionLog) Remove(ctx context.Context, id string) error {
	if err := l.store.Delete(ctx, models.PendingActions, id); err != nil {
		return fmt.Errorf("remove action %s: %w", id, err)
	}
	return nil
}

// Discard drops an action the caller gave up on.
func (l *ActionLog) Discard(ctx context.Context, id string) error {
	_, ok, err := l.store.Get(ctx, models.PendingActions, id)
	if err != nil {
		return fmt.Errorf("discard action %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if err := l.Remove(ctx, id); err != nil {
		return err
	}
	l.log.Info("pending action discarded", zap.String("id", id))
	l.notifyChange()
	return nil
}

// nextSeq returns the next tiebreaker, continuing after the highest stored one.
func (l *ActionLog) nextSeq(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.seeded {
		recs, err := l.store.GetAll(ctx, models.PendingActions)
		if err != nil {
			return 0, fmt.Errorf("load pending actions: %w", err)
		}
		for _, rec := range recs {
			if a, err := models.PendingActionFromRecord(rec); err == nil && a.Seq > l.seq {
				l.seq = a.Seq
			}
		}
		l.seeded = true
	}

	l.seq++
	return l.seq, nil
}

func validate(typ models.ActionType, c models.Collection, payload models.Record) error {
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, typ)
	}
	if !c.Syncable() {
		return fmt.Errorf("%w: collection %q cannot be synced", ErrInvalidAction, c)
	}
	if payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidAction)
	}
	if typ != models.ActionCreate {
		if _, ok := models.RemoteID(c, payload); !ok {
			return fmt.Errorf("%w: %s on %s needs \"id\" or %q", ErrInvalidAction, typ, c, c.KeyField())
		}
	}
	return nil
}
