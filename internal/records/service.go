// Package records provides write-through access to local records: every
// mutation is applied to the local store and queued for the remote service.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/atinyakov/declutter/internal/models"
)

var (
	// ErrInvalidCollection is returned for collections callers may not write.
	ErrInvalidCollection = errors.New("invalid collection")
	// ErrMissingKey is returned when a record lacks a key that cannot be generated.
	ErrMissingKey = errors.New("missing record key")
)

// Store is the local record storage.
type Store interface {
	Put(ctx context.Context, c models.Collection, rec models.Record) error
	Get(ctx context.Context, c models.Collection, key string) (models.Record, bool, error)
	GetAll(ctx context.Context, c models.Collection) ([]models.Record, error)
	Delete(ctx context.Context, c models.Collection, key string) error
}

// Enqueuer records server-bound intent.
type Enqueuer interface {
	Enqueue(ctx context.Context, typ models.ActionType, c models.Collection, payload models.Record) (models.PendingAction, error)
}

// Service applies mutations locally and queues them. A mutation whose action
// cannot be queued is undone locally and its error returned.
type Service struct {
	store   Store
	actions Enqueuer
}

// NewService returns a Service.
func NewService(store Store, actions Enqueuer) *Service {
	return &Service{store: store, actions: actions}
}

// Create stores a new record and queues a CREATE. Users without an id get a
// generated one. The stored record is returned.
func (s *Service) Create(ctx context.Context, c models.Collection, rec models.Record) (models.Record, error) {
	if !c.Syncable() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, c)
	}
	rec = clone(rec)

	if _, ok := models.KeyOf(c, rec); !ok {
		if c.KeyField() != "id" {
			return nil, fmt.Errorf("%w: %s requires %q", ErrMissingKey, c, c.KeyField())
		}
		rec["id"] = uuid.NewString()
	}
	key, _ := models.KeyOf(c, rec)

	prev, existed, err := s.store.Get(ctx, c, key)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, c, rec); err != nil {
		return nil, err
	}
	if _, err := s.actions.Enqueue(ctx, models.ActionCreate, c, rec); err != nil {
		return nil, s.rollback(ctx, c, key, prev, existed, err)
	}
	return rec, nil
}

// Update merges patch into the stored record under key and queues an UPDATE
// carrying the patch. The merged record is returned.
func (s *Service) Update(ctx context.Context, c models.Collection, key string, patch models.Record) (models.Record, error) {
	if !c.Syncable() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, c)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrMissingKey)
	}

	current, existed, err := s.store.Get(ctx, c, key)
	if err != nil {
		return nil, err
	}

	merged := clone(current)
	for k, v := range patch {
		merged[k] = v
	}
	merged[c.KeyField()] = key

	payload := clone(patch)
	payload[c.KeyField()] = key
	if id, ok := models.FieldString(merged, "id"); ok {
		payload["id"] = id
	}

	if err := s.store.Put(ctx, c, merged); err != nil {
		return nil, err
	}
	if _, err := s.actions.Enqueue(ctx, models.ActionUpdate, c, payload); err != nil {
		return nil, s.rollback(ctx, c, key, current, existed, err)
	}
	return merged, nil
}

// Delete removes the record locally and queues a DELETE.
func (s *Service) Delete(ctx context.Context, c models.Collection, key string) error {
	if !c.Syncable() {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, c)
	}
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrMissingKey)
	}

	current, existed, err := s.store.Get(ctx, c, key)
	if err != nil {
		return err
	}

	payload := models.Record{c.KeyField(): key}
	if id, ok := models.FieldString(current, "id"); ok {
		payload["id"] = id
	}

	if err := s.store.Delete(ctx, c, key); err != nil {
		return err
	}
	if _, err := s.actions.Enqueue(ctx, models.ActionDelete, c, payload); err != nil {
		return s.rollback(ctx, c, key, current, existed, err)
	}
	return nil
}

// rollback restores the local record after its action could not be queued,
// so the store never holds a change the remote service will not receive.
func (s *Service) rollback(ctx context.Context, c models.Collection, key string, prev models.Record, existed bool, cause error) error {
	var err error
	if existed {
		err = s.store.Put(ctx, c, prev)
	} else {
		err = s.store.Delete(ctx, c, key)
	}
	if err != nil {
		return errors.Join(cause, fmt.Errorf("restore %s/%s: %w", c, key, err))
	}
	return cause
}

// Get reads one local record.
func (s *Service) Get(ctx context.Context, c models.Collection, key string) (models.Record, bool, error) {
	return s.store.Get(ctx, c, key)
}

// List reads every local record of a collection.
func (s *Service) List(ctx context.Context, c models.Collection) ([]models.Record, error) {
	return s.store.GetAll(ctx, c)
}

func clone(rec models.Record) models.Record {
	out := make(models.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
