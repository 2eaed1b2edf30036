// Package service provides the reference server's business logic for
// receiving client mutations, delegating persistence to a repository.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/atinyakov/declutter/internal/models"
	"github.com/atinyakov/declutter/internal/repository"
)

var (
	// ErrUnknownCollection is returned for collections the server does not accept.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrNotFound is returned when the target record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrMissingID is returned when a record identifier cannot be determined.
	ErrMissingID = errors.New("missing record id")
)

// RecordRepository defines the persistence operations needed by RecordService.
type RecordRepository interface {
	// Upsert inserts or replaces a document.
	Upsert(ctx context.Context, collection, id string, data []byte) error
	// Merge applies a JSON merge patch to a live document and returns the result.
	Merge(ctx context.Context, collection, id string, patch []byte) ([]byte, error)
	// SoftDelete marks a live document deleted.
	SoftDelete(ctx context.Context, collection, id string) error
	// Get returns one live document.
	Get(ctx context.Context, collection, id string) ([]byte, error)
	// List returns live documents, optionally restricted to ids.
	List(ctx context.Context, collection string, ids []string) ([]repository.Entry, error)
}

// RecordService implements the REST contract the sync coordinator talks to.
type RecordService struct {
	repo RecordRepository
}

// NewRecordService constructs a RecordService with the provided repository.
func NewRecordService(repo RecordRepository) *RecordService {
	return &RecordService{repo: repo}
}

// Create stores rec. Creating an existing id replaces it, so a redelivered
// CREATE is harmless. Records without an id get one.
func (s *RecordService) Create(ctx context.Context, c models.Collection, rec models.Record) (models.Record, error) {
	if !c.Syncable() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	if rec == nil {
		rec = models.Record{}
	}

	id, ok := models.RemoteID(c, rec)
	if !ok {
		id = uuid.NewString()
		rec["id"] = id
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, string(c), id, data); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges patch into the record id.
func (s *RecordService) Update(ctx context.Context, c models.Collection, id string, patch models.Record) (models.Record, error) {
	if !c.Syncable() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	if id == "" {
		return nil, ErrMissingID
	}

	data, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	merged, err := s.repo.Merge(ctx, string(c), id, data)
	if err != nil {
		return nil, translate(err)
	}
	return models.DecodeRecord(merged)
}

// Delete removes the record id.
func (s *RecordService) Delete(ctx context.Context, c models.Collection, id string) error {
	if !c.Syncable() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	return translate(s.repo.SoftDelete(ctx, string(c), id))
}

// Get returns the record id.
func (s *RecordService) Get(ctx context.Context, c models.Collection, id string) (models.Record, error) {
	if !c.Syncable() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	data, err := s.repo.Get(ctx, string(c), id)
	if err != nil {
		return nil, translate(err)
	}
	return models.DecodeRecord(data)
}

// List returns the records of a collection, optionally only those in ids.
func (s *RecordService) List(ctx context.Context, c models.Collection, ids []string) ([]models.Record, error) {
	if !c.Syncable() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	entries, err := s.repo.List(ctx, string(c), ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(entries))
	for _, e := range entries {
		rec, err := models.DecodeRecord(e.Data)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", e.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func translate(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
