// Package models defines the core data structures shared by the local store,
// the pending action log and the sync coordinator.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Collection names a partition of the local store.
type Collection string

const (
	// Users holds user profile records keyed by "id".
	Users Collection = "users"
	// DigitalData holds per-user scan aggregates keyed by "userId".
	DigitalData Collection = "digitalData"
	// Streaks holds per-user streak aggregates keyed by "userId".
	Streaks Collection = "streaks"
	// PendingActions holds the durable mutation queue keyed by "id".
	PendingActions Collection = "pendingActions"
)

// Collections lists every collection created when the store is opened.
var Collections = []Collection{Users, DigitalData, Streaks, PendingActions}

// primaryKeys maps each collection to the record field used as its primary key.
var primaryKeys = map[Collection]string{
	Users:          "id",
	DigitalData:    "userId",
	Streaks:        "userId",
	PendingActions: "id",
}

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	_, ok := primaryKeys[c]
	return ok
}

// Syncable reports whether actions may target c. The queue's own collection is internal.
func (c Collection) Syncable() bool {
	return c.Valid() && c != PendingActions
}

// KeyField returns the primary key field name of the collection.
func (c Collection) KeyField() string {
	return primaryKeys[c]
}

// Record is an opaque, collection-scoped document. Its shape is owned by callers.
type Record map[string]any

// KeyOf returns the primary key of rec within collection c.
// The second result is false if the key field is missing or empty.
func KeyOf(c Collection, rec Record) (string, bool) {
	field := c.KeyField()
	if field == "" {
		return "", false
	}
	return FieldString(rec, field)
}

// RemoteID returns the identifier used in remote resource paths: the "id" field,
// falling back to the collection primary key.
func RemoteID(c Collection, rec Record) (string, bool) {
	if id, ok := FieldString(rec, "id"); ok {
		return id, true
	}
	return KeyOf(c, rec)
}

// FieldString renders a scalar record field as a string.
// Numbers are formatted without exponent so {"id": 1} yields "1".
func FieldString(rec Record, field string) (string, bool) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", false
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case uint64:
		s = strconv.FormatUint(t, 10)
	default:
		return "", false
	}
	if s == "" {
		return "", false
	}
	return s, true
}

// DecodeRecord unmarshals a JSON object, keeping numbers as json.Number
// so integer identifiers survive a round trip.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("decode record: not a JSON object")
	}
	return rec, nil
}

// ActionType is the kind of mutation a pending action carries.
type ActionType string

const (
	// ActionCreate maps to POST /<collection>.
	ActionCreate ActionType = "CREATE"
	// ActionUpdate maps to PATCH /<collection>/<id>.
	ActionUpdate ActionType = "UPDATE"
	// ActionDelete maps to DELETE /<collection>/<id>.
	ActionDelete ActionType = "DELETE"
)

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// PendingAction is a queued, not yet acknowledged mutation. It is never mutated after creation.
type PendingAction struct {
	// ID is the UUID assigned at enqueue time.
	ID string `json:"id"`
	// Type is the mutation kind.
	Type ActionType `json:"type"`
	// Collection is the target collection on the remote service.
	Collection Collection `json:"collection"`
	// Payload is the request body sent to the remote service.
	Payload Record `json:"payload"`
	// EnqueuedAt is the enqueue timestamp in UTC.
	EnqueuedAt time.Time `json:"enqueuedAt"`
	// Seq is the enqueue order. It keeps increasing across restarts.
	Seq int64 `json:"seq"`
}

// ToRecord converts the action into its stored representation.
func (a PendingAction) ToRecord() (Record, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode pending action: %w", err)
	}
	return DecodeRecord(data)
}

// PendingActionFromRecord restores an action from its stored representation.
func PendingActionFromRecord(rec Record) (PendingAction, error) {
	var a PendingAction
	data, err := json.Marshal(rec)
	if err != nil {
		return a, fmt.Errorf("encode stored action: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&a); err != nil {
		return a, fmt.Errorf("decode stored action: %w", err)
	}
	return a, nil
}

// Before reports whether a was enqueued before b. Seq decides, so order
// survives wall clock steps; EnqueuedAt only separates entries without one.
func (a PendingAction) Before(b PendingAction) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

// SyncStatus is the derived, never persisted view of sync progress.
type SyncStatus struct {
	IsOnline     bool      `json:"isOnline"`
	LastSyncAt   time.Time `json:"lastSyncAt"`
	PendingCount int       `json:"pendingCount"`
	IsSyncing    bool      `json:"isSyncing"`
}
