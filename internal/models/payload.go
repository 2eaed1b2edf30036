package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is a typed record for one of the known collections.
type Payload interface {
	// Collection returns the collection the payload belongs to.
	Collection() Collection
}

// User is a record of the users collection.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Plan      string    `json:"plan,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Collection implements Payload.
func (User) Collection() Collection { return Users }

// ScanSummary is the per-user aggregate produced by device scans, stored in DigitalData.
type ScanSummary struct {
	ID             string    `json:"id,omitempty"`
	UserID         string    `json:"userId"`
	PhotoCount     int       `json:"photoCount"`
	DuplicateCount int       `json:"duplicateCount"`
	EmailCount     int       `json:"emailCount"`
	AppCount       int       `json:"appCount"`
	StorageBytes   int64     `json:"storageBytes"`
	ScannedAt      time.Time `json:"scannedAt,omitempty"`
}

// Collection implements Payload.
func (ScanSummary) Collection() Collection { return DigitalData }

// Streak tracks consecutive declutter days for a user.
type Streak struct {
	ID           string    `json:"id,omitempty"`
	UserID       string    `json:"userId"`
	Current      int       `json:"current"`
	Longest      int       `json:"longest"`
	LastActiveAt time.Time `json:"lastActiveAt,omitempty"`
}

// Collection implements Payload.
func (Streak) Collection() Collection { return Streaks }

// EncodePayload converts a typed payload into a storage-boundary Record.
func EncodePayload(p Payload) (Record, error) {
	if p == nil {
		return nil, fmt.Errorf("encode payload: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return DecodeRecord(data)
}

// DecodePayload converts a stored Record back into the typed payload of collection c.
func DecodePayload(c Collection, rec Record) (Payload, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	switch c {
	case Users:
		var u User
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", c, err)
		}
		return u, nil
	case DigitalData:
		var d ScanSummary
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", c, err)
		}
		return d, nil
	case Streaks:
		var s Streak
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", c, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("decode payload: collection %q has no typed payload", c)
	}
}
