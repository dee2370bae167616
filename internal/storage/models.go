package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when a record is rejected before persistence.
// Callers treat it as a "not added" result, never as a pipeline abort.
var ErrValidation = errors.New("invalid record")

// InteractionRecord is one logged query/response exchange.
//
// Metadata is opaque to the store; values must survive a JSON round trip
// (strings, booleans, numbers, nested maps and slices).
type InteractionRecord struct {
	ID        string
	Query     string
	Response  string
	Timestamp time.Time
	Metadata  map[string]any
}

// RecordPatch describes a partial update. Nil fields are left untouched;
// a non-nil Metadata replaces the whole metadata map.
type RecordPatch struct {
	Query     *string
	Response  *string
	Timestamp *time.Time
	Metadata  map[string]any
}
