package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// SessionLog is the append-only log of completed sessions. Records are
// insertion-ordered; prior records are never rewritten or reordered by the
// engine.
type SessionLog interface {
	// EnsureInitialized creates the backing log if absent and migrates a
	// drifted header in place, preserving all data rows. Idempotent.
	EnsureInitialized() error

	// Append durably writes one completed session and returns the duration
	// in minutes as written (one decimal place). Write failures are
	// surfaced: silently dropping a completed session would corrupt the
	// user's record.
	Append(start, end time.Time, game string) (float64, error)

	// ReadAll returns every persisted record in file order. Individual
	// malformed records are tolerated; a missing log yields an empty slice.
	ReadAll() ([]Session, error)

	// Recent returns the most recent n records, newest first.
	Recent(n int) ([]Session, error)
}

// CheckpointStore persists the single live session so an interrupted run
// can be recovered instead of silently losing in-progress playtime.
type CheckpointStore interface {
	Put(cp Checkpoint) error
	Get() (*Checkpoint, error) // ErrNotFound when no live session is checkpointed
	Clear() error
	Close() error
}
