package asset

import "context"

// Mutator edits a private copy of a record. Returning an error aborts the
// update without writing anything.
type Mutator func(r *Record) error

// Store keeps asset records per session with compare-and-swap updates.
type Store interface {
	// Create inserts a new record. Returns ErrAlreadyExists for a used key.
	Create(ctx context.Context, r Record) error

	// Get returns a snapshot of the record or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Update applies mutate only if the record is currently in expected state
	// and returns the committed snapshot. A record in another state yields
	// ErrStateMismatch.
	Update(ctx context.Context, key string, expected State, mutate Mutator) (Record, error)

	// ListSession returns snapshots of every record in the session.
	ListSession(ctx context.Context, sessionID string) ([]Record, error)

	// Delete removes one record. Missing records are not an error.
	Delete(ctx context.Context, key string) error

	// DeleteSession removes every record in the session.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases background resources.
	Close() error
}
