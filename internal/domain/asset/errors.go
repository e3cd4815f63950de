package asset

import "errors"

var (
	// ErrNotFound is returned when no record exists for a key
	ErrNotFound = errors.New("asset not found")

	// ErrAlreadyExists is returned when creating a record under a used key
	ErrAlreadyExists = errors.New("asset already exists")

	// ErrStateMismatch is returned by Store.Update when the record is no longer
	// in the expected state. The caller lost a race and must not act.
	ErrStateMismatch = errors.New("asset state changed concurrently")

	// ErrStaleInvoice is returned when an event refers to an invoice that is
	// not the record's live invoice
	ErrStaleInvoice = errors.New("invoice is not live for asset")

	// ErrNoTransition is returned by mutators when the event does not apply
	ErrNoTransition = errors.New("event does not change asset state")
)
