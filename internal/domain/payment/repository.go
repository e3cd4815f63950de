package payment

import (
	"context"
	"time"
)

// InvoiceRepository persists invoices for audit and crash recovery
type InvoiceRepository interface {
	// Save inserts the invoice. Saving the same id twice is a no-op.
	Save(ctx context.Context, inv *Invoice) error

	// FindByID returns the invoice or shared.ErrNotFound
	FindByID(ctx context.Context, id string) (*Invoice, error)

	// UpdateStatus records a status read from the gateway
	UpdateStatus(ctx context.Context, id string, status Status) error

	// Resolve records how the checkout ended. Already resolved invoices are
	// left untouched.
	Resolve(ctx context.Context, id string, resolution Resolution, at time.Time) error

	// FindUnresolved returns invoices whose checkout has not ended, oldest first
	FindUnresolved(ctx context.Context, limit int) ([]*Invoice, error)
}

// UserRepository stores chat users
type UserRepository interface {
	// GetOrCreate returns the user with the telegram id, creating it if needed
	GetOrCreate(ctx context.Context, telegramID int64, username, firstName string) (*User, error)

	// Stats counts users created today, yesterday and overall relative to now
	Stats(ctx context.Context, now time.Time) (*UserStats, error)
}
