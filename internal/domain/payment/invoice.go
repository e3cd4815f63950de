// Package payment holds the invoice audit model and the gateway port.
package payment

import (
	"time"

	"github.com/imagebot/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Status is the audit status of an invoice
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsValid checks if the status is known
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Resolution records how the checkout ended for an invoice
type Resolution string

const (
	ResolutionNone       Resolution = ""
	ResolutionDelivered  Resolution = "delivered"
	ResolutionExpired    Resolution = "expired"
	ResolutionSuperseded Resolution = "superseded"

	// ResolutionPaidUndelivered marks a paid invoice whose asset was gone
	// before it could be delivered. These need a manual refund or resend.
	ResolutionPaidUndelivered Resolution = "paid_undelivered"
)

// IsValid checks if the resolution is known
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionNone, ResolutionDelivered, ResolutionExpired, ResolutionSuperseded, ResolutionPaidUndelivered:
		return true
	}
	return false
}

// Invoice is one invoice attempt for an asset. Invoices are never deleted.
type Invoice struct {
	ID              string
	IdempotencyKey  string
	UserID          int64
	ChatID          int64
	AssetKey        string
	Amount          decimal.Decimal
	Currency        string
	Status          Status
	Resolution      Resolution
	ConfirmationURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
}

// NewInvoice creates a pending invoice from a gateway payment
func NewInvoice(p *Payment, idempotencyKey string, userID, chatID int64, assetKey string, now time.Time) (*Invoice, error) {
	if p == nil || p.ID == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Invoice requires a gateway payment id")
	}
	if idempotencyKey == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Invoice requires an idempotency key")
	}
	if assetKey == "" {
		return nil, shared.NewDomainError("INVALID_INVOICE", "Invoice requires an asset key")
	}
	return &Invoice{
		ID:              p.ID,
		IdempotencyKey:  idempotencyKey,
		UserID:          userID,
		ChatID:          chatID,
		AssetKey:        assetKey,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Status:          p.Status.InvoiceStatus(),
		ConfirmationURL: p.ConfirmationURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsResolved reports whether the checkout for this invoice is over
func (i *Invoice) IsResolved() bool {
	return i.Resolution != ResolutionNone
}

// Deadline returns when the invoice stops being watched
func (i *Invoice) Deadline(ttl time.Duration) time.Time {
	return i.CreatedAt.Add(ttl)
}
