// Package asset models a submitted image and the lifecycle of the invoice
// that unlocks its clean deliverable.
package asset

import (
	"time"

	"github.com/imagebot/backend/internal/domain/messaging"
)

// State is the lifecycle state of an asset's invoice.
type State string

const (
	StateUnpaid    State = "UNPAID"
	StateInvoiced  State = "INVOICED"
	StateConfirmed State = "CONFIRMED"
	StateExpired   State = "EXPIRED"
	StateDelivered State = "DELIVERED"
)

// IsValid checks if the state is a known value
func (s State) IsValid() bool {
	switch s {
	case StateUnpaid, StateInvoiced, StateConfirmed, StateExpired, StateDelivered:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave the state.
func (s State) IsTerminal() bool {
	return s == StateDelivered
}

// String returns the string representation
func (s State) String() string {
	return string(s)
}

// Record is one submitted image scoped to a chat session. Values returned by
// a Store are snapshots; mutate them only inside Store.Update.
type Record struct {
	Key       string `json:"key"`
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	ChatID    int64  `json:"chat_id"`

	Deliverable []byte `json:"deliverable,omitempty"`
	Preview     []byte `json:"preview,omitempty"`

	State            State     `json:"state"`
	InvoiceID        string    `json:"invoice_id,omitempty"`
	InvoiceCreatedAt time.Time `json:"invoice_created_at,omitzero"`
	ConfirmationURL  string    `json:"confirmation_url,omitempty"`

	PreviewMessage messaging.MessageRef `json:"preview_message"`
	PaymentMessage messaging.MessageRef `json:"payment_message"`

	// ReservedAt is set while a foreground task is creating an invoice.
	ReservedAt     time.Time `json:"reserved_at,omitzero"`
	ExpiryNotified bool      `json:"expiry_notified,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates an unpaid record.
func NewRecord(key, sessionID string, userID, chatID int64, deliverable, preview []byte, now time.Time) Record {
	return Record{
		Key:         key,
		SessionID:   sessionID,
		UserID:      userID,
		ChatID:      chatID,
		Deliverable: deliverable,
		Preview:     preview,
		State:       StateUnpaid,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Deadline returns when the live invoice expires, or the zero time.
func (r Record) Deadline(ttl time.Duration) time.Time {
	if r.InvoiceCreatedAt.IsZero() {
		return time.Time{}
	}
	return r.InvoiceCreatedAt.Add(ttl)
}

// IsReserved reports whether an invoice creation is in flight and not stale.
func (r Record) IsReserved(now time.Time, ttl time.Duration) bool {
	return !r.ReservedAt.IsZero() && now.Sub(r.ReservedAt) < ttl
}

// OwnedBy reports whether the record belongs to the user.
func (r Record) OwnedBy(userID int64) bool {
	return r.UserID == userID
}
