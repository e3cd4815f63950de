package payment

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Payment Gateway Errors
// ---------------------------------------------------------------------------

var (
	// Request validation errors
	ErrInvalidIdempotencyKey = errors.New("payment: invalid idempotency key")
	ErrInvalidAmount         = errors.New("payment: invalid payment amount")
	ErrInvalidCurrency       = errors.New("payment: invalid currency")
	ErrInvalidReturnURL      = errors.New("payment: invalid return URL")
	ErrInvalidPaymentID      = errors.New("payment: invalid payment ID")

	// ErrPaymentNotFound is returned when the gateway has no such payment
	ErrPaymentNotFound = errors.New("payment: payment not found")

	// Gateway errors
	ErrGatewayUnavailable     = errors.New("payment: gateway temporarily unavailable")
	ErrGatewayRequestFailed   = errors.New("payment: gateway request failed")
	ErrGatewayInvalidResponse = errors.New("payment: invalid gateway response")
)

// IsTransient reports whether a gateway error may succeed on retry.
// Network failures, 5xx answers and rate limiting are transient; rejected
// requests are not.
func IsTransient(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// GatewayStatus is the status of a payment in the gateway's ledger
type GatewayStatus string

const (
	// GatewayStatusPending indicates the payer has not finished yet
	GatewayStatusPending GatewayStatus = "pending"
	// GatewayStatusWaitingForCapture indicates funds are held but not captured
	GatewayStatusWaitingForCapture GatewayStatus = "waiting_for_capture"
	// GatewayStatusSucceeded indicates funds were captured
	GatewayStatusSucceeded GatewayStatus = "succeeded"
	// GatewayStatusCanceled indicates the payment was canceled or failed
	GatewayStatusCanceled GatewayStatus = "canceled"
)

// IsValid returns true if the status is known
func (s GatewayStatus) IsValid() bool {
	switch s {
	case GatewayStatusPending, GatewayStatusWaitingForCapture, GatewayStatusSucceeded, GatewayStatusCanceled:
		return true
	}
	return false
}

// IsFinal returns true if the status will not change anymore
func (s GatewayStatus) IsFinal() bool {
	return s == GatewayStatusSucceeded || s == GatewayStatusCanceled
}

// IsSuccess returns true only once the gateway confirmed capture
func (s GatewayStatus) IsSuccess() bool {
	return s == GatewayStatusSucceeded
}

// InvoiceStatus maps the gateway status onto the audit status
func (s GatewayStatus) InvoiceStatus() Status {
	switch s {
	case GatewayStatusSucceeded:
		return StatusSucceeded
	case GatewayStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

// CreatePaymentRequest asks the gateway to open a payment
type CreatePaymentRequest struct {
	// IdempotencyKey must stay the same across retries of one logical attempt
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	ReturnURL      string
	Capture        bool
	Metadata       map[string]string
}

// Validate validates the request
func (r *CreatePaymentRequest) Validate() error {
	if r.IdempotencyKey == "" || len(r.IdempotencyKey) > 64 {
		return ErrInvalidIdempotencyKey
	}
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(r.Currency) != 3 {
		return ErrInvalidCurrency
	}
	if r.ReturnURL == "" {
		return ErrInvalidReturnURL
	}
	return nil
}

// Payment is the gateway's view of a payment
type Payment struct {
	ID              string
	Status          GatewayStatus
	Paid            bool
	Amount          decimal.Decimal
	Currency        string
	ConfirmationURL string
	Metadata        map[string]string
}

// Gateway is the payment provider port
type Gateway interface {
	// CreatePayment opens a payment. Repeating a request with the same
	// idempotency key returns the same payment.
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*Payment, error)

	// GetPayment reads the payment from the gateway's ledger.
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}
