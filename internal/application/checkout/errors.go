package checkout

import (
	"errors"

	"github.com/imagebot/backend/internal/domain/asset"
)

var (
	// ErrTransientGateway wraps gateway failures that may succeed on retry
	ErrTransientGateway = errors.New("checkout: payment gateway temporarily unavailable")
	// ErrInvalidRequest is returned for unknown or foreign asset keys and
	// malformed button payloads
	ErrInvalidRequest = errors.New("checkout: asset not found or already paid")
	// ErrTerminalGatewayFailure is returned when invoice creation gave up
	ErrTerminalGatewayFailure = errors.New("checkout: invoice creation failed")
	// ErrRaceLost means another task already moved the asset on
	ErrRaceLost = asset.ErrStateMismatch
	// ErrPaymentInProgress is returned while an invoice is being created or awaits payment
	ErrPaymentInProgress = errors.New("checkout: payment already in progress")
	// ErrAlreadyPaid is returned for confirmed or delivered assets
	ErrAlreadyPaid = errors.New("checkout: asset already paid")
	// ErrNotYetPaid is returned for a payment notification the gateway does
	// not confirm yet; the notification should be redelivered
	ErrNotYetPaid = errors.New("checkout: gateway does not report the invoice paid yet")
)

// reservation outcomes; never returned to callers
var (
	errReserved        = errors.New("checkout: asset reserved by another task")
	errReservationLost = errors.New("checkout: reservation taken over")
	errAlreadyNotified = errors.New("checkout: expiry already notified")
)

// IsRaceLost reports whether err only means another task won a transition
func IsRaceLost(err error) bool {
	return errors.Is(err, ErrRaceLost) || errors.Is(err, asset.ErrNoTransition)
}
