package asset

import "time"

// EventType names an input to the invoice lifecycle.
type EventType string

const (
	EventInvoiceCreated     EventType = "InvoiceCreated"
	EventConfirmedByGateway EventType = "ConfirmedByGateway"
	EventDeadlineReached    EventType = "DeadlineReached"
	EventRetryRequested     EventType = "RetryRequested"
	EventDeliveryPerformed  EventType = "DeliveryPerformed"
)

// Event is an input to Decide/Apply. InvoiceID identifies the invoice the
// event is about; confirmation and deadline events for any other invoice
// than the live one are ignored.
type Event struct {
	Type            EventType
	InvoiceID       string
	ConfirmationURL string
	At              time.Time
}

// InvoiceCreated is raised once the gateway issued the first invoice.
func InvoiceCreated(invoiceID, confirmationURL string, at time.Time) Event {
	return Event{Type: EventInvoiceCreated, InvoiceID: invoiceID, ConfirmationURL: confirmationURL, At: at}
}

// ConfirmedByGateway is raised when the gateway reports the invoice paid.
func ConfirmedByGateway(invoiceID string) Event {
	return Event{Type: EventConfirmedByGateway, InvoiceID: invoiceID}
}

// DeadlineReached is raised when the invoice was not paid in time.
func DeadlineReached(invoiceID string) Event {
	return Event{Type: EventDeadlineReached, InvoiceID: invoiceID}
}

// RetryRequested carries the replacement invoice issued after expiry.
func RetryRequested(invoiceID, confirmationURL string, at time.Time) Event {
	return Event{Type: EventRetryRequested, InvoiceID: invoiceID, ConfirmationURL: confirmationURL, At: at}
}

// DeliveryPerformed is raised by the delivery path right before sending.
func DeliveryPerformed(at time.Time) Event {
	return Event{Type: EventDeliveryPerformed, At: at}
}

// Effect is a side effect the caller must run after committing a transition.
type Effect string

const (
	EffectStartWatcher         Effect = "StartWatcher"
	EffectScheduleDelivery     Effect = "ScheduleDelivery"
	EffectScheduleExpiryNotice Effect = "ScheduleExpiryNotice"
	EffectSupersedeInvoice     Effect = "SupersedeInvoice"
)

// Decide returns the state r moves to under e and the effects of the move.
// It is total: pairs without a rule return r.State and no effects.
func Decide(r Record, e Event) (State, []Effect) {
	switch r.State {
	case StateUnpaid:
		if e.Type == EventInvoiceCreated && e.InvoiceID != "" {
			return StateInvoiced, []Effect{EffectStartWatcher}
		}
	case StateInvoiced:
		if e.InvoiceID == "" || e.InvoiceID != r.InvoiceID {
			return r.State, nil
		}
		switch e.Type {
		case EventConfirmedByGateway:
			return StateConfirmed, []Effect{EffectScheduleDelivery}
		case EventDeadlineReached:
			return StateExpired, []Effect{EffectScheduleExpiryNotice}
		}
	case StateExpired:
		if e.Type == EventRetryRequested && e.InvoiceID != "" && e.InvoiceID != r.InvoiceID {
			return StateInvoiced, []Effect{EffectSupersedeInvoice, EffectStartWatcher}
		}
	case StateConfirmed:
		if e.Type == EventDeliveryPerformed {
			return StateDelivered, nil
		}
	}
	return r.State, nil
}

// Apply runs Decide and returns the record as it looks after the transition.
// changed is false when the event had no effect; r is returned unmodified.
func Apply(r Record, e Event) (next Record, effects []Effect, changed bool) {
	to, effects := Decide(r, e)
	if to == r.State {
		return r, nil, false
	}

	next = r
	next.State = to
	switch e.Type {
	case EventInvoiceCreated, EventRetryRequested:
		next.InvoiceID = e.InvoiceID
		next.InvoiceCreatedAt = e.At
		next.ConfirmationURL = e.ConfirmationURL
		next.ReservedAt = time.Time{}
		next.ExpiryNotified = false
	case EventDeliveryPerformed:
		next.Deliverable = nil
	}
	return next, effects, true
}

// Transition is the mutator form of Apply: it returns ErrNoTransition when
// e does not change the record, leaving it untouched.
func Transition(e Event, effects *[]Effect) Mutator {
	return func(r *Record) error {
		next, eff, changed := Apply(*r, e)
		if !changed {
			return ErrNoTransition
		}
		*r = next
		if effects != nil {
			*effects = eff
		}
		return nil
	}
}
