package messaging

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Action is the verb carried by a button payload.
type Action string

const (
	ActionPay      Action = "pay"
	ActionCheck    Action = "check"
	ActionRetry    Action = "retry"
	ActionNotLike  Action = "not_like"
	ActionPaidDone Action = "paid_done"
)

const payloadSeparator = ":"

// Telegram rejects callback data longer than 64 bytes.
const maxPayloadLen = 64

// ErrMalformedPayload is returned for button data that cannot be decoded.
var ErrMalformedPayload = errors.New("malformed button payload")

// Payload is the decoded (action, userID, assetKey) triple of a button.
type Payload struct {
	Action   Action
	UserID   int64
	AssetKey string
}

// targeted reports whether the action addresses a specific asset.
func (a Action) targeted() bool {
	switch a {
	case ActionPay, ActionCheck, ActionRetry:
		return true
	}
	return false
}

// Encode renders the payload as button data.
func (p Payload) Encode() string {
	if !p.Action.targeted() {
		return string(p.Action)
	}
	return strings.Join([]string{string(p.Action), strconv.FormatInt(p.UserID, 10), p.AssetKey}, payloadSeparator)
}

// ParsePayload decodes button data. Unknown actions, missing parts and
// non-numeric user ids yield ErrMalformedPayload.
func ParsePayload(data string) (Payload, error) {
	if data == "" || len(data) > maxPayloadLen {
		return Payload{}, ErrMalformedPayload
	}

	switch Action(data) {
	case ActionNotLike, ActionPaidDone:
		return Payload{Action: Action(data)}, nil
	}

	parts := strings.SplitN(data, payloadSeparator, 3)
	if len(parts) != 3 {
		return Payload{}, fmt.Errorf("%w: %q", ErrMalformedPayload, data)
	}
	action := Action(parts[0])
	if !action.targeted() {
		return Payload{}, fmt.Errorf("%w: unknown action %q", ErrMalformedPayload, parts[0])
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || userID <= 0 {
		return Payload{}, fmt.Errorf("%w: bad user id %q", ErrMalformedPayload, parts[1])
	}
	if parts[2] == "" || strings.Contains(parts[2], payloadSeparator) {
		return Payload{}, fmt.Errorf("%w: bad asset key", ErrMalformedPayload)
	}
	return Payload{Action: action, UserID: userID, AssetKey: parts[2]}, nil
}
