package payment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvoice(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &Payment{
		ID:              "2d9f-0001",
		Status:          GatewayStatusPending,
		Amount:          decimal.NewFromInt(490),
		Currency:        "RUB",
		ConfirmationURL: "https://yoomoney.ru/checkout/2d9f-0001",
	}

	t.Run("creates pending invoice", func(t *testing.T) {
		inv, err := NewInvoice(p, "token-1", 7, 100, "k1", now)
		require.NoError(t, err)
		assert.Equal(t, "2d9f-0001", inv.ID)
		assert.Equal(t, "token-1", inv.IdempotencyKey)
		assert.Equal(t, StatusPending, inv.Status)
		assert.True(t, decimal.NewFromInt(490).Equal(inv.Amount))
		assert.False(t, inv.IsResolved())
		assert.Equal(t, now.Add(10*time.Minute), inv.Deadline(10*time.Minute))
	})

	t.Run("rejects missing parts", func(t *testing.T) {
		_, err := NewInvoice(nil, "token-1", 7, 100, "k1", now)
		assert.Error(t, err)
		_, err = NewInvoice(p, "", 7, 100, "k1", now)
		assert.Error(t, err)
		_, err = NewInvoice(p, "token-1", 7, 100, "", now)
		assert.Error(t, err)
	})
}

func TestGatewayStatus(t *testing.T) {
	tests := []struct {
		status  GatewayStatus
		final   bool
		success bool
		invoice Status
	}{
		{GatewayStatusPending, false, false, StatusPending},
		{GatewayStatusWaitingForCapture, false, false, StatusPending},
		{GatewayStatusSucceeded, true, true, StatusSucceeded},
		{GatewayStatusCanceled, true, false, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.IsValid())
			assert.Equal(t, tt.final, tt.status.IsFinal())
			assert.Equal(t, tt.success, tt.status.IsSuccess())
			assert.Equal(t, tt.invoice, tt.status.InvoiceStatus())
		})
	}
	assert.False(t, GatewayStatus("refunded").IsValid())
}

func TestCreatePaymentRequest_Validate(t *testing.T) {
	valid := func() *CreatePaymentRequest {
		return &CreatePaymentRequest{
			IdempotencyKey: "token-1",
			Amount:         decimal.NewFromInt(490),
			Currency:       "RUB",
			ReturnURL:      "https://t.me/image_bot",
			Capture:        true,
		}
	}

	tests := []struct {
		name   string
		mutate func(r *CreatePaymentRequest)
		want   error
	}{
		{"valid", func(r *CreatePaymentRequest) {}, nil},
		{"missing key", func(r *CreatePaymentRequest) { r.IdempotencyKey = "" }, ErrInvalidIdempotencyKey},
		{"zero amount", func(r *CreatePaymentRequest) { r.Amount = decimal.Zero }, ErrInvalidAmount},
		{"negative amount", func(r *CreatePaymentRequest) { r.Amount = decimal.NewFromInt(-1) }, ErrInvalidAmount},
		{"bad currency", func(r *CreatePaymentRequest) { r.Currency = "RUBLE" }, ErrInvalidCurrency},
		{"missing return url", func(r *CreatePaymentRequest) { r.ReturnURL = "" }, ErrInvalidReturnURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrGatewayUnavailable))
	assert.False(t, IsTransient(ErrGatewayRequestFailed))
	assert.False(t, IsTransient(ErrPaymentNotFound))
}

func TestResolution_IsValid(t *testing.T) {
	for _, r := range []Resolution{ResolutionNone, ResolutionDelivered, ResolutionExpired, ResolutionSuperseded, ResolutionPaidUndelivered} {
		assert.True(t, r.IsValid(), string(r))
	}
	assert.False(t, Resolution("refunded").IsValid())
}
