// Package payment contains payment gateway adapters.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// descriptionLimit is the longest payment description YooKassa accepts
const descriptionLimit = 128

// YooKassaAdapter implements payment.Gateway for the YooKassa v3 API
type YooKassaAdapter struct {
	config *YooKassaConfig
	client *resty.Client
}

// NewYooKassaAdapter creates a new YooKassa adapter
func NewYooKassaAdapter(config *YooKassaConfig) (*YooKassaAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := resty.New().
		SetBaseURL(config.baseURL()).
		SetTimeout(config.timeout()).
		SetBasicAuth(config.ShopID, config.SecretKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &YooKassaAdapter{
		config: config,
		client: client,
	}, nil
}

// CreatePayment creates a redirect payment. The idempotency key is passed to
// the gateway so repeated calls with the same key return the same payment.
func (a *YooKassaAdapter) CreatePayment(ctx context.Context, req *payment.CreatePaymentRequest) (*payment.Payment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	description := req.Description
	if r := []rune(description); len(r) > descriptionLimit {
		description = string(r[:descriptionLimit])
	}

	body := yookassaCreatePaymentRequest{
		Amount: yookassaAmount{
			Value:    req.Amount.StringFixed(2),
			Currency: req.Currency,
		},
		Confirmation: yookassaConfirmation{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
		Capture:     req.Capture,
		Description: description,
		Metadata:    req.Metadata,
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Idempotence-Key", req.IdempotencyKey).
		SetBody(body).
		Post(yookassaPaymentsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	p, err := parsePayment(resp.Body())
	if err != nil {
		return nil, err
	}
	if p.ConfirmationURL == "" {
		return nil, fmt.Errorf("%w: payment %s has no confirmation URL", payment.ErrGatewayInvalidResponse, p.ID)
	}
	return p, nil
}

// GetPayment reads the current state of a payment
func (a *YooKassaAdapter) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	if paymentID == "" {
		return nil, payment.ErrInvalidPaymentID
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", paymentID).
		Get(yookassaPaymentPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	return parsePayment(resp.Body())
}

// checkResponse maps HTTP failures onto the gateway error taxonomy
func checkResponse(resp *resty.Response) error {
	status := resp.StatusCode()
	if status < http.StatusBadRequest {
		return nil
	}

	detail := fmt.Sprintf("HTTP %d", status)
	var errResp yookassaErrorResponse
	if err := json.Unmarshal(resp.Body(), &errResp); err == nil && errResp.Code != "" {
		detail = fmt.Sprintf("%s - %s", errResp.Code, errResp.Description)
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", payment.ErrPaymentNotFound, detail)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", payment.ErrGatewayUnavailable, detail)
	default:
		return fmt.Errorf("%w: %s", payment.ErrGatewayRequestFailed, detail)
	}
}

func parsePayment(body []byte) (*payment.Payment, error) {
	var data yookassaPayment
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrGatewayInvalidResponse, err)
	}
	if data.ID == "" {
		return nil, fmt.Errorf("%w: missing payment id", payment.ErrGatewayInvalidResponse)
	}

	status := payment.GatewayStatus(data.Status)
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", payment.ErrGatewayInvalidResponse, data.Status)
	}

	amount := decimal.Zero
	if data.Amount.Value != "" {
		parsed, err := decimal.NewFromString(data.Amount.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: amount %q", payment.ErrGatewayInvalidResponse, data.Amount.Value)
		}
		amount = parsed
	}

	p := &payment.Payment{
		ID:       data.ID,
		Status:   status,
		Paid:     data.Paid,
		Amount:   amount,
		Currency: data.Amount.Currency,
		Metadata: data.Metadata,
	}
	if data.Confirmation != nil {
		p.ConfirmationURL = data.Confirmation.ConfirmationURL
	}
	return p, nil
}

// Ensure YooKassaAdapter implements payment.Gateway
var _ payment.Gateway = (*YooKassaAdapter)(nil)
