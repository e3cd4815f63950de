package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/imagebot/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InvoiceClientConfig holds invoice client configuration
type InvoiceClientConfig struct {
	Price       decimal.Decimal
	Currency    string
	Description string
	ReturnURL   string
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultInvoiceClientConfig returns default invoice client configuration
func DefaultInvoiceClientConfig() InvoiceClientConfig {
	return InvoiceClientConfig{
		Price:       decimal.NewFromInt(490),
		Currency:    "RUB",
		Description: "Обработка изображения без водяных знаков",
		MaxAttempts: 3,
		RetryDelay:  time.Second,
	}
}

// CreateInvoiceRequest identifies the asset an invoice is opened for
type CreateInvoiceRequest struct {
	UserID   int64
	ChatID   int64
	AssetKey string
	Retry    bool
}

// InvoiceClient creates invoices at the payment gateway and reads their
// status, retrying transient failures. Each CreateInvoice call uses one
// idempotency token for all of its attempts.
type InvoiceClient struct {
	config   InvoiceClientConfig
	gateway  payment.Gateway
	invoices payment.InvoiceRepository
	users    payment.UserRepository
	metrics  *telemetry.CheckoutMetrics
	clock    clock.Clock
	newToken func() string
	logger   *zap.Logger
}

// InvoiceClientDeps holds the collaborators of an InvoiceClient. Users and
// Metrics are optional.
type InvoiceClientDeps struct {
	Gateway  payment.Gateway
	Invoices payment.InvoiceRepository
	Users    payment.UserRepository
	Metrics  *telemetry.CheckoutMetrics
	Clock    clock.Clock
	Logger   *zap.Logger
}

// NewInvoiceClient creates a new invoice client
func NewInvoiceClient(config InvoiceClientConfig, deps InvoiceClientDeps) *InvoiceClient {
	def := DefaultInvoiceClientConfig()
	if config.Price.IsZero() {
		config.Price = def.Price
	}
	if config.Currency == "" {
		config.Currency = def.Currency
	}
	if config.Description == "" {
		config.Description = def.Description
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceClient{
		config:   config,
		gateway:  deps.Gateway,
		invoices: deps.Invoices,
		users:    deps.Users,
		metrics:  deps.Metrics,
		clock:    clk,
		newToken: uuid.NewString,
		logger:   logger,
	}
}

// Price returns the configured invoice amount
func (c *InvoiceClient) Price() decimal.Decimal {
	return c.config.Price
}

// CreateInvoice opens a payment for the asset and records it for audit.
// Exhausted or rejected attempts are reported as ErrTerminalGatewayFailure.
func (c *InvoiceClient) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*payment.Invoice, error) {
	token := c.newToken()
	gwReq := &payment.CreatePaymentRequest{
		IdempotencyKey: token,
		Amount:         c.config.Price,
		Currency:       c.config.Currency,
		Description:    c.config.Description,
		ReturnURL:      c.config.ReturnURL,
		Capture:        true,
		Metadata:       c.metadata(ctx, req),
	}
	if err := gwReq.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTerminalGatewayFailure, err)
	}

	log := c.logger.With(
		zap.String("asset_key", req.AssetKey),
		zap.Int64("user_id", req.UserID),
		zap.String("idempotency_key", token),
	)

	p, err := backoff.Retry(ctx, func() (*payment.Payment, error) {
		start := c.clock.Now()
		p, err := c.gateway.CreatePayment(ctx, gwReq)
		c.metrics.GatewayCall(ctx, "create_payment", c.clock.Now().Sub(start), err)
		if err == nil {
			return p, nil
		}
		if payment.IsTransient(err) {
			return nil, fmt.Errorf("%w: %w", ErrTransientGateway, err)
		}
		return nil, backoff.Permanent(err)
	}, c.retryOptions(log, "create_payment")...)
	if err != nil {
		log.Error("Invoice creation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrTerminalGatewayFailure, err)
	}

	inv, err := payment.NewInvoice(p, token, req.UserID, req.ChatID, req.AssetKey, c.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTerminalGatewayFailure, err)
	}
	if inv.ConfirmationURL == "" {
		return nil, fmt.Errorf("%w: payment %s has no confirmation url", ErrTerminalGatewayFailure, p.ID)
	}

	if c.invoices != nil {
		if err := c.invoices.Save(ctx, inv); err != nil {
			log.Error("Failed to save invoice", zap.String("invoice_id", inv.ID), zap.Error(err))
		}
	}
	c.metrics.InvoiceCreated(ctx, req.Retry)

	log.Info("Invoice created", zap.String("invoice_id", inv.ID), zap.Bool("retry", req.Retry))
	return inv, nil
}

// CheckStatus reports whether the invoice has been paid. A canceled payment
// is recorded as failed and reported as unpaid.
func (c *InvoiceClient) CheckStatus(ctx context.Context, invoiceID string) (bool, error) {
	log := c.logger.With(zap.String("invoice_id", invoiceID))

	p, err := backoff.Retry(ctx, func() (*payment.Payment, error) {
		start := c.clock.Now()
		p, err := c.gateway.GetPayment(ctx, invoiceID)
		c.metrics.GatewayCall(ctx, "get_payment", c.clock.Now().Sub(start), err)
		if err == nil {
			return p, nil
		}
		if payment.IsTransient(err) {
			return nil, fmt.Errorf("%w: %w", ErrTransientGateway, err)
		}
		return nil, backoff.Permanent(err)
	}, c.retryOptions(log, "get_payment")...)
	if err != nil {
		return false, err
	}

	status := p.Status.InvoiceStatus()
	if status != payment.StatusPending && c.invoices != nil {
		if err := c.invoices.UpdateStatus(ctx, invoiceID, status); err != nil {
			log.Warn("Failed to record invoice status", zap.String("status", string(status)), zap.Error(err))
		}
	}
	return p.Status.IsSuccess(), nil
}

func (c *InvoiceClient) retryOptions(log *zap.Logger, op string) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(c.config.RetryDelay)),
		backoff.WithMaxTries(uint(c.config.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("Gateway call failed, retrying",
				zap.String("operation", op),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	}
}

func (c *InvoiceClient) metadata(ctx context.Context, req CreateInvoiceRequest) map[string]string {
	md := map[string]string{
		"telegram_id": strconv.FormatInt(req.UserID, 10),
		"asset_key":   req.AssetKey,
	}
	if c.users == nil {
		return md
	}
	user, err := c.users.GetOrCreate(ctx, req.UserID, "", "")
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn("Failed to resolve user for invoice metadata", zap.Int64("user_id", req.UserID), zap.Error(err))
		}
		return md
	}
	md["user_id"] = strconv.FormatInt(user.ID, 10)
	return md
}
