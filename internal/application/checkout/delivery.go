package checkout

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/imagebot/backend/internal/domain/asset"
	"github.com/imagebot/backend/internal/domain/messaging"
	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/imagebot/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "github.com/imagebot/backend/internal/application/checkout"

// DeliveryCoordinator performs the terminal action of a checkout exactly
// once: deliver the clean image or tell the user the invoice expired.
type DeliveryCoordinator struct {
	store     asset.Store
	transport messaging.Transport
	invoices  payment.InvoiceRepository
	metrics   *telemetry.CheckoutMetrics
	price     decimal.Decimal
	clock     clock.Clock
	logger    *zap.Logger
}

// DeliveryDeps holds the collaborators of a DeliveryCoordinator
type DeliveryDeps struct {
	Store     asset.Store
	Transport messaging.Transport
	Invoices  payment.InvoiceRepository
	Metrics   *telemetry.CheckoutMetrics
	Price     decimal.Decimal
	Clock     clock.Clock
	Logger    *zap.Logger
}

// NewDeliveryCoordinator creates a new delivery coordinator
func NewDeliveryCoordinator(deps DeliveryDeps) *DeliveryCoordinator {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryCoordinator{
		store:     deps.Store,
		transport: deps.Transport,
		invoices:  deps.Invoices,
		metrics:   deps.Metrics,
		price:     deps.Price,
		clock:     clk,
		logger:    logger,
	}
}

// DeliverOnce commits CONFIRMED -> DELIVERED and then sends the deliverable.
// It returns false without sending anything when another task delivered
// first or the record is not confirmed. Send failures are logged and never
// undo the transition.
func (d *DeliveryCoordinator) DeliverOnce(ctx context.Context, key string) (bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "checkout.DeliverOnce")
	defer span.End()
	span.SetAttributes(attribute.String("asset_key", key))

	var deliverable []byte
	now := d.clock.Now()
	rec, err := d.store.Update(ctx, key, asset.StateConfirmed, func(r *asset.Record) error {
		deliverable = r.Deliverable
		return asset.Transition(asset.DeliveryPerformed(now), nil)(r)
	})
	if err != nil {
		if IsRaceLost(err) || errors.Is(err, asset.ErrNotFound) {
			d.logger.Debug("Delivery skipped", zap.String("asset_key", key), zap.Error(err))
			return false, nil
		}
		return false, err
	}

	log := d.logger.With(
		zap.String("asset_key", key),
		zap.String("invoice_id", rec.InvoiceID),
		zap.Int64("chat_id", rec.ChatID),
	)

	if !rec.PaymentMessage.IsZero() {
		if err := d.transport.EditText(ctx, rec.PaymentMessage, TextPaymentReceived); err != nil {
			log.Warn("Failed to update payment message", zap.Error(err))
		}
	}
	doc := messaging.File{Name: DeliverableFileName, Data: deliverable}
	if _, err := d.transport.SendDocument(ctx, rec.ChatID, doc, TextDeliveryCaption, nil); err != nil {
		log.Error("Failed to send deliverable", zap.Error(err))
	}
	if !rec.PreviewMessage.IsZero() {
		if err := d.transport.EditKeyboard(ctx, rec.PreviewMessage, PaidKeyboard()); err != nil {
			log.Warn("Failed to mark preview as paid", zap.Error(err))
		}
	}
	if _, err := d.transport.SendText(ctx, rec.ChatID, FollowUpText(d.price), nil); err != nil {
		log.Warn("Failed to send follow-up", zap.Error(err))
	}

	d.resolveInvoice(ctx, rec.InvoiceID, payment.ResolutionDelivered)
	d.metrics.Delivered(ctx)
	log.Info("Deliverable sent")
	return true, nil
}

// NotifyExpired tells the user the live invoice expired and offers a retry.
// Only the first call for an expired record sends anything.
func (d *DeliveryCoordinator) NotifyExpired(ctx context.Context, key string) (bool, error) {
	rec, err := d.store.Update(ctx, key, asset.StateExpired, func(r *asset.Record) error {
		if r.ExpiryNotified {
			return errAlreadyNotified
		}
		r.ExpiryNotified = true
		return nil
	})
	if err != nil {
		if IsRaceLost(err) || errors.Is(err, errAlreadyNotified) || errors.Is(err, asset.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	log := d.logger.With(zap.String("asset_key", key), zap.String("invoice_id", rec.InvoiceID))

	if !rec.PaymentMessage.IsZero() {
		if err := d.transport.EditText(ctx, rec.PaymentMessage, TextInvoiceExpired); err != nil {
			log.Warn("Failed to update payment message", zap.Error(err))
		}
	} else if _, err := d.transport.SendText(ctx, rec.ChatID, TextInvoiceExpired, nil); err != nil {
		log.Warn("Failed to send expiry notice", zap.Error(err))
	}
	if !rec.PreviewMessage.IsZero() {
		if err := d.transport.EditKeyboard(ctx, rec.PreviewMessage, RetryKeyboard(rec.UserID, rec.Key)); err != nil {
			log.Warn("Failed to offer retry", zap.Error(err))
		}
	}

	d.resolveInvoice(ctx, rec.InvoiceID, payment.ResolutionExpired)
	d.metrics.Expired(ctx)
	log.Info("Invoice expired")
	return true, nil
}

func (d *DeliveryCoordinator) resolveInvoice(ctx context.Context, invoiceID string, resolution payment.Resolution) {
	if d.invoices == nil || invoiceID == "" {
		return
	}
	if err := d.invoices.Resolve(ctx, invoiceID, resolution, d.clock.Now()); err != nil {
		d.logger.Warn("Failed to resolve invoice",
			zap.String("invoice_id", invoiceID),
			zap.String("resolution", string(resolution)),
			zap.Error(err),
		)
	}
}
