package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imagebot/backend/internal/application/checkout"
	"github.com/imagebot/backend/internal/domain/shared"
	"github.com/imagebot/backend/internal/infrastructure/logger"
	"github.com/imagebot/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// notificationTTL covers YooKassa's redelivery window
const notificationTTL = 24 * time.Hour

// NotificationHandler is the part of checkout that consumes gateway
// notifications
type NotificationHandler interface {
	HandleGatewayNotification(ctx context.Context, invoiceID string) error
}

// PaymentNotificationHandler receives payment gateway webhooks. These calls
// are not authenticated; the payment status is verified by re-querying the
// gateway.
type PaymentNotificationHandler struct {
	BaseHandler
	checkout  NotificationHandler
	processed shared.IdempotencyStore
	logger    *zap.Logger
}

// NewPaymentNotificationHandler creates a new PaymentNotificationHandler
func NewPaymentNotificationHandler(checkout NotificationHandler, processed shared.IdempotencyStore, logger *zap.Logger) *PaymentNotificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentNotificationHandler{
		checkout:  checkout,
		processed: processed,
		logger:    logger,
	}
}

// HandleYooKassa handles POST /payment/notifications/yookassa
func (h *PaymentNotificationHandler) HandleYooKassa(c *gin.Context) {
	var req dto.PaymentNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid notification payload")
		return
	}

	ctx := c.Request.Context()
	log := logger.WithLogger(ctx, h.logger).With(
		zap.String("event", req.Event),
		zap.String("invoice_id", req.Object.ID),
	)

	if req.Event != dto.EventPaymentSucceeded {
		log.Debug("Payment notification ignored")
		h.Success(c, dto.PaymentNotificationResponse{})
		return
	}

	dedupeKey := req.Event + ":" + req.Object.ID
	if h.processed != nil {
		done, err := h.processed.IsProcessed(ctx, dedupeKey)
		if err != nil {
			log.Warn("Idempotency lookup failed", zap.Error(err))
		} else if done {
			h.Success(c, dto.PaymentNotificationResponse{AlreadyProcessed: true})
			return
		}
	}

	err := h.checkout.HandleGatewayNotification(ctx, req.Object.ID)
	switch {
	case err == nil:
	case errors.Is(err, checkout.ErrNotYetPaid):
		// left unmarked so a redelivery is re-verified
		log.Info("Notification ahead of gateway status")
		h.Success(c, dto.PaymentNotificationResponse{})
		return
	case errors.Is(err, checkout.ErrInvalidRequest):
		// unknown invoices are acknowledged so the gateway stops redelivering
		log.Warn("Notification for unknown invoice", zap.Error(err))
	default:
		log.Error("Payment notification failed", zap.Error(err))
		h.InternalError(c, "Notification could not be processed")
		return
	}

	if h.processed != nil {
		if _, err := h.processed.MarkProcessed(ctx, dedupeKey, notificationTTL); err != nil {
			log.Warn("Failed to mark notification processed", zap.Error(err))
		}
	}
	h.Success(c, dto.PaymentNotificationResponse{Processed: err == nil})
}
