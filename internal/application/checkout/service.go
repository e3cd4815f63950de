// Package checkout orchestrates the invoice lifecycle of submitted images:
// invoice creation, confirmation arbitration between racing sources,
// expiry and exactly-once delivery.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/imagebot/backend/internal/domain/asset"
	"github.com/imagebot/backend/internal/domain/messaging"
	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/imagebot/backend/internal/domain/shared"
	"github.com/imagebot/backend/internal/infrastructure/scheduler"
	"github.com/imagebot/backend/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Confirmation sources
const (
	SourcePoller   = "poller"
	SourceUser     = "user"
	SourceWebhook  = "webhook"
	SourceRecovery = "recovery"
)

// Invoicer creates invoices and reads their status
type Invoicer interface {
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*payment.Invoice, error)
	CheckStatus(ctx context.Context, invoiceID string) (bool, error)
}

// Watcher tracks one polling task per invoiced asset
type Watcher interface {
	Watch(target scheduler.Target, resolve scheduler.ResolveFunc) (bool, error)
	Cancel(assetKey string)
	CancelSession(sessionID string) []scheduler.Target
}

// Config holds checkout configuration
type Config struct {
	Price          decimal.Decimal
	InvoiceTTL     time.Duration
	ReservationTTL time.Duration
	RecoveryBatch  int
}

// DefaultConfig returns default checkout configuration
func DefaultConfig() Config {
	return Config{
		Price:          decimal.NewFromInt(490),
		InvoiceTTL:     10 * time.Minute,
		ReservationTTL: time.Minute,
		RecoveryBatch:  500,
	}
}

// Deps holds the collaborators of the checkout service
type Deps struct {
	Store     asset.Store
	Invoicer  Invoicer
	Watcher   Watcher
	Delivery  *DeliveryCoordinator
	Transport messaging.Transport
	Invoices  payment.InvoiceRepository
	Metrics   *telemetry.CheckoutMetrics
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Service is the checkout orchestrator
type Service struct {
	config    Config
	store     asset.Store
	invoicer  Invoicer
	watcher   Watcher
	delivery  *DeliveryCoordinator
	transport messaging.Transport
	invoices  payment.InvoiceRepository
	metrics   *telemetry.CheckoutMetrics
	clock     clock.Clock
	newKey    func() string
	logger    *zap.Logger
}

// NewService creates a new checkout service
func NewService(config Config, deps Deps) *Service {
	def := DefaultConfig()
	if config.Price.IsZero() {
		config.Price = def.Price
	}
	if config.InvoiceTTL <= 0 {
		config.InvoiceTTL = def.InvoiceTTL
	}
	if config.ReservationTTL <= 0 {
		config.ReservationTTL = def.ReservationTTL
	}
	if config.RecoveryBatch <= 0 {
		config.RecoveryBatch = def.RecoveryBatch
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:    config,
		store:     deps.Store,
		invoicer:  deps.Invoicer,
		watcher:   deps.Watcher,
		delivery:  deps.Delivery,
		transport: deps.Transport,
		invoices:  deps.Invoices,
		metrics:   deps.Metrics,
		clock:     clk,
		newKey:    uuid.NewString,
		logger:    logger,
	}
}

// Price returns the price of a deliverable
func (s *Service) Price() decimal.Decimal {
	return s.config.Price
}

// SubmitRequest carries a processed image into checkout
type SubmitRequest struct {
	// SessionID defaults to the chat id
	SessionID   string
	UserID      int64
	ChatID      int64
	ReplyTo     int64
	Deliverable []byte
	Preview     []byte
}

// SubmitAsset sends the watermarked preview with a pay button and stores the
// asset as UNPAID.
func (s *Service) SubmitAsset(ctx context.Context, req SubmitRequest) (asset.Record, error) {
	if len(req.Deliverable) == 0 || len(req.Preview) == 0 {
		return asset.Record{}, fmt.Errorf("%w: empty image", ErrInvalidRequest)
	}
	if req.SessionID == "" {
		req.SessionID = strconv.FormatInt(req.ChatID, 10)
	}

	key := s.newKey()
	preview := messaging.File{Name: PreviewFileName, Data: req.Preview}
	ref, err := s.transport.SendPhoto(ctx, req.ChatID, preview, PreviewCaption(s.config.Price), ResultKeyboard(req.UserID, key), req.ReplyTo)
	if err != nil {
		return asset.Record{}, fmt.Errorf("send preview: %w", err)
	}

	rec := asset.NewRecord(key, req.SessionID, req.UserID, req.ChatID, req.Deliverable, req.Preview, s.clock.Now())
	rec.PreviewMessage = ref
	if err := s.store.Create(ctx, rec); err != nil {
		return asset.Record{}, fmt.Errorf("store asset: %w", err)
	}

	s.logger.Info("Asset submitted",
		zap.String("asset_key", key),
		zap.String("session_id", req.SessionID),
		zap.Int64("user_id", req.UserID),
	)
	return rec, nil
}

// RequestPayment opens an invoice for the asset. An expired asset gets a
// replacement invoice.
func (s *Service) RequestPayment(ctx context.Context, userID int64, key string) error {
	return s.pay(ctx, userID, key)
}

// Retry replaces an expired invoice with a new one
func (s *Service) Retry(ctx context.Context, userID int64, key string) error {
	return s.pay(ctx, userID, key)
}

func (s *Service) pay(ctx context.Context, userID int64, key string) error {
	rec, err := s.owned(ctx, userID, key)
	if err != nil {
		return err
	}

	switch rec.State {
	case asset.StateInvoiced:
		s.watch(rec)
		return ErrPaymentInProgress
	case asset.StateConfirmed, asset.StateDelivered:
		return ErrAlreadyPaid
	default:
		return s.startInvoice(ctx, rec)
	}
}

// startInvoice creates an invoice for an UNPAID or EXPIRED record. A
// reservation on the record lets only one task create the invoice.
func (s *Service) startInvoice(ctx context.Context, rec asset.Record) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "checkout.StartInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("asset_key", rec.Key))

	expected := rec.State
	retry := expected == asset.StateExpired
	reservedAt := s.clock.Now()

	reserved, err := s.store.Update(ctx, rec.Key, expected, func(r *asset.Record) error {
		if r.IsReserved(reservedAt, s.config.ReservationTTL) {
			return errReserved
		}
		r.ReservedAt = reservedAt
		return nil
	})
	if err != nil {
		if IsRaceLost(err) || errors.Is(err, errReserved) {
			return ErrPaymentInProgress
		}
		return err
	}

	log := s.logger.With(zap.String("asset_key", rec.Key), zap.Int64("user_id", rec.UserID))
	s.editKeyboard(ctx, reserved.PreviewMessage, ProcessingKeyboard(rec.UserID, rec.Key))

	restore := ResultKeyboard(rec.UserID, rec.Key)
	if retry {
		restore = RetryKeyboard(rec.UserID, rec.Key)
	}

	inv, err := s.invoicer.CreateInvoice(ctx, CreateInvoiceRequest{
		UserID:   rec.UserID,
		ChatID:   rec.ChatID,
		AssetKey: rec.Key,
		Retry:    retry,
	})
	if err != nil {
		s.release(ctx, rec.Key, expected, reservedAt)
		s.editKeyboard(ctx, reserved.PreviewMessage, restore)
		return err
	}
	log = log.With(zap.String("invoice_id", inv.ID))

	msg, err := s.transport.SendText(ctx, rec.ChatID, TextPaymentLink, PaymentLinkKeyboard(inv.ConfirmationURL))
	if err != nil {
		log.Error("Failed to send payment link", zap.Error(err))
		s.resolveInvoice(ctx, inv.ID, payment.ResolutionSuperseded)
		s.release(ctx, rec.Key, expected, reservedAt)
		s.editKeyboard(ctx, reserved.PreviewMessage, restore)
		return fmt.Errorf("%w: %w", ErrTerminalGatewayFailure, err)
	}

	event := asset.InvoiceCreated(inv.ID, inv.ConfirmationURL, inv.CreatedAt)
	if retry {
		event = asset.RetryRequested(inv.ID, inv.ConfirmationURL, inv.CreatedAt)
	}
	var (
		effects  []asset.Effect
		previous string
	)
	committed, err := s.store.Update(ctx, rec.Key, expected, func(r *asset.Record) error {
		if !r.ReservedAt.Equal(reservedAt) {
			return errReservationLost
		}
		previous = r.InvoiceID
		if err := asset.Transition(event, &effects)(r); err != nil {
			return err
		}
		r.PaymentMessage = msg
		return nil
	})
	if err != nil {
		// another task took the asset over; the link we sent must not stay payable
		log.Warn("Invoice commit lost", zap.Error(err))
		s.resolveInvoice(ctx, inv.ID, payment.ResolutionSuperseded)
		s.editKeyboard(ctx, msg, nil)
		return ErrPaymentInProgress
	}

	for _, effect := range effects {
		switch effect {
		case asset.EffectSupersedeInvoice:
			s.resolveInvoice(ctx, previous, payment.ResolutionSuperseded)
		case asset.EffectStartWatcher:
			s.watch(committed)
		}
	}

	// the session may have ended between the commit and the watch
	if _, err := s.store.Get(ctx, rec.Key); errors.Is(err, asset.ErrNotFound) {
		log.Info("Session ended while invoicing, withdrawing invoice")
		s.watcher.Cancel(rec.Key)
		s.resolveInvoice(ctx, inv.ID, payment.ResolutionSuperseded)
		s.editKeyboard(ctx, msg, nil)
		return ErrInvalidRequest
	}

	log.Info("Awaiting payment", zap.Bool("retry", retry), zap.Time("deadline", committed.Deadline(s.config.InvoiceTTL)))
	return nil
}

func (s *Service) release(ctx context.Context, key string, expected asset.State, reservedAt time.Time) {
	_, err := s.store.Update(ctx, key, expected, func(r *asset.Record) error {
		if !r.ReservedAt.Equal(reservedAt) {
			return errReservationLost
		}
		r.ReservedAt = time.Time{}
		return nil
	})
	if err != nil {
		s.logger.Debug("Reservation not released", zap.String("asset_key", key), zap.Error(err))
	}
}

// CheckPayment queries the gateway once for an invoiced asset and delivers
// when it has been paid. It returns the asset state after the check.
func (s *Service) CheckPayment(ctx context.Context, userID int64, key string) (asset.State, error) {
	rec, err := s.owned(ctx, userID, key)
	if err != nil {
		return "", err
	}
	if rec.State != asset.StateInvoiced {
		return rec.State, nil
	}

	paid, err := s.invoicer.CheckStatus(ctx, rec.InvoiceID)
	if err != nil {
		return rec.State, err
	}
	if !paid {
		s.watch(rec)
		return rec.State, nil
	}

	confirmed, err := s.confirm(ctx, key, rec.InvoiceID, SourceUser)
	if confirmed {
		s.watcher.Cancel(key)
	}
	if err != nil {
		return "", err
	}
	if cur, gerr := s.store.Get(ctx, key); gerr == nil {
		return cur.State, nil
	}
	return asset.StateDelivered, nil
}

// HandleGatewayNotification handles a payment notification from the gateway.
// The notification only names the invoice; its status is re-read from the
// gateway before anything is committed.
func (s *Service) HandleGatewayNotification(ctx context.Context, invoiceID string) error {
	if s.invoices == nil || invoiceID == "" {
		return ErrInvalidRequest
	}
	inv, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: unknown invoice %s", ErrInvalidRequest, invoiceID)
		}
		return err
	}
	if inv.Resolution == payment.ResolutionDelivered {
		return nil
	}

	paid, err := s.invoicer.CheckStatus(ctx, invoiceID)
	if err != nil {
		return err
	}
	if !paid {
		return ErrNotYetPaid
	}

	confirmed, err := s.confirm(ctx, inv.AssetKey, invoiceID, SourceWebhook)
	if confirmed {
		s.watcher.Cancel(inv.AssetKey)
	}
	return err
}

// EndSession stops every watcher of the session and forgets its assets
// without messaging the user. An invoice committed while the session is
// being torn down is caught by the second cancellation.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	cancelled := len(s.watcher.CancelSession(sessionID))

	records, err := s.store.ListSession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.State == asset.StateInvoiced {
			s.resolveInvoice(ctx, rec.InvoiceID, payment.ResolutionSuperseded)
		}
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	for _, t := range s.watcher.CancelSession(sessionID) {
		s.resolveInvoice(ctx, t.InvoiceID, payment.ResolutionSuperseded)
		cancelled++
	}

	s.logger.Info("Session ended",
		zap.String("session_id", sessionID),
		zap.Int("watchers_cancelled", cancelled),
		zap.Int("assets", len(records)),
	)
	return nil
}

// resolve is the watcher callback. It never cancels the watcher that
// invoked it.
func (s *Service) resolve(ctx context.Context, t scheduler.Target, outcome scheduler.Outcome) {
	switch outcome {
	case scheduler.OutcomeConfirmed:
		if _, err := s.confirm(ctx, t.AssetKey, t.InvoiceID, SourcePoller); err != nil {
			s.logger.Error("Confirmation failed",
				zap.String("asset_key", t.AssetKey),
				zap.String("invoice_id", t.InvoiceID),
				zap.Error(err),
			)
		}
	case scheduler.OutcomeDeadlineReached:
		s.expire(ctx, t.AssetKey, t.InvoiceID)
	}
}

// confirm commits INVOICED -> CONFIRMED for the live invoice and delivers.
// It reports whether this call won the confirmation.
func (s *Service) confirm(ctx context.Context, key, invoiceID, source string) (bool, error) {
	log := s.logger.With(
		zap.String("asset_key", key),
		zap.String("invoice_id", invoiceID),
		zap.String("source", source),
	)

	_, err := s.store.Update(ctx, key, asset.StateInvoiced, asset.Transition(asset.ConfirmedByGateway(invoiceID), nil))
	if err == nil {
		s.metrics.Confirmed(ctx, source)
		log.Info("Payment confirmed")
		_, err = s.delivery.DeliverOnce(ctx, key)
		return true, err
	}
	if errors.Is(err, asset.ErrNotFound) {
		log.Warn("Paid invoice has no asset record")
		s.resolveInvoice(ctx, invoiceID, payment.ResolutionPaidUndelivered)
		return false, nil
	}
	if !IsRaceLost(err) {
		return false, err
	}

	rec, gerr := s.store.Get(ctx, key)
	if gerr != nil || rec.InvoiceID != invoiceID {
		log.Debug("Confirmation for a superseded invoice ignored")
		return false, nil
	}
	switch rec.State {
	case asset.StateExpired:
		log.Warn("late confirmation after expiry")
	case asset.StateConfirmed:
		// confirmed earlier but not delivered yet; DeliverOnce arbitrates
		_, err = s.delivery.DeliverOnce(ctx, key)
		return false, err
	}
	return false, nil
}

// expire commits INVOICED -> EXPIRED for the live invoice and notifies.
func (s *Service) expire(ctx context.Context, key, invoiceID string) {
	log := s.logger.With(zap.String("asset_key", key), zap.String("invoice_id", invoiceID))

	_, err := s.store.Update(ctx, key, asset.StateInvoiced, asset.Transition(asset.DeadlineReached(invoiceID), nil))
	switch {
	case err == nil:
	case errors.Is(err, asset.ErrNotFound):
		s.resolveInvoice(ctx, invoiceID, payment.ResolutionExpired)
		return
	case IsRaceLost(err):
		rec, gerr := s.store.Get(ctx, key)
		if gerr != nil || rec.State != asset.StateExpired || rec.InvoiceID != invoiceID {
			log.Debug("Expiry skipped", zap.Error(err))
			return
		}
	default:
		log.Error("Failed to expire invoice", zap.Error(err))
		return
	}

	if _, err := s.delivery.NotifyExpired(ctx, key); err != nil {
		log.Error("Failed to notify expiry", zap.Error(err))
	}
}

func (s *Service) watch(rec asset.Record) {
	target := scheduler.Target{
		SessionID: rec.SessionID,
		AssetKey:  rec.Key,
		InvoiceID: rec.InvoiceID,
		Deadline:  rec.Deadline(s.config.InvoiceTTL),
	}
	if _, err := s.watcher.Watch(target, s.resolve); err != nil {
		s.logger.Error("Failed to start invoice watcher",
			zap.String("asset_key", rec.Key),
			zap.String("invoice_id", rec.InvoiceID),
			zap.Error(err),
		)
	}
}

func (s *Service) owned(ctx context.Context, userID int64, key string) (asset.Record, error) {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			return asset.Record{}, ErrInvalidRequest
		}
		return asset.Record{}, err
	}
	if !rec.OwnedBy(userID) {
		return asset.Record{}, ErrInvalidRequest
	}
	return rec, nil
}

func (s *Service) editKeyboard(ctx context.Context, ref messaging.MessageRef, kb *messaging.Keyboard) {
	if ref.IsZero() {
		return
	}
	if err := s.transport.EditKeyboard(ctx, ref, kb); err != nil {
		s.logger.Warn("Failed to update keyboard", zap.Int64("message_id", ref.MessageID), zap.Error(err))
	}
}

func (s *Service) resolveInvoice(ctx context.Context, invoiceID string, resolution payment.Resolution) {
	if s.invoices == nil || invoiceID == "" {
		return
	}
	if err := s.invoices.Resolve(ctx, invoiceID, resolution, s.clock.Now()); err != nil {
		s.logger.Warn("Failed to resolve invoice",
			zap.String("invoice_id", invoiceID),
			zap.String("resolution", string(resolution)),
			zap.Error(err),
		)
	}
}
