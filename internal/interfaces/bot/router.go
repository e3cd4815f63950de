// Package bot routes chat updates to the checkout flow.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/imagebot/backend/internal/application/checkout"
	"github.com/imagebot/backend/internal/domain/asset"
	"github.com/imagebot/backend/internal/domain/messaging"
	"github.com/imagebot/backend/internal/domain/payment"
	"github.com/imagebot/backend/internal/infrastructure/imaging"
	"github.com/imagebot/backend/internal/infrastructure/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Checkout is the part of the checkout service the bot drives
type Checkout interface {
	SubmitAsset(ctx context.Context, req checkout.SubmitRequest) (asset.Record, error)
	RequestPayment(ctx context.Context, userID int64, key string) error
	Retry(ctx context.Context, userID int64, key string) error
	CheckPayment(ctx context.Context, userID int64, key string) (asset.State, error)
	EndSession(ctx context.Context, sessionID string) error
	Price() decimal.Decimal
}

// ImageProcessor turns an upload into the clean deliverable and its
// watermarked preview
type ImageProcessor interface {
	Process(ctx context.Context, original []byte) (deliverable, preview []byte, err error)
}

// Config holds bot configuration
type Config struct {
	SupportUsername string
	AdminIDs        []int64
	MaxUploadSize   int64
}

// Router handles inbound updates. It is safe for concurrent use; every
// update runs on its own dispatcher worker.
type Router struct {
	config    Config
	checkout  Checkout
	images    ImageProcessor
	transport messaging.Transport
	users     payment.UserRepository
	clock     clock.Clock
	logger    *zap.Logger
}

// Deps holds the collaborators of a Router
type Deps struct {
	Checkout  Checkout
	Images    ImageProcessor
	Transport messaging.Transport
	Users     payment.UserRepository
	Clock     clock.Clock
	Logger    *zap.Logger
}

// NewRouter creates a new update router
func NewRouter(config Config, deps Deps) *Router {
	if config.SupportUsername == "" {
		config.SupportUsername = "@support"
	}
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = imaging.MaxUploadSize
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		config:    config,
		checkout:  deps.Checkout,
		images:    deps.Images,
		transport: deps.Transport,
		users:     deps.Users,
		clock:     clk,
		logger:    log,
	}
}

var _ messaging.UpdateHandler = (*Router)(nil)

// HandleUpdate routes one update. Failures are reported to the user and
// logged; nothing escapes.
func (r *Router) HandleUpdate(ctx context.Context, u messaging.Update) {
	ctx, log := logger.WithChatID(ctx, r.logger, u.ChatID)
	log = log.With(zap.Int64("user_id", u.UserID), zap.Int64("update_id", u.ID))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Update handling panicked", zap.String("panic", fmt.Sprint(rec)))
		}
	}()

	switch u.Kind {
	case messaging.UpdateCallback:
		r.handleCallback(ctx, log, u)
	case messaging.UpdateMessage:
		r.handleMessage(ctx, log, u)
	default:
		log.Debug("Ignoring update", zap.String("kind", string(u.Kind)))
	}
}

func (r *Router) handleMessage(ctx context.Context, log *zap.Logger, u messaging.Update) {
	switch u.Command() {
	case "start":
		r.handleStart(ctx, log, u)
		return
	case "reset":
		r.handleReset(ctx, log, u)
		return
	case "stats":
		r.handleStats(ctx, log, u)
		return
	}

	switch {
	case u.PhotoFileID != "":
		r.handleUpload(ctx, log, u, u.PhotoFileID, false)
	case u.Document != nil:
		r.handleDocument(ctx, log, u)
	case u.Text != "":
		r.reply(ctx, log, u.ChatID, textUnknownMessage)
	}
}

func (r *Router) handleStart(ctx context.Context, log *zap.Logger, u messaging.Update) {
	if r.users != nil {
		if _, err := r.users.GetOrCreate(ctx, u.UserID, u.Username, u.FirstName); err != nil {
			log.Error("Failed to register user", zap.Error(err))
		}
	}
	r.reply(ctx, log, u.ChatID, textStart)
}

func (r *Router) handleReset(ctx context.Context, log *zap.Logger, u messaging.Update) {
	if err := r.checkout.EndSession(ctx, sessionID(u.ChatID)); err != nil {
		log.Error("Failed to end session", zap.Error(err))
		r.reply(ctx, log, u.ChatID, textSomethingWrong)
		return
	}
	r.reply(ctx, log, u.ChatID, textSessionReset)
}

func (r *Router) handleStats(ctx context.Context, log *zap.Logger, u messaging.Update) {
	if !r.isAdmin(u.UserID) || r.users == nil {
		log.Debug("Stats requested by non-admin")
		return
	}
	stats, err := r.users.Stats(ctx, r.clock.Now())
	if err != nil {
		log.Error("Failed to load user stats", zap.Error(err))
		r.reply(ctx, log, u.ChatID, textSomethingWrong)
		return
	}
	r.reply(ctx, log, u.ChatID, statsText(stats))
}

func (r *Router) handleDocument(ctx context.Context, log *zap.Logger, u messaging.Update) {
	doc := u.Document
	if u.Caption != "" {
		return
	}
	if !imaging.IsImageDocument(doc.FileName, doc.MimeType) {
		r.reply(ctx, log, u.ChatID, textNotAnImage)
		return
	}
	if doc.Size > r.config.MaxUploadSize {
		r.reply(ctx, log, u.ChatID, textFileTooLarge)
		return
	}
	r.handleUpload(ctx, log, u, doc.FileID, true)
}

// handleUpload processes a photo or image document and submits it to
// checkout. Captioned uploads are ignored.
func (r *Router) handleUpload(ctx context.Context, log *zap.Logger, u messaging.Update, fileID string, document bool) {
	if u.Caption != "" {
		return
	}

	notice, badFormat, failed := textProcessingPhoto, textBadPhotoFormat, textPhotoFailed
	if document {
		notice, badFormat, failed = textProcessingDocument, textBadFileFormat, textFileFailed
	}
	r.reply(ctx, log, u.ChatID, notice)

	original, err := r.transport.DownloadFile(ctx, fileID)
	if err != nil {
		log.Error("Failed to download upload", zap.Error(err))
		r.reply(ctx, log, u.ChatID, failed)
		return
	}

	deliverable, preview, err := r.images.Process(ctx, original)
	if err != nil {
		switch {
		case errors.Is(err, imaging.ErrUnsupportedFormat),
			errors.Is(err, imaging.ErrEmptyImage),
			errors.Is(err, imaging.ErrInvalidDimensions):
			r.reply(ctx, log, u.ChatID, badFormat)
		case errors.Is(err, imaging.ErrImageTooLarge):
			r.reply(ctx, log, u.ChatID, textFileTooLarge)
		default:
			log.Error("Image processing failed", zap.Error(err))
			r.reply(ctx, log, u.ChatID, failed)
		}
		return
	}

	rec, err := r.checkout.SubmitAsset(ctx, checkout.SubmitRequest{
		SessionID:   sessionID(u.ChatID),
		UserID:      u.UserID,
		ChatID:      u.ChatID,
		ReplyTo:     u.MessageID,
		Deliverable: deliverable,
		Preview:     preview,
	})
	if err != nil {
		log.Error("Failed to submit asset", zap.Error(err))
		r.reply(ctx, log, u.ChatID, failed)
		return
	}
	log.Info("Preview sent", zap.String("asset_key", rec.Key))
}

func (r *Router) handleCallback(ctx context.Context, log *zap.Logger, u messaging.Update) {
	p, err := messaging.ParsePayload(u.CallbackData)
	if err != nil {
		log.Warn("Malformed button payload", zap.String("data", u.CallbackData), zap.Error(err))
		r.answer(ctx, log, u.CallbackID, checkout.TextInvalidRequest, true)
		return
	}
	if p.AssetKey != "" {
		ctx, log = logger.WithAssetKey(ctx, log, p.AssetKey)
		// buttons are bound to the user they were sent to
		if p.UserID != u.UserID {
			r.answer(ctx, log, u.CallbackID, checkout.TextNotFound, true)
			return
		}
	}

	switch p.Action {
	case messaging.ActionPay:
		err = r.checkout.RequestPayment(ctx, u.UserID, p.AssetKey)
		r.answerResult(ctx, log, u.CallbackID, err)
	case messaging.ActionRetry:
		err = r.checkout.Retry(ctx, u.UserID, p.AssetKey)
		r.answerResult(ctx, log, u.CallbackID, err)
	case messaging.ActionCheck:
		r.handleCheck(ctx, log, u, p.AssetKey)
	case messaging.ActionNotLike:
		r.answer(ctx, log, u.CallbackID, "", false)
		r.reply(ctx, log, u.ChatID, supportText(r.config.SupportUsername))
	case messaging.ActionPaidDone:
		r.answer(ctx, log, u.CallbackID, checkout.TextAlreadySent, true)
	}
}

func (r *Router) handleCheck(ctx context.Context, log *zap.Logger, u messaging.Update, key string) {
	state, err := r.checkout.CheckPayment(ctx, u.UserID, key)
	if err != nil {
		r.answerResult(ctx, log, u.CallbackID, err)
		return
	}
	switch state {
	case asset.StateInvoiced:
		r.answer(ctx, log, u.CallbackID, checkout.TextPaymentInProgress, true)
	case asset.StateExpired:
		r.answer(ctx, log, u.CallbackID, textInvoiceExpired, true)
	case asset.StateUnpaid:
		r.answer(ctx, log, u.CallbackID, checkout.TextNotFound, true)
	default:
		r.answer(ctx, log, u.CallbackID, "", false)
	}
}

// answerResult maps a checkout error onto the callback answer
func (r *Router) answerResult(ctx context.Context, log *zap.Logger, callbackID string, err error) {
	if err == nil || checkout.IsRaceLost(err) {
		r.answer(ctx, log, callbackID, "", false)
		return
	}
	text := errorText(err)
	if text == textSomethingWrong {
		log.Error("Checkout action failed", zap.Error(err))
	}
	r.answer(ctx, log, callbackID, text, true)
}

func errorText(err error) string {
	switch {
	case errors.Is(err, checkout.ErrInvalidRequest):
		return checkout.TextNotFound
	case errors.Is(err, checkout.ErrPaymentInProgress):
		return checkout.TextPaymentInProgress
	case errors.Is(err, checkout.ErrAlreadyPaid):
		return checkout.TextAlreadySent
	case errors.Is(err, checkout.ErrTerminalGatewayFailure),
		errors.Is(err, checkout.ErrTransientGateway):
		return checkout.TextPaymentFailed
	default:
		return textSomethingWrong
	}
}

func (r *Router) reply(ctx context.Context, log *zap.Logger, chatID int64, text string) {
	if _, err := r.transport.SendText(ctx, chatID, text, nil); err != nil {
		log.Warn("Failed to send message", zap.Error(err))
	}
}

func (r *Router) answer(ctx context.Context, log *zap.Logger, callbackID, text string, alert bool) {
	if callbackID == "" {
		return
	}
	if err := r.transport.AnswerCallback(ctx, callbackID, text, alert); err != nil {
		log.Warn("Failed to answer callback", zap.Error(err))
	}
}

func (r *Router) isAdmin(userID int64) bool {
	for _, id := range r.config.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func sessionID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}
