// Package telegram implements the chat transport on the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/imagebot/backend/internal/domain/messaging"
	"go.uber.org/zap"
)

const (
	defaultAPIURL         = "https://api.telegram.org"
	defaultRequestTimeout = 30 * time.Second
	maxDownloadSize       = 20 << 20
)

var (
	// ErrMissingToken is returned when no bot token is configured
	ErrMissingToken = errors.New("telegram: missing bot token")
	// ErrUnavailable marks network failures and 5xx answers
	ErrUnavailable = errors.New("telegram: api unavailable")
	// ErrRateLimited is returned on 429 answers
	ErrRateLimited = errors.New("telegram: rate limited")
	// ErrRequestFailed is returned when the API rejects a request
	ErrRequestFailed = errors.New("telegram: request failed")
	// ErrFileTooLarge is returned for downloads above the Bot API limit
	ErrFileTooLarge = errors.New("telegram: file too large")
)

// Config holds Bot API client settings
type Config struct {
	Token          string
	APIURL         string
	RequestTimeout time.Duration
}

// Client implements messaging.Transport over the Telegram Bot API
type Client struct {
	http           *resty.Client
	fileBaseURL    string
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewClient creates a new Bot API client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		http:           resty.New().SetBaseURL(apiURL + "/bot" + cfg.Token),
		fileBaseURL:    apiURL + "/file/bot" + cfg.Token,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger.Named("telegram"),
	}, nil
}

// SendText sends a text message
func (c *Client) SendText(ctx context.Context, chatID int64, text string, kb *messaging.Keyboard) (messaging.MessageRef, error) {
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if kb != nil {
		body["reply_markup"] = kb
	}

	var msg apiMessage
	if err := c.call(ctx, "sendMessage", body, &msg); err != nil {
		return messaging.MessageRef{}, err
	}
	return messaging.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

// SendPhoto uploads an image with an optional caption and keyboard
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo messaging.File, caption string, kb *messaging.Keyboard, replyTo int64) (messaging.MessageRef, error) {
	return c.upload(ctx, "sendPhoto", "photo", chatID, photo, caption, kb, replyTo)
}

// SendDocument uploads a file as a document, without recompression
func (c *Client) SendDocument(ctx context.Context, chatID int64, doc messaging.File, caption string, kb *messaging.Keyboard) (messaging.MessageRef, error) {
	return c.upload(ctx, "sendDocument", "document", chatID, doc, caption, kb, 0)
}

// EditText replaces the text of a sent message
func (c *Client) EditText(ctx context.Context, ref messaging.MessageRef, text string) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"text":       text,
	}, nil)
	return ignoreNotModified(err)
}

// EditKeyboard replaces the inline keyboard of a sent message
func (c *Client) EditKeyboard(ctx context.Context, ref messaging.MessageRef, kb *messaging.Keyboard) error {
	body := map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
	}
	if kb != nil {
		body["reply_markup"] = kb
	}
	return ignoreNotModified(c.call(ctx, "editMessageReplyMarkup", body, nil))
}

// AnswerCallback acknowledges a button press
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	body := map[string]any{
		"callback_query_id": callbackID,
		"show_alert":        alert,
	}
	if text != "" {
		body["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", body, nil)
}

// DownloadFile resolves a file id and downloads its content
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var f apiFile
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil {
		return nil, err
	}
	if f.FileSize > maxDownloadSize {
		return nil, ErrFileTooLarge
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(reqCtx).
		Get(c.fileBaseURL + "/" + f.FilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: download HTTP %d", ErrRequestFailed, resp.StatusCode())
	}
	return resp.Body(), nil
}

// GetUpdates long-polls for updates after offset
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]messaging.Update, int64, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}

	var raw []apiUpdate
	if err := c.callWithTimeout(ctx, "getUpdates", body, &raw, timeout+c.requestTimeout); err != nil {
		return nil, offset, err
	}

	updates := make([]messaging.Update, 0, len(raw))
	next := offset
	for _, u := range raw {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
		if converted, ok := convertUpdate(u); ok {
			updates = append(updates, converted)
		}
	}
	return updates, next, nil
}

func (c *Client) upload(ctx context.Context, method, field string, chatID int64, file messaging.File, caption string, kb *messaging.Keyboard, replyTo int64) (messaging.MessageRef, error) {
	form := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
	}
	if caption != "" {
		form["caption"] = caption
	}
	if kb != nil {
		markup, err := json.Marshal(kb)
		if err != nil {
			return messaging.MessageRef{}, fmt.Errorf("telegram: failed to marshal keyboard: %w", err)
		}
		form["reply_markup"] = string(markup)
	}
	if replyTo != 0 {
		form["reply_to_message_id"] = strconv.FormatInt(replyTo, 10)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(reqCtx).
		SetFormData(form).
		SetFileReader(field, file.Name, bytes.NewReader(file.Data)).
		Post("/" + method)
	if err != nil {
		return messaging.MessageRef{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}

	var msg apiMessage
	if err := decodeResponse(method, resp, &msg); err != nil {
		return messaging.MessageRef{}, err
	}
	return messaging.MessageRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID}, nil
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	return c.callWithTimeout(ctx, method, body, out, c.requestTimeout)
}

func (c *Client) callWithTimeout(ctx context.Context, method string, body any, out any, timeout time.Duration) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(reqCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/" + method)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, method, err)
	}
	return decodeResponse(method, resp, out)
}

func decodeResponse(method string, resp *resty.Response, out any) error {
	var envelope apiResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s: HTTP %d", ErrUnavailable, method, resp.StatusCode())
		}
		return fmt.Errorf("%w: %s: malformed response", ErrRequestFailed, method)
	}

	if !envelope.OK {
		code := envelope.ErrorCode
		if code == 0 {
			code = resp.StatusCode()
		}
		switch {
		case code == http.StatusTooManyRequests:
			retryAfter := 0
			if envelope.Parameters != nil {
				retryAfter = envelope.Parameters.RetryAfter
			}
			return fmt.Errorf("%w: %s: retry after %ds", ErrRateLimited, method, retryAfter)
		case code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s: %s", ErrUnavailable, method, envelope.Description)
		default:
			return fmt.Errorf("%w: %s: %d %s", ErrRequestFailed, method, code, envelope.Description)
		}
	}

	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRequestFailed, method, err)
	}
	return nil
}

// ignoreNotModified treats "message is not modified" as success
func ignoreNotModified(err error) error {
	if err != nil && errors.Is(err, ErrRequestFailed) && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

func convertUpdate(u apiUpdate) (messaging.Update, bool) {
	switch {
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		out := messaging.Update{
			ID:           u.UpdateID,
			Kind:         messaging.UpdateCallback,
			UserID:       cb.From.ID,
			Username:     cb.From.Username,
			FirstName:    cb.From.FirstName,
			CallbackID:   cb.ID,
			CallbackData: cb.Data,
		}
		if cb.Message != nil {
			out.ChatID = cb.Message.Chat.ID
			out.Message = messaging.MessageRef{ChatID: cb.Message.Chat.ID, MessageID: cb.Message.MessageID}
		}
		return out, true

	case u.Message != nil:
		m := u.Message
		out := messaging.Update{
			ID:        u.UpdateID,
			Kind:      messaging.UpdateMessage,
			ChatID:    m.Chat.ID,
			MessageID: m.MessageID,
			Text:      m.Text,
			Caption:   m.Caption,
		}
		if m.From != nil {
			out.UserID = m.From.ID
			out.Username = m.From.Username
			out.FirstName = m.From.FirstName
		}
		if len(m.Photo) > 0 {
			// sizes are ascending; the last one is the original
			out.PhotoFileID = m.Photo[len(m.Photo)-1].FileID
		}
		if m.Document != nil {
			out.Document = &messaging.Document{
				FileID:   m.Document.FileID,
				FileName: m.Document.FileName,
				MimeType: m.Document.MimeType,
				Size:     m.Document.FileSize,
			}
		}
		return out, true
	}
	return messaging.Update{}, false
}

// Ensure Client implements messaging.Transport
var _ messaging.Transport = (*Client)(nil)
