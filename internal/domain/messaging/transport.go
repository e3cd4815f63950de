// Package messaging defines the chat transport port used by the checkout flow.
package messaging

import "context"

// MessageRef identifies a message that was already sent to a chat.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

// IsZero reports whether the reference points to no message.
func (r MessageRef) IsZero() bool {
	return r.MessageID == 0
}

// File is an outbound file attachment.
type File struct {
	Name string
	Data []byte
}

// Transport is the outbound side of the chat platform.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, kb *Keyboard) (MessageRef, error)
	// SendPhoto sends an image; replyTo may be zero.
	SendPhoto(ctx context.Context, chatID int64, photo File, caption string, kb *Keyboard, replyTo int64) (MessageRef, error)
	SendDocument(ctx context.Context, chatID int64, doc File, caption string, kb *Keyboard) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string) error
	// EditKeyboard replaces the inline keyboard; a nil keyboard removes it.
	EditKeyboard(ctx context.Context, ref MessageRef, kb *Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// UpdateKind classifies inbound updates.
type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Document describes an uploaded file.
type Document struct {
	FileID   string
	FileName string
	MimeType string
	Size     int64
}

// Update is a single inbound event from the chat platform.
type Update struct {
	ID        int64
	Kind      UpdateKind
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string

	// message fields
	MessageID   int64
	Text        string
	Caption     string
	PhotoFileID string
	Document    *Document

	// callback fields
	CallbackID   string
	CallbackData string
	Message      MessageRef
}

// Command returns the bot command in Text ("/start" -> "start"), or "".
func (u Update) Command() string {
	if len(u.Text) < 2 || u.Text[0] != '/' {
		return ""
	}
	cmd := u.Text[1:]
	for i, r := range cmd {
		if r == ' ' || r == '@' {
			return cmd[:i]
		}
	}
	return cmd
}

// UpdateHandler consumes inbound updates.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u Update)
}
