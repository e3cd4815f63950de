package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/imagebot/backend/internal/domain/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "123:abc"

type recordedRequest struct {
	Path        string
	ContentType string
	JSON        map[string]any
	Form        map[string]string
	FileName    string
	FileData    []byte
}

func newTestClient(t *testing.T, handler func(req recordedRequest) (int, string)) (*Client, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Path: r.URL.Path, ContentType: r.Header.Get("Content-Type")}
		switch {
		case strings.HasPrefix(rec.ContentType, "application/json"):
			_ = json.NewDecoder(r.Body).Decode(&rec.JSON)
		case strings.HasPrefix(rec.ContentType, "multipart/form-data"):
			if err := r.ParseMultipartForm(1 << 20); err == nil {
				rec.Form = map[string]string{}
				for k, v := range r.MultipartForm.Value {
					rec.Form[k] = v[0]
				}
				for _, files := range r.MultipartForm.File {
					f, _ := files[0].Open()
					rec.FileName = files[0].Filename
					rec.FileData, _ = io.ReadAll(f)
					_ = f.Close()
				}
			}
		}
		requests = append(requests, rec)

		status, body := handler(rec)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Token: testToken, APIURL: server.URL, RequestTimeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return client, &requests
}

func ok(result string) (int, string) {
	return http.StatusOK, `{"ok":true,"result":` + result + `}`
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestClient_SendText(t *testing.T) {
	client, requests := newTestClient(t, func(req recordedRequest) (int, string) {
		return ok(`{"message_id":55,"chat":{"id":777}}`)
	})

	kb := messaging.NewKeyboard(messaging.CallbackButton("Pay", "pay:1:k"))
	ref, err := client.SendText(context.Background(), 777, "hello", kb)
	require.NoError(t, err)
	assert.Equal(t, messaging.MessageRef{ChatID: 777, MessageID: 55}, ref)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "/bot"+testToken+"/sendMessage", req.Path)
	assert.Equal(t, "hello", req.JSON["text"])
	assert.EqualValues(t, 777, req.JSON["chat_id"])
	markup := req.JSON["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 1)
}

func TestClient_SendPhotoMultipart(t *testing.T) {
	client, requests := newTestClient(t, func(req recordedRequest) (int, string) {
		return ok(`{"message_id":9,"chat":{"id":1}}`)
	})

	kb := messaging.NewKeyboard(messaging.CallbackButton("Pay", "pay:1:k"))
	ref, err := client.SendPhoto(context.Background(), 1, messaging.File{Name: "preview.png", Data: []byte("PNG")}, "caption", kb, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(9), ref.MessageID)

	req := (*requests)[0]
	assert.Equal(t, "/bot"+testToken+"/sendPhoto", req.Path)
	assert.Equal(t, "1", req.Form["chat_id"])
	assert.Equal(t, "caption", req.Form["caption"])
	assert.Equal(t, "42", req.Form["reply_to_message_id"])
	assert.Contains(t, req.Form["reply_markup"], "inline_keyboard")
	assert.Equal(t, "preview.png", req.FileName)
	assert.Equal(t, []byte("PNG"), req.FileData)
}

func TestClient_SendDocumentWithoutReply(t *testing.T) {
	client, requests := newTestClient(t, func(req recordedRequest) (int, string) {
		return ok(`{"message_id":10,"chat":{"id":1}}`)
	})

	_, err := client.SendDocument(context.Background(), 1, messaging.File{Name: "photo_clean.png", Data: []byte("X")}, "thanks", nil)
	require.NoError(t, err)

	req := (*requests)[0]
	assert.Equal(t, "/bot"+testToken+"/sendDocument", req.Path)
	assert.NotContains(t, req.Form, "reply_to_message_id")
	assert.NotContains(t, req.Form, "reply_markup")
	assert.Equal(t, "photo_clean.png", req.FileName)
}

func TestClient_EditsIgnoreNotModified(t *testing.T) {
	client, _ := newTestClient(t, func(req recordedRequest) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`
	})

	ref := messaging.MessageRef{ChatID: 1, MessageID: 2}
	assert.NoError(t, client.EditText(context.Background(), ref, "same"))
	assert.NoError(t, client.EditKeyboard(context.Background(), ref, nil))
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rejected", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, ErrRequestFailed},
		{"rate limited", http.StatusTooManyRequests, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`, ErrRateLimited},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(req recordedRequest) (int, string) {
				return tt.status, tt.body
			})
			_, err := client.SendText(context.Background(), 1, "x", nil)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_AnswerCallback(t *testing.T) {
	client, requests := newTestClient(t, func(req recordedRequest) (int, string) {
		return ok(`true`)
	})

	require.NoError(t, client.AnswerCallback(context.Background(), "cb-1", "done", true))
	req := (*requests)[0]
	assert.Equal(t, "cb-1", req.JSON["callback_query_id"])
	assert.Equal(t, true, req.JSON["show_alert"])
	assert.Equal(t, "done", req.JSON["text"])
}

func TestClient_DownloadFile(t *testing.T) {
	client, requests := newTestClient(t, func(req recordedRequest) (int, string) {
		if strings.HasSuffix(req.Path, "/getFile") {
			return ok(`{"file_id":"f1","file_path":"photos/file_1.jpg","file_size":4}`)
		}
		return http.StatusOK, "JPEG"
	})

	data, err := client.DownloadFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, []byte("JPEG"), data)
	require.Len(t, *requests, 2)
	assert.Equal(t, "/file/bot"+testToken+"/photos/file_1.jpg", (*requests)[1].Path)
}

func TestClient_DownloadFileTooLarge(t *testing.T) {
	client, _ := newTestClient(t, func(req recordedRequest) (int, string) {
		return ok(`{"file_id":"f1","file_path":"big.jpg","file_size":104857600}`)
	})

	_, err := client.DownloadFile(context.Background(), "f1")
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestClient_GetUpdates(t *testing.T) {
	client, requests := newTestClient(t, func(req recordedRequest) (int, string) {
		return ok(`[
			{"update_id":100,"message":{"message_id":1,"from":{"id":5,"username":"bob","first_name":"Bob"},"chat":{"id":5},"text":"/start"}},
			{"update_id":101,"message":{"message_id":2,"from":{"id":5},"chat":{"id":5},"photo":[{"file_id":"small","width":90},{"file_id":"large","width":1280}]}},
			{"update_id":102,"callback_query":{"id":"cb","from":{"id":5},"message":{"message_id":3,"chat":{"id":5}},"data":"pay:5:key"}},
			{"update_id":103,"edited_message":{"message_id":4}}
		]`)
	})

	updates, next, err := client.GetUpdates(context.Background(), 100, time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(104), next)
	require.Len(t, updates, 3)

	assert.Equal(t, messaging.UpdateMessage, updates[0].Kind)
	assert.Equal(t, "start", updates[0].Command())
	assert.Equal(t, "bob", updates[0].Username)

	assert.Equal(t, "large", updates[1].PhotoFileID)

	assert.Equal(t, messaging.UpdateCallback, updates[2].Kind)
	assert.Equal(t, "pay:5:key", updates[2].CallbackData)
	assert.Equal(t, messaging.MessageRef{ChatID: 5, MessageID: 3}, updates[2].Message)

	assert.EqualValues(t, 100, (*requests)[0].JSON["offset"])
	assert.EqualValues(t, 1, (*requests)[0].JSON["timeout"])
}
