package imaging

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "google/gemini-2.5-flash-preview-image"
	defaultRemoverTimeout  = 90 * time.Second
	removeBackgroundPrompt = "Delete background"
)

// BackgroundRemover strips the background from a PNG image
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, pngData []byte) ([]byte, error)
}

// OpenRouterConfig holds the upstream model settings
type OpenRouterConfig struct {
	BaseURL string
	Token   string
	Model   string
	Timeout time.Duration
}

// OpenRouterRemover removes backgrounds with an image model behind an
// OpenAI-compatible chat completions API
type OpenRouterRemover struct {
	client *resty.Client
	model  string
	logger *zap.Logger
}

// NewOpenRouterRemover creates a new remover
func NewOpenRouterRemover(cfg OpenRouterConfig, logger *zap.Logger) *OpenRouterRemover {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouterURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenRouterModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRemoverTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json")

	return &OpenRouterRemover{
		client: client,
		model:  cfg.Model,
		logger: logger.Named("openrouter"),
	}
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string            `json:"role"`
	Content []chatContentPart `json:"content"`
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Modalities []string      `json:"modalities"`
}

type chatResponseImage struct {
	Type     string       `json:"type"`
	ImageURL chatImageURL `json:"image_url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage     `json:"content"`
			Images  []chatResponseImage `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

// RemoveBackground sends the image to the model and returns the image it answers with
func (r *OpenRouterRemover) RemoveBackground(ctx context.Context, pngData []byte) ([]byte, error) {
	body := chatRequest{
		Model: r.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContentPart{
				{Type: "text", Text: removeBackgroundPrompt},
				{Type: "image_url", ImageURL: &chatImageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData),
				}},
			},
		}},
		Modalities: []string{"image", "text"},
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailed, err)
	}
	switch status := resp.StatusCode(); {
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstreamFailed, status)
	case status >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstreamBadRequest, status)
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImageInResponse, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, ErrNoImageInResponse
	}
	msg := parsed.Choices[0].Message

	for _, img := range msg.Images {
		if img.Type == "image_url" {
			return r.resolveImage(ctx, img.ImageURL.URL)
		}
	}

	var content string
	if err := json.Unmarshal(msg.Content, &content); err == nil && strings.TrimSpace(content) != "" {
		return r.resolveImage(ctx, strings.TrimSpace(content))
	}
	return nil, ErrNoImageInResponse
}

// resolveImage turns a data URL, an http(s) URL or bare base64 into bytes
func (r *OpenRouterRemover) resolveImage(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "data:image/"):
		_, encoded, found := strings.Cut(ref, ";base64,")
		if !found {
			return nil, fmt.Errorf("%w: data url without base64 payload", ErrNoImageInResponse)
		}
		return decodeBase64(encoded)

	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		resp, err := r.client.R().SetContext(ctx).Get(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamFailed, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("%w: image download HTTP %d", ErrUpstreamFailed, resp.StatusCode())
		}
		return resp.Body(), nil

	default:
		return decodeBase64(ref)
	}
}

func decodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoImageInResponse, err)
	}
	return data, nil
}

// Ensure OpenRouterRemover implements BackgroundRemover
var _ BackgroundRemover = (*OpenRouterRemover)(nil)
