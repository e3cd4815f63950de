package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/imagebot/backend/internal/interfaces/http/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingCheckout struct{ calls []string }

func (c *countingCheckout) HandleGatewayNotification(_ context.Context, invoiceID string) error {
	c.calls = append(c.calls, invoiceID)
	return nil
}

func TestSetup_Routes(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc := &countingCheckout{}

	engine, err := Setup(Config{Mode: gin.TestMode, MaxBodyBytes: 512}, Deps{
		Health:        handler.NewHealthHandler(nil),
		Notifications: handler.NewPaymentNotificationHandler(svc, nil, nil),
		Logger:        zap.New(core),
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	body := `{"type":"notification","event":"payment.succeeded","object":{"id":"pay-1"}}`
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/notifications/yookassa", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pay-1"}, svc.calls)

	assert.Equal(t, 2, logs.FilterMessage("HTTP Request").Len())
}

func TestSetup_BodyLimit(t *testing.T) {
	svc := &countingCheckout{}
	engine, err := Setup(Config{Mode: gin.TestMode, MaxBodyBytes: 16}, Deps{
		Notifications: handler.NewPaymentNotificationHandler(svc, nil, nil),
	})
	require.NoError(t, err)

	body := `{"type":"notification","event":"payment.succeeded","object":{"id":"pay-1"}}`
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payment/notifications/yookassa", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "REQUEST_TOO_LARGE")
	assert.Empty(t, svc.calls)
}

func TestSetup_RecoversPanics(t *testing.T) {
	engine, err := Setup(Config{Mode: gin.TestMode}, Deps{})
	require.NoError(t, err)
	engine.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
