package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/imagebot/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestBodyLimit(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "within limit", body: `{"event":"payment.succeeded"}`, want: http.StatusOK},
		{name: "over limit", body: strings.Repeat("x", 65), want: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(BodyLimit(64))
			r.POST("/n", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/n", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func tracedRouter(t *testing.T, status int) (*gin.Engine, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx, span := tp.Tracer("test").Start(c.Request.Context(), "request")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.End()
	})
	r.Use(SpanEnricher())
	r.GET("/x", func(c *gin.Context) { c.Status(status) })
	return r, rec
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSpanEnricher(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     string
		wantID     string
		wantStatus codes.Code
	}{
		{name: "ok", status: http.StatusOK, header: "req-1", wantID: "req-1", wantStatus: codes.Unset},
		{name: "server error", status: http.StatusBadGateway, header: "req-2", wantID: "req-2", wantStatus: codes.Error},
		{name: "long id truncated", status: http.StatusOK, header: strings.Repeat("a", 200), wantID: strings.Repeat("a", MaxRequestIDLength), wantStatus: codes.Unset},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, rec := tracedRouter(t, tt.status)

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set(logger.RequestIDHeader, tt.header)
			r.ServeHTTP(httptest.NewRecorder(), req)

			spans := rec.Ended()
			require.Len(t, spans, 1)
			id, ok := attrValue(spans[0].Attributes(), "request_id")
			require.True(t, ok)
			assert.Equal(t, tt.wantID, id.AsString())
			assert.Equal(t, tt.wantStatus, spans[0].Status().Code)
		})
	}
}

func TestTracing_DisabledPassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Tracing(TracingConfig{Enabled: false}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
