package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imagebot/backend/internal/interfaces/http/dto"
)

// BodyLimit rejects requests whose declared length exceeds maxBytes and caps
// reads for requests that do not declare one.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	tooLarge := dto.NewErrorResponse(dto.CodeRequestTooLarge, "request body too large")
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
