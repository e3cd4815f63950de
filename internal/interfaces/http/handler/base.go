package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imagebot/backend/internal/interfaces/http/dto"
)

// BaseHandler writes dto.Response envelopes. Handlers embed it.
type BaseHandler struct{}

// Success writes data with 200.
func (h *BaseHandler) Success(c *gin.Context, data any) {
	h.respond(c, http.StatusOK, dto.NewSuccessResponse(data))
}

func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	h.respond(c, statusCode, dto.NewErrorResponse(code, message))
}

func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.CodeBadRequest, message)
}

// InternalError answers 500. The gateway retries notifications that get it.
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.CodeInternal, message)
}

func (h *BaseHandler) respond(c *gin.Context, status int, body dto.Response) {
	c.JSON(status, body)
}
