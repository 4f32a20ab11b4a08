// Package handlers implements the v1 HTTP API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stockcore/internal/core/apperror"
	appctx "stockcore/internal/core/context"
	"stockcore/internal/idempotency"
	"stockcore/internal/infrastructure/http/v1/dto"
)

// HeaderIdempotencyKey marks a request as replay-safe. An absent
// header means the caller opted out of replay protection.
const HeaderIdempotencyKey = "X-Idempotency-Key"

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers error on Gin context and aborts request.
// Actual JSON response is produced by middleware.ErrorHandler (single
// source of truth).
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// ParseIntQuery parses integer query parameter with default value.
func (h *BaseHandler) ParseIntQuery(c *gin.Context, key string, defaultVal int) int {
	val := c.Query(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

// CallerID extracts the caller identity from request context.
func (h *BaseHandler) CallerID(c *gin.Context) string {
	return appctx.GetCallerID(c.Request.Context())
}

// IdemRequest builds the idempotency envelope for a mutating
// operation from the request headers and payload.
func (h *BaseHandler) IdemRequest(c *gin.Context, operation string, payload any) idempotency.Request {
	return idempotency.Request{
		Key:       c.GetHeader(HeaderIdempotencyKey),
		Operation: operation,
		CallerID:  h.CallerID(c),
		Payload:   payload,
	}
}

// Created sends 201 response with ID.
func (h *BaseHandler) Created(c *gin.Context, id string) {
	c.JSON(http.StatusCreated, dto.IDResponse{ID: id})
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Success sends success response.
func (h *BaseHandler) Success(c *gin.Context, message string) {
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: message})
}
