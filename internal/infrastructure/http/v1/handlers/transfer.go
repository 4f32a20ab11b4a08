package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/domain/transfer"
	"stockcore/internal/idempotency"
	"stockcore/internal/infrastructure/http/v1/dto"
)

// TransferHandler serves the transfer workflow endpoints.
type TransferHandler struct {
	BaseHandler
	transfers *transfer.Service
	executor  *idempotency.Executor
}

// NewTransferHandler creates a new transfer handler.
func NewTransferHandler(transfers *transfer.Service, executor *idempotency.Executor) *TransferHandler {
	return &TransferHandler{transfers: transfers, executor: executor}
}

// Request handles POST /transfers.
func (h *TransferHandler) Request(c *gin.Context) {
	var req dto.TransferRequest
	if !h.BindJSON(c, &req) {
		return
	}
	input, err := req.ToDomain(h.CallerID(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	t, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, "transfer.request", req),
		func(ctx context.Context) (transfer.Transfer, error) {
			return h.transfers.Request(ctx, input)
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// Get handles GET /transfers/:id.
func (h *TransferHandler) Get(c *gin.Context) {
	transferID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid transfer id"))
		return
	}
	t, err := h.transfers.Get(c.Request.Context(), transferID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, t)
}

// List handles GET /transfers.
func (h *TransferHandler) List(c *gin.Context) {
	filter := transfer.ListFilter{
		Limit:  h.ParseIntQuery(c, "limit", 50),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}
	if pid := c.Query("productId"); pid != "" {
		productID, err := id.Parse(pid)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid product id"))
			return
		}
		filter.ProductID = &productID
	}
	if status := c.Query("status"); status != "" {
		st := transfer.Status(status)
		filter.Status = &st
	}

	transfers, err := h.transfers.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, transfers)
}

// Ship handles POST /transfers/:id/ship.
func (h *TransferHandler) Ship(c *gin.Context) {
	h.advance(c, "transfer.ship", h.transfers.Ship)
}

// Receive handles POST /transfers/:id/receive.
func (h *TransferHandler) Receive(c *gin.Context) {
	h.advance(c, "transfer.receive", h.transfers.Receive)
}

// Cancel handles POST /transfers/:id/cancel.
func (h *TransferHandler) Cancel(c *gin.Context) {
	h.advance(c, "transfer.cancel", h.transfers.Cancel)
}

// advance drives one state transition with replay protection keyed by
// the transfer id.
func (h *TransferHandler) advance(c *gin.Context, operation string, fn func(ctx context.Context, transferID id.ID, actor string) (transfer.Transfer, error)) {
	transferID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid transfer id"))
		return
	}

	t, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, operation, transferID.String()),
		func(ctx context.Context) (transfer.Transfer, error) {
			return fn(ctx, transferID, h.CallerID(c))
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, t)
}
