package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/domain/counting"
	"stockcore/internal/idempotency"
	"stockcore/internal/infrastructure/http/v1/dto"
)

// CountHandler serves the cycle-count workflow endpoints.
type CountHandler struct {
	BaseHandler
	counts   *counting.Service
	executor *idempotency.Executor
}

// NewCountHandler creates a new count handler.
func NewCountHandler(counts *counting.Service, executor *idempotency.Executor) *CountHandler {
	return &CountHandler{counts: counts, executor: executor}
}

// Create handles POST /counts.
func (h *CountHandler) Create(c *gin.Context) {
	var req dto.CreateCountRequest
	if !h.BindJSON(c, &req) {
		return
	}
	domReq, err := req.ToDomain(h.CallerID(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	count, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, "count.create", req),
		func(ctx context.Context) (counting.Count, error) {
			return h.counts.Create(ctx, domReq)
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, count)
}

// Get handles GET /counts/:id.
func (h *CountHandler) Get(c *gin.Context) {
	countID, ok := h.countID(c)
	if !ok {
		return
	}
	count, items, err := h.counts.Get(c.Request.Context(), countID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.CountResponse{Count: count, Items: items})
}

// Start handles POST /counts/:id/start.
func (h *CountHandler) Start(c *gin.Context) {
	h.transition(c, "count.start", h.counts.Start)
}

// Cancel handles POST /counts/:id/cancel.
func (h *CountHandler) Cancel(c *gin.Context) {
	h.transition(c, "count.cancel", h.counts.Cancel)
}

func (h *CountHandler) transition(c *gin.Context, operation string, fn func(ctx context.Context, countID id.ID) (counting.Count, error)) {
	countID, ok := h.countID(c)
	if !ok {
		return
	}

	count, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, operation, countID.String()),
		func(ctx context.Context) (counting.Count, error) {
			return fn(ctx, countID)
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, count)
}

// Preload handles POST /counts/:id/preload.
func (h *CountHandler) Preload(c *gin.Context) {
	countID, ok := h.countID(c)
	if !ok {
		return
	}

	created, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, "count.preload", countID.String()),
		func(ctx context.Context) (int, error) {
			return h.counts.Preload(ctx, countID)
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.PreloadResponse{ItemCount: created})
}

// SetItemCount handles PUT /counts/:id/items/:itemId.
func (h *CountHandler) SetItemCount(c *gin.Context) {
	countID, ok := h.countID(c)
	if !ok {
		return
	}
	itemID, err := id.Parse(c.Param("itemId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid item id"))
		return
	}
	var req dto.SetItemCountRequest
	if !h.BindJSON(c, &req) {
		return
	}

	item, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, "count.set_item", req),
		func(ctx context.Context) (counting.Item, error) {
			return h.counts.SetItemCount(ctx, countID, itemID, req.CountedQty, req.Reason)
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, item)
}

// ApplyAdjustments handles POST /counts/:id/apply.
func (h *CountHandler) ApplyAdjustments(c *gin.Context) {
	countID, ok := h.countID(c)
	if !ok {
		return
	}

	result, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, "count.apply", countID.String()),
		func(ctx context.Context) (*counting.ApplyResult, error) {
			return h.counts.ApplyAdjustments(ctx, countID, h.CallerID(c))
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// Complete handles POST /counts/:id/complete.
func (h *CountHandler) Complete(c *gin.Context) {
	countID, ok := h.countID(c)
	if !ok {
		return
	}

	report, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, "count.complete", countID.String()),
		func(ctx context.Context) (*counting.CompletionReport, error) {
			return h.counts.Complete(ctx, countID)
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}

func (h *CountHandler) countID(c *gin.Context) (id.ID, bool) {
	countID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid count id"))
		return id.Nil(), false
	}
	return countID, true
}
