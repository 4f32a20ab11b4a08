package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/domain/ledger"
	"stockcore/internal/domain/stock"
	"stockcore/internal/idempotency"
	"stockcore/internal/infrastructure/http/v1/dto"
)

// StockHandler serves balance, movement and ledger endpoints.
type StockHandler struct {
	BaseHandler
	stocks   *stock.Service
	ledgers  *ledger.Service
	executor *idempotency.Executor
}

// NewStockHandler creates a new stock handler.
func NewStockHandler(stocks *stock.Service, ledgers *ledger.Service, executor *idempotency.Executor) *StockHandler {
	return &StockHandler{stocks: stocks, ledgers: ledgers, executor: executor}
}

// Register handles POST /stock.
func (h *StockHandler) Register(c *gin.Context) {
	var req dto.RegisterProductRequest
	if !h.BindJSON(c, &req) {
		return
	}
	productID, err := id.Parse(req.ProductID)
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid product id").WithDetail("productId", req.ProductID))
		return
	}
	locationID := id.Nil()
	if req.LocationID != "" {
		locationID, err = id.Parse(req.LocationID)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid location id").WithDetail("locationId", req.LocationID))
			return
		}
	}

	bal, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, "stock.register", req),
		func(ctx context.Context) (stock.Balance, error) {
			return h.stocks.RegisterProduct(ctx, productID, locationID)
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewBalanceResponse(bal))
}

// Deactivate handles DELETE /stock/:productId.
func (h *StockHandler) Deactivate(c *gin.Context) {
	productID, err := id.Parse(c.Param("productId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid product id"))
		return
	}
	if err := h.stocks.DeactivateProduct(c.Request.Context(), productID); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "product deactivated")
}

// GetBalance handles GET /stock/:productId.
func (h *StockHandler) GetBalance(c *gin.Context) {
	productID, err := id.Parse(c.Param("productId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid product id"))
		return
	}
	locationID := id.Nil()
	if loc := c.Query("locationId"); loc != "" {
		locationID, err = id.Parse(loc)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid location id"))
			return
		}
	}

	bal, err := h.stocks.GetBalance(c.Request.Context(), productID, locationID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewBalanceResponse(bal))
}

// ApplyMovement handles POST /stock/:productId/movements.
func (h *StockHandler) ApplyMovement(c *gin.Context) {
	var req dto.ApplyMovementRequest
	if !h.BindJSON(c, &req) {
		return
	}
	domReq, err := req.ToDomain(c.Param("productId"), h.CallerID(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, "stock.apply_movement", req),
		func(ctx context.Context) (*stock.MovementResult, error) {
			return h.stocks.ApplyMovement(ctx, domReq)
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// BulkAdjust handles POST /stock/bulk-adjust.
func (h *StockHandler) BulkAdjust(c *gin.Context) {
	var req dto.BulkAdjustRequest
	if !h.BindJSON(c, &req) {
		return
	}
	items, err := req.ToDomain()
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := idempotency.Execute(c.Request.Context(), h.executor,
		h.IdemRequest(c, "stock.bulk_adjust", req),
		func(ctx context.Context) (*stock.BulkAdjustResult, error) {
			return h.stocks.BulkAdjust(ctx, items, h.CallerID(c))
		})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// History handles GET /stock/:productId/ledger.
func (h *StockHandler) History(c *gin.Context) {
	productID, err := id.Parse(c.Param("productId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid product id"))
		return
	}

	filter := ledger.HistoryFilter{
		Limit:  h.ParseIntQuery(c, "limit", 100),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}
	if loc := c.Query("locationId"); loc != "" {
		locID, err := id.Parse(loc)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid location id"))
			return
		}
		filter.LocationID = &locID
	}
	if kind := c.Query("kind"); kind != "" {
		k := ledger.EntryKind(kind)
		if !k.Valid() {
			h.Error(c, apperror.NewValidation("unknown ledger kind").WithDetail("kind", kind))
			return
		}
		filter.Kind = &k
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid from date"))
			return
		}
		filter.FromDate = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid to date"))
			return
		}
		filter.ToDate = &t
	}

	entries, total, err := h.ledgers.History(c.Request.Context(), productID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.LedgerHistoryResponse{
		Entries: entries,
		Meta:    dto.ListMeta{Total: total, Limit: filter.Limit, Offset: filter.Offset},
	})
}

// Reconcile handles POST /stock/:productId/reconcile.
func (h *StockHandler) Reconcile(c *gin.Context) {
	productID, err := id.Parse(c.Param("productId"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid product id"))
		return
	}
	locationID := id.Nil()
	if loc := c.Query("locationId"); loc != "" {
		locationID, err = id.Parse(loc)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid location id"))
			return
		}
	}

	result, err := h.stocks.Reconcile(c.Request.Context(), productID, locationID, h.CallerID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, result)
}

// ReconcileAll handles POST /stock/reconcile.
func (h *StockHandler) ReconcileAll(c *gin.Context) {
	var locationID *id.ID
	if loc := c.Query("locationId"); loc != "" {
		locID, err := id.Parse(loc)
		if err != nil {
			h.Error(c, apperror.NewValidation("invalid location id"))
			return
		}
		locationID = &locID
	}

	results, err := h.stocks.ReconcileAll(c.Request.Context(), locationID, h.CallerID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, results)
}
