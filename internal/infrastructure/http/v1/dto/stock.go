package dto

import (
	"time"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
	"stockcore/internal/domain/ledger"
	"stockcore/internal/domain/stock"
)

// ApplyMovementRequest is the body of POST /stock/:productId/movements.
type ApplyMovementRequest struct {
	LocationID    string  `json:"locationId,omitempty"`
	Kind          string  `json:"kind" binding:"required"`
	Quantity      int64   `json:"quantity" binding:"required"`
	UnitCost      *string `json:"unitCost,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	ReferenceType string  `json:"referenceType,omitempty"`
	ReferenceID   string  `json:"referenceId,omitempty"`
}

// ToDomain converts the request, validating identifiers.
func (r ApplyMovementRequest) ToDomain(productID string, actor string) (stock.ApplyMovementRequest, error) {
	pid, err := id.Parse(productID)
	if err != nil {
		return stock.ApplyMovementRequest{}, apperror.NewValidation("invalid product id").WithDetail("productId", productID)
	}
	locID, err := parseOptionalID(r.LocationID)
	if err != nil {
		return stock.ApplyMovementRequest{}, apperror.NewValidation("invalid location id").WithDetail("locationId", r.LocationID)
	}

	req := stock.ApplyMovementRequest{
		ProductID:  pid,
		LocationID: locID,
		Kind:       stock.MovementKind(r.Kind),
		Quantity:   types.Quantity(r.Quantity),
		Reason:     r.Reason,
		Actor:      actor,
	}
	if r.UnitCost != nil {
		cost, err := types.NewMoneyFromString(*r.UnitCost)
		if err != nil {
			return stock.ApplyMovementRequest{}, apperror.NewValidation("invalid unit cost").WithDetail("unitCost", *r.UnitCost)
		}
		req.UnitCost = &cost
	}
	if r.ReferenceType != "" {
		refID, err := id.Parse(r.ReferenceID)
		if err != nil {
			return stock.ApplyMovementRequest{}, apperror.NewValidation("invalid reference id").WithDetail("referenceId", r.ReferenceID)
		}
		req.Reference = &ledger.Reference{Type: r.ReferenceType, ID: refID}
	}
	return req, nil
}

// BulkAdjustRequest is the body of POST /stock/bulk-adjust.
type BulkAdjustRequest struct {
	Items []BulkAdjustItem `json:"items" binding:"required"`
}

// BulkAdjustItem targets one product with an absolute quantity.
type BulkAdjustItem struct {
	ProductID  string `json:"productId" binding:"required"`
	LocationID string `json:"locationId,omitempty"`
	Quantity   int64  `json:"quantity"`
	Reason     string `json:"reason,omitempty"`
}

// ToDomain converts the bulk request, validating identifiers.
func (r BulkAdjustRequest) ToDomain() ([]stock.BulkAdjustItem, error) {
	items := make([]stock.BulkAdjustItem, 0, len(r.Items))
	for _, item := range r.Items {
		pid, err := id.Parse(item.ProductID)
		if err != nil {
			return nil, apperror.NewValidation("invalid product id").WithDetail("productId", item.ProductID)
		}
		locID, err := parseOptionalID(item.LocationID)
		if err != nil {
			return nil, apperror.NewValidation("invalid location id").WithDetail("locationId", item.LocationID)
		}
		items = append(items, stock.BulkAdjustItem{
			ProductID:   pid,
			LocationID:  locID,
			NewQuantity: types.Quantity(item.Quantity),
			Reason:      item.Reason,
		})
	}
	return items, nil
}

// RegisterProductRequest is the body of POST /stock.
type RegisterProductRequest struct {
	ProductID  string `json:"productId" binding:"required"`
	LocationID string `json:"locationId,omitempty"`
}

// BalanceResponse is the JSON shape of a balance.
type BalanceResponse struct {
	ProductID    string    `json:"productId"`
	LocationID   string    `json:"locationId"`
	Quantity     int64     `json:"quantity"`
	Version      int64     `json:"version"`
	LastMovement string    `json:"lastMovement,omitempty"`
	Active       bool      `json:"active"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewBalanceResponse maps a domain balance.
func NewBalanceResponse(b stock.Balance) BalanceResponse {
	return BalanceResponse{
		ProductID:    b.ProductID.String(),
		LocationID:   b.LocationID.String(),
		Quantity:     b.Quantity.Int64(),
		Version:      b.Version,
		LastMovement: b.LastMovement,
		Active:       b.Active,
		UpdatedAt:    b.UpdatedAt,
	}
}

// LedgerHistoryResponse pages ledger entries for a product.
type LedgerHistoryResponse struct {
	Entries []ledger.Entry `json:"entries"`
	Meta    ListMeta       `json:"meta"`
}

func parseOptionalID(s string) (id.ID, error) {
	if s == "" {
		return id.Nil(), nil
	}
	return id.Parse(s)
}
