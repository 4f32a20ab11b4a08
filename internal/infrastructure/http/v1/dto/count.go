package dto

import (
	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/domain/counting"
)

// CreateCountRequest is the body of POST /counts.
type CreateCountRequest struct {
	LocationID   string  `json:"locationId,omitempty"`
	Kind         string  `json:"kind" binding:"required"`
	TolerancePct float64 `json:"tolerancePct"`
	Note         string  `json:"note,omitempty"`
}

// ToDomain converts the request, validating identifiers.
func (r CreateCountRequest) ToDomain(actor string) (counting.CreateRequest, error) {
	req := counting.CreateRequest{
		Kind:         counting.Kind(r.Kind),
		TolerancePct: r.TolerancePct,
		Note:         r.Note,
		CreatedBy:    actor,
	}
	if r.LocationID != "" {
		locID, err := id.Parse(r.LocationID)
		if err != nil {
			return counting.CreateRequest{}, apperror.NewValidation("invalid location id").WithDetail("locationId", r.LocationID)
		}
		req.LocationID = &locID
	}
	return req, nil
}

// SetItemCountRequest is the body of PUT /counts/:id/items/:itemId.
type SetItemCountRequest struct {
	CountedQty int64  `json:"countedQty"`
	Reason     string `json:"reason,omitempty"`
}

// CountResponse wraps a count header with its items.
type CountResponse struct {
	Count counting.Count  `json:"count"`
	Items []counting.Item `json:"items,omitempty"`
}

// PreloadResponse reports how many items a preload created.
type PreloadResponse struct {
	ItemCount int `json:"itemCount"`
}
