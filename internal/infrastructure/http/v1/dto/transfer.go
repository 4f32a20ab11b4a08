package dto

import (
	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
	"stockcore/internal/domain/transfer"
)

// TransferRequest is the body of POST /transfers.
type TransferRequest struct {
	ProductID string `json:"productId" binding:"required"`
	SourceID  string `json:"sourceId" binding:"required"`
	DestID    string `json:"destId" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required"`
	Note      string `json:"note,omitempty"`
}

// ToDomain converts the request, validating identifiers.
func (r TransferRequest) ToDomain(actor string) (transfer.RequestInput, error) {
	pid, err := id.Parse(r.ProductID)
	if err != nil {
		return transfer.RequestInput{}, apperror.NewValidation("invalid product id").WithDetail("productId", r.ProductID)
	}
	src, err := id.Parse(r.SourceID)
	if err != nil {
		return transfer.RequestInput{}, apperror.NewValidation("invalid source id").WithDetail("sourceId", r.SourceID)
	}
	dst, err := id.Parse(r.DestID)
	if err != nil {
		return transfer.RequestInput{}, apperror.NewValidation("invalid destination id").WithDetail("destId", r.DestID)
	}
	return transfer.RequestInput{
		ProductID: pid,
		SourceID:  src,
		DestID:    dst,
		Quantity:  types.Quantity(r.Quantity),
		Note:      r.Note,
		Actor:     actor,
	}, nil
}
