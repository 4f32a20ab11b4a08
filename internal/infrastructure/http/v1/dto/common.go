// Package dto defines request/response shapes for the v1 HTTP API.
package dto

// IDResponse carries the identifier of a created resource.
type IDResponse struct {
	ID string `json:"id"`
}

// SuccessResponse reports a completed operation with no payload.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ListMeta carries pagination info for list responses.
type ListMeta struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
