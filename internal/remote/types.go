package remote

import "github.com/hyperengineering/outbox"

// HealthResponse from GET /api/v1/health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ListResponse from GET /api/v1/collections/{collection}/records
type ListResponse struct {
	Records []outbox.RemoteRecord `json:"records"`
}

// ErrorResponse is the body the remote sends with a 4xx or 5xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes that mark a write conflict regardless of status.
const (
	CodeUniqueViolation = "unique_violation"
	CodeVersionConflict = "version_conflict"
)
