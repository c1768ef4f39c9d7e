// Package api provides the HTTP ingest surface for the audit pipeline:
// authenticated event submission, the stats endpoint, and health checks.
// It includes structured error responses and rate limiting.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ErrorCode represents machine-readable error codes for API responses.
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR" // Unexpected server error
	ErrCodeBadRequest   ErrorCode = "BAD_REQUEST"    // Malformed request
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"   // Missing or invalid authentication
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"   // Too many requests
	ErrCodeInvalidJSON  ErrorCode = "INVALID_JSON"   // JSON parsing failed
	ErrCodeInvalidEvent ErrorCode = "INVALID_EVENT"  // Event failed construction
	ErrCodeQueueFull    ErrorCode = "QUEUE_FULL"     // Pipeline rejected the event
	ErrCodeShuttingDown ErrorCode = "SHUTTING_DOWN"  // Service is draining
)

// ErrorResponse is the structured API error body.
//
// Example:
//
//	{
//	  "error": "Bad Request",
//	  "message": "audit: unknown event type: \"login\"",
//	  "code": "INVALID_EVENT",
//	  "request_id": "req-abc123"
//	}
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Code      ErrorCode `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeError sends a structured error response with the request ID from
// the chi middleware.
func writeError(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	resp := ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON sends a success response.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
