// Package handlers defines the HTTP error codes returned in ErrorResponse.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP status semantics;
// the relay-specific ones name the failing collaborator so the chat platform
// and the widget can branch on them.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeInvalidPayload   = "invalid_payload"
	ErrCodeDedupUnavailable = "dedup_unavailable"
)
