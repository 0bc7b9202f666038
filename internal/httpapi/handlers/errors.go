// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These symbolic constants give webhook senders and operators a stable,
// machine-readable error taxonomy alongside the HTTP status code.
package handlers

const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeForbidden   = "forbidden"
	ErrCodeNotFound    = "not_found"
	ErrCodeRateLimited = "too_many_requests"
	ErrCodeOverloaded  = "overloaded"
	ErrCodeInternal    = "internal_error"

	ErrCodeMethodNotAllowed = "method_not_allowed"
)
