// Package apierror defines the error taxonomy surfaced by the API and the JSON
// envelope it is delivered in. Every recoverable condition in the
// concurrency-control layer maps to exactly one code here; handlers and
// middleware share this package so the wire shape is uniform.
//
// Envelope:
//
//	{"error": {"code": "VERSION_MISMATCH", "message": "...", "details": {...}}}
package apierror

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Code identifies a recoverable failure condition.
type Code string

const (
	// CodeUnauthorized covers every authentication failure: missing, malformed,
	// unknown, revoked, and expired credentials are indistinguishable to the
	// caller so credentials cannot be enumerated.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeAccountLocked is returned while an account's lockout window is live.
	CodeAccountLocked Code = "ACCOUNT_LOCKED"

	// CodeForbidden is returned when the credential lacks a required scope.
	CodeForbidden Code = "FORBIDDEN"

	// CodeRateLimited is returned when a fixed-window bucket is exhausted.
	CodeRateLimited Code = "RATE_LIMITED"

	// CodeIdempotencyConflict is returned when an idempotency token is reused
	// with a different method, path, or body.
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"

	// CodeIdempotencyInProgress is returned while another request holding the
	// same idempotency token is still executing.
	CodeIdempotencyInProgress Code = "IDEMPOTENCY_IN_PROGRESS"

	// CodeVersionMismatch is returned when an edit carries a stale resource
	// version; details include the current version.
	CodeVersionMismatch Code = "VERSION_MISMATCH"

	// CodeConflict covers non-idempotency uniqueness conflicts (e.g. duplicate
	// username or slug).
	CodeConflict Code = "CONFLICT"

	// CodeValidation covers malformed request payloads.
	CodeValidation Code = "VALIDATION_ERROR"

	// CodeNotFound covers missing resources.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInternal covers unexpected failures (persistence unreachable, bugs).
	// It carries no retry contract.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Payload is the envelope body.
type Payload struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope wraps Payload under the "error" key.
type Envelope struct {
	Error Payload `json:"error"`
}

// New builds an envelope without writing it, for callers that marshal
// responses themselves (e.g. cached idempotent replays).
func New(code Code, message string, details map[string]any) Envelope {
	return Envelope{Error: Payload{Code: code, Message: message, Details: details}}
}

// Abort writes the envelope with the given HTTP status and aborts the chain.
func Abort(c *gin.Context, status int, code Code, message string) {
	c.AbortWithStatusJSON(status, New(code, message, nil))
}

// AbortWithDetails writes the envelope with structured details and aborts.
func AbortWithDetails(c *gin.Context, status int, code Code, message string, details map[string]any) {
	c.AbortWithStatusJSON(status, New(code, message, details))
}

// AbortInternal logs nothing and surfaces a generic internal error; callers
// are expected to have logged the cause with slog before calling this.
func AbortInternal(c *gin.Context) {
	Abort(c, http.StatusInternalServerError, CodeInternal, "internal error")
}
