// idempotency.go wires the idempotency coordinator into the request cycle:
// it claims the token before the handler runs, tees the response body while
// the handler writes it, and settles the claim afterwards.
package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/third-space/third-space-api/internal/apierror"
	"github.com/third-space/third-space-api/internal/services"
)

// IdempotencyKeyHeader carries the client-chosen dedup token on write
// requests. ReplayHeader marks a response served from the idempotency cache.
const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayHeader         = "Idempotent-Replay"

	maxIdempotencyKeyLength = 255
)

// teeWriter duplicates everything the handler writes into a buffer so a
// successful response can be cached for replay.
type teeWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *teeWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *teeWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware applies the dedup protocol to write endpoints.
// Requests without an Idempotency-Key header run unprotected. With one:
//
//   - a fresh token claims the pair and runs the handler, caching the
//     response if it settles below 500;
//   - a completed token replays the cached response verbatim;
//   - a pending token is answered 409 IDEMPOTENCY_IN_PROGRESS;
//   - a token reused for a different method, path, or body is answered
//     409 IDEMPOTENCY_CONFLICT.
//
// A 5xx response or a handler panic releases the claim instead of caching,
// so the client can retry the same token.
func IdempotencyMiddleware(svc *services.IdempotencyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(IdempotencyKeyHeader)
		if token == "" {
			c.Next()
			return
		}
		if len(token) > maxIdempotencyKeyLength {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation,
				"idempotency key exceeds 255 characters")
			return
		}

		userID := c.GetString(ContextUserID)
		if userID == "" {
			apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid or missing credentials")
			return
		}

		// The body participates in the token's identity, so it is read here
		// and restored for the handler.
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, "failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		outcome, err := svc.Begin(c.Request.Context(), token, userID, method, path, body)
		if err != nil {
			switch err {
			case services.ErrIdempotencyConflict:
				apierror.Abort(c, http.StatusConflict, apierror.CodeIdempotencyConflict,
					"idempotency key was already used for a different request")
			case services.ErrIdempotencyInProgress:
				apierror.Abort(c, http.StatusConflict, apierror.CodeIdempotencyInProgress,
					"a request with this idempotency key is still in progress")
			default:
				apierror.AbortInternal(c)
			}
			return
		}

		if outcome.Replay != nil {
			c.Header(ReplayHeader, "true")
			status := http.StatusOK
			if outcome.Replay.ResponseCode != nil {
				status = *outcome.Replay.ResponseCode
			}
			c.Data(status, "application/json", outcome.Replay.ResponseBody)
			c.Abort()
			return
		}

		tee := &teeWriter{ResponseWriter: c.Writer}
		c.Writer = tee

		defer func() {
			if r := recover(); r != nil {
				// Release the claim so a retry can run, then let the recovery
				// middleware produce the 500.
				_ = svc.Abort(c.Request.Context(), token, userID)
				panic(r)
			}

			status := c.Writer.Status()
			if status >= http.StatusInternalServerError {
				_ = svc.Abort(c.Request.Context(), token, userID)
				return
			}
			_ = svc.Commit(c.Request.Context(), token, userID, status, tee.body.Bytes())
		}()

		c.Next()
	}
}
