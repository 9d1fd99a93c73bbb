package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/telemetry"
)

// Idempotency protocol outcomes surfaced to the HTTP layer.
var (
	// ErrIdempotencyConflict means the token was reused for a different
	// operation (method, path, or body changed).
	ErrIdempotencyConflict = errors.New("idempotency token reused for a different request")
	// ErrIdempotencyInProgress means another executor holds the pending claim.
	ErrIdempotencyInProgress = errors.New("request with this idempotency token is still in progress")
)

// BeginOutcome is the result of claiming an idempotency token.
type BeginOutcome struct {
	// Proceed is true when this executor holds the claim and must run the
	// operation, then Commit or Abort.
	Proceed bool
	// Replay carries the cached response when the operation already completed.
	Replay *models.IdempotencyRecord
}

// IdempotencyService implements token claiming over the records table. The
// ON CONFLICT insert in the repository is the lock; everything here is the
// protocol around it: replay on completed, conflict on identity mismatch,
// retry on failed, and a delete-and-reclaim round for expired records.
type IdempotencyService struct {
	repo *repositories.IdempotencyRepository
	ttl  time.Duration
}

// NewIdempotencyService creates an IdempotencyService with the configured
// record TTL.
func NewIdempotencyService(repo *repositories.IdempotencyRepository, ttl time.Duration) *IdempotencyService {
	return &IdempotencyService{repo: repo, ttl: ttl}
}

// Fingerprint returns the hex SHA-256 of a request body, the identity used to
// detect token reuse across different payloads.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Begin claims the (token, user) pair for this request. Exactly one of three
// things happens: the caller proceeds (fresh claim, or re-claim of a failed
// or expired record), the caller replays a cached completed response, or the
// caller is turned away (in progress, or token reused for a different
// operation).
func (s *IdempotencyService) Begin(ctx context.Context, token, userID, method, path string, body []byte) (*BeginOutcome, error) {
	rec := &models.IdempotencyRecord{
		Token:              token,
		UserID:             userID,
		Method:             method,
		Path:               path,
		RequestFingerprint: Fingerprint(body),
	}

	// Two rounds at most: one attempt, and one more after evicting an
	// expired record. A second loss after eviction means a live competitor
	// re-claimed the pair, which is the in-progress case.
	for round := 0; round < 2; round++ {
		acquired, err := s.repo.InsertPending(ctx, rec)
		if err != nil {
			return nil, err
		}
		if acquired {
			telemetry.IdempotencyOutcomesTotal.WithLabelValues("acquired").Inc()
			return &BeginOutcome{Proceed: true}, nil
		}

		existing, err := s.repo.Get(ctx, token, userID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// Deleted between our insert and read; try again.
			continue
		}

		if existing.ExpiredAt(time.Now().Add(-s.ttl)) {
			// A dead record, possibly from a crashed executor. Evict it,
			// guarded by its age so a concurrent fresh claim survives, and
			// loop to claim.
			if _, err := s.repo.DeleteExpired(ctx, token, userID, time.Now().Add(-s.ttl)); err != nil {
				return nil, err
			}
			continue
		}

		if !existing.Matches(rec.Method, rec.Path, rec.RequestFingerprint) {
			telemetry.IdempotencyOutcomesTotal.WithLabelValues("conflict").Inc()
			return nil, ErrIdempotencyConflict
		}

		switch existing.Status {
		case models.IdempotencyCompleted:
			telemetry.IdempotencyOutcomesTotal.WithLabelValues("replay").Inc()
			return &BeginOutcome{Replay: existing}, nil
		case models.IdempotencyFailed:
			won, err := s.repo.RetryFailed(ctx, rec)
			if err != nil {
				return nil, err
			}
			if won {
				telemetry.IdempotencyOutcomesTotal.WithLabelValues("retry").Inc()
				return &BeginOutcome{Proceed: true}, nil
			}
			// Another executor claimed the retry first.
			telemetry.IdempotencyOutcomesTotal.WithLabelValues("in_progress").Inc()
			return nil, ErrIdempotencyInProgress
		default:
			telemetry.IdempotencyOutcomesTotal.WithLabelValues("in_progress").Inc()
			return nil, ErrIdempotencyInProgress
		}
	}

	telemetry.IdempotencyOutcomesTotal.WithLabelValues("in_progress").Inc()
	return nil, ErrIdempotencyInProgress
}

// Commit caches a successful response against the claim, making all future
// requests with this token replays.
func (s *IdempotencyService) Commit(ctx context.Context, token, userID string, statusCode int, responseBody []byte) error {
	return s.repo.MarkCompleted(ctx, token, userID, statusCode, responseBody)
}

// Abort releases the claim after an execution failure so a retry with the
// same token can run the operation again.
func (s *IdempotencyService) Abort(ctx context.Context, token, userID string) error {
	return s.repo.MarkFailed(ctx, token, userID)
}
