// Package services implements business logic that coordinates across
// repositories: lockout accounting around credential checks, and the
// idempotency protocol that turns the records table into a write dedup.
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/telemetry"
)

// LockoutService wraps the per-account failure accounting. The state lives on
// the users row and every transition is one atomic UPDATE in the repository,
// so any number of API processes converge on the same count.
type LockoutService struct {
	userRepo  *repositories.UserRepository
	threshold int
	duration  time.Duration
}

// NewLockoutService creates a LockoutService with the configured threshold
// and lock duration.
func NewLockoutService(userRepo *repositories.UserRepository, threshold int, duration time.Duration) *LockoutService {
	return &LockoutService{
		userRepo:  userRepo,
		threshold: threshold,
		duration:  duration,
	}
}

// IsLocked reports whether the account's lockout window is live. An expired
// window reads as unlocked without any write; the stale columns are cleared
// by the next successful authentication.
func (s *LockoutService) IsLocked(user *models.User) bool {
	return user.LockedNow(time.Now())
}

// RecordFailure counts one failed credential check against the account and
// returns whether this failure tripped the lock. Failures against an already
// locked account also land here: they extend nothing but keep the count
// honest, and a failure arriving just after the window expires restarts the
// count at 1 rather than compounding the old streak.
func (s *LockoutService) RecordFailure(ctx context.Context, userID string) (locked bool, err error) {
	count, lockedUntil, err := s.userRepo.RecordAuthFailure(ctx, userID, s.threshold, s.duration)
	if err != nil {
		return false, err
	}

	nowLocked := lockedUntil != nil && lockedUntil.After(time.Now())
	if nowLocked && count == s.threshold {
		// count == threshold distinguishes the tripping failure from failures
		// against an already-locked account, so the metric counts each lock once.
		telemetry.LockoutsTotal.Inc()
		slog.Warn("account locked after repeated authentication failures",
			"user_id", userID,
			"failed_attempts", count,
			"locked_until", lockedUntil.Format(time.RFC3339))
	}
	return nowLocked, nil
}

// RecordSuccess clears the account's failure streak and lock after a
// successful authentication.
func (s *LockoutService) RecordSuccess(ctx context.Context, userID string) error {
	return s.userRepo.RecordAuthSuccess(ctx, userID)
}
