// Package jobs contains background loops run alongside the HTTP server.
//
// retention.go implements the RetentionJob, the periodic sweep that keeps the
// concurrency-control tables bounded: expired idempotency records are purged,
// rate-limit buckets from long-past windows are dropped, digests of
// long-revoked API keys are redacted, and old activity rows are pruned. Every
// sweep statement is idempotent, so any number of API processes can run the
// job concurrently; they just race to delete the same rows.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/third-space/third-space-api/internal/config"
	"github.com/third-space/third-space-api/internal/db/repositories"
)

// RetentionJob periodically removes expired concurrency-control state.
type RetentionJob struct {
	idempotencyRepo *repositories.IdempotencyRepository
	rateLimitRepo   *repositories.RateLimitRepository
	apiKeyRepo      *repositories.APIKeyRepository
	activityRepo    *repositories.ActivityRepository
	cfg             *config.Config
	stopChan        chan struct{}
}

// NewRetentionJob creates a new RetentionJob.
func NewRetentionJob(
	idempotencyRepo *repositories.IdempotencyRepository,
	rateLimitRepo *repositories.RateLimitRepository,
	apiKeyRepo *repositories.APIKeyRepository,
	activityRepo *repositories.ActivityRepository,
	cfg *config.Config,
) *RetentionJob {
	return &RetentionJob{
		idempotencyRepo: idempotencyRepo,
		rateLimitRepo:   rateLimitRepo,
		apiKeyRepo:      apiKeyRepo,
		activityRepo:    activityRepo,
		cfg:             cfg,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the background retention loop. It runs one sweep immediately,
// then repeats on the configured interval until ctx is cancelled or Stop is
// called.
func (j *RetentionJob) Start(ctx context.Context) {
	interval := j.cfg.Retention.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("retention job started", "interval", interval)

	j.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			j.runSweep(ctx)
		case <-j.stopChan:
			slog.Info("retention job stopped")
			return
		case <-ctx.Done():
			slog.Info("retention job context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *RetentionJob) Stop() {
	close(j.stopChan)
}

// runSweep executes one retention pass. Each statement is independent;
// a failure in one is logged and the rest still run.
func (j *RetentionJob) runSweep(ctx context.Context) {
	now := time.Now()

	if purged, err := j.idempotencyRepo.PurgeExpired(ctx, now.Add(-j.cfg.Idempotency.TTL)); err != nil {
		slog.Error("retention: idempotency purge failed", "error", err)
	} else if purged > 0 {
		slog.Info("retention: purged expired idempotency records", "count", purged)
	}

	// Buckets are useless one full window after their own window closed;
	// keep one extra window so in-flight header math never reads a hole.
	bucketCutoff := now.Add(-2 * j.cfg.RateLimits.Window).Truncate(j.cfg.RateLimits.Window)
	if deleted, err := j.rateLimitRepo.DeleteStale(ctx, bucketCutoff); err != nil {
		slog.Error("retention: rate bucket cleanup failed", "error", err)
	} else if deleted > 0 {
		slog.Info("retention: deleted stale rate-limit buckets", "count", deleted)
	}

	if redacted, err := j.apiKeyRepo.RedactRevokedDigests(ctx, now.Add(-j.cfg.Retention.RevokedKeyDigests)); err != nil {
		slog.Error("retention: digest redaction failed", "error", err)
	} else if redacted > 0 {
		slog.Info("retention: redacted digests of long-revoked keys", "count", redacted)
	}

	if j.cfg.Activity.Enabled {
		if pruned, err := j.activityRepo.Prune(ctx, now.Add(-j.cfg.Retention.Activities)); err != nil {
			slog.Error("retention: activity pruning failed", "error", err)
		} else if pruned > 0 {
			slog.Info("retention: pruned old activity records", "count", pruned)
		}
	}
}
