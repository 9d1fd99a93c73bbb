package services

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
)

func newLockoutSvc(t *testing.T) (*LockoutService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := repositories.NewUserRepository(sqlx.NewDb(db, "sqlmock"))
	return NewLockoutService(repo, 5, 15*time.Minute), mock
}

func TestIsLocked(t *testing.T) {
	svc, _ := newLockoutSvc(t)
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Minute)

	if svc.IsLocked(&models.User{}) {
		t.Error("user with no lock should not be locked")
	}
	if svc.IsLocked(&models.User{LockedUntil: &past}) {
		t.Error("expired lock should read as unlocked")
	}
	if !svc.IsLocked(&models.User{LockedUntil: &future}) {
		t.Error("live lock should read as locked")
	}
}

func TestRecordFailure_BelowThreshold(t *testing.T) {
	svc, mock := newLockoutSvc(t)
	mock.ExpectQuery("UPDATE users").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "locked_until"}).
			AddRow(2, nil))

	locked, err := svc.RecordFailure(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if locked {
		t.Error("two failures should not lock with threshold 5")
	}
}

func TestRecordFailure_TripsLock(t *testing.T) {
	svc, mock := newLockoutSvc(t)
	until := time.Now().Add(15 * time.Minute)
	mock.ExpectQuery("UPDATE users").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "locked_until"}).
			AddRow(5, until))

	locked, err := svc.RecordFailure(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !locked {
		t.Error("fifth failure should lock")
	}
}

func TestRecordSuccess(t *testing.T) {
	svc, mock := newLockoutSvc(t)
	mock.ExpectExec("UPDATE users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.RecordSuccess(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
