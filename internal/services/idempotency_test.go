package services

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
)

var idempotencyCols = []string{
	"token", "user_id", "method", "path", "request_fingerprint", "status",
	"response_body", "response_code", "created_at", "completed_at",
}

func newIdempotencySvc(t *testing.T) (*IdempotencyService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := repositories.NewIdempotencyRepository(sqlx.NewDb(db, "sqlmock"))
	return NewIdempotencyService(repo, 24*time.Hour), mock
}

func recordRow(status string, fingerprint string, createdAt time.Time) *sqlmock.Rows {
	code := 201
	return sqlmock.NewRows(idempotencyCols).
		AddRow("tok-1", "user-1", "POST", "/api/v1/library/articles", fingerprint,
			status, []byte(`{"slug":"a"}`), &code, createdAt, nil)
}

func beginArgs() (string, string, string, string, []byte) {
	return "tok-1", "user-1", "POST", "/api/v1/library/articles", []byte(`{"title":"a"}`)
}

func TestBegin_FreshClaim(t *testing.T) {
	svc, mock := newIdempotencySvc(t)
	mock.ExpectExec("INSERT INTO idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	token, user, method, path, body := beginArgs()
	out, err := svc.Begin(context.Background(), token, user, method, path, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Proceed {
		t.Error("expected Proceed=true on fresh claim")
	}
}

func TestBegin_ReplaysCompleted(t *testing.T) {
	svc, mock := newIdempotencySvc(t)
	token, user, method, path, body := beginArgs()
	fp := Fingerprint(body)

	mock.ExpectExec("INSERT INTO idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT.*FROM idempotency_records").
		WillReturnRows(recordRow(models.IdempotencyCompleted, fp, time.Now()))

	out, err := svc.Begin(context.Background(), token, user, method, path, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Proceed {
		t.Error("expected Proceed=false on replay")
	}
	if out.Replay == nil {
		t.Fatal("expected cached record")
	}
	if *out.Replay.ResponseCode != 201 {
		t.Errorf("ResponseCode = %d, want 201", *out.Replay.ResponseCode)
	}
}

func TestBegin_ConflictOnDifferentBody(t *testing.T) {
	svc, mock := newIdempotencySvc(t)
	token, user, method, path, body := beginArgs()

	mock.ExpectExec("INSERT INTO idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT.*FROM idempotency_records").
		WillReturnRows(recordRow(models.IdempotencyCompleted, "other-fingerprint", time.Now()))

	_, err := svc.Begin(context.Background(), token, user, method, path, body)
	if !errors.Is(err, ErrIdempotencyConflict) {
		t.Errorf("err = %v, want ErrIdempotencyConflict", err)
	}
}

func TestBegin_InProgress(t *testing.T) {
	svc, mock := newIdempotencySvc(t)
	token, user, method, path, body := beginArgs()
	fp := Fingerprint(body)

	mock.ExpectExec("INSERT INTO idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT.*FROM idempotency_records").
		WillReturnRows(recordRow(models.IdempotencyPending, fp, time.Now()))

	_, err := svc.Begin(context.Background(), token, user, method, path, body)
	if !errors.Is(err, ErrIdempotencyInProgress) {
		t.Errorf("err = %v, want ErrIdempotencyInProgress", err)
	}
}

func TestBegin_RetriesFailed(t *testing.T) {
	svc, mock := newIdempotencySvc(t)
	token, user, method, path, body := beginArgs()
	fp := Fingerprint(body)

	mock.ExpectExec("INSERT INTO idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT.*FROM idempotency_records").
		WillReturnRows(recordRow(models.IdempotencyFailed, fp, time.Now()))
	mock.ExpectExec("UPDATE idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := svc.Begin(context.Background(), token, user, method, path, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Proceed {
		t.Error("expected Proceed=true on won retry")
	}
}

func TestBegin_LostRetryRace(t *testing.T) {
	svc, mock := newIdempotencySvc(t)
	token, user, method, path, body := beginArgs()
	fp := Fingerprint(body)

	mock.ExpectExec("INSERT INTO idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT.*FROM idempotency_records").
		WillReturnRows(recordRow(models.IdempotencyFailed, fp, time.Now()))
	mock.ExpectExec("UPDATE idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := svc.Begin(context.Background(), token, user, method, path, body)
	if !errors.Is(err, ErrIdempotencyInProgress) {
		t.Errorf("err = %v, want ErrIdempotencyInProgress", err)
	}
}

func TestBegin_EvictsExpiredAndReclaims(t *testing.T) {
	svc, mock := newIdempotencySvc(t)
	token, user, method, path, body := beginArgs()
	stale := time.Now().Add(-48 * time.Hour)

	mock.ExpectExec("INSERT INTO idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT.*FROM idempotency_records").
		WillReturnRows(recordRow(models.IdempotencyPending, "any-fingerprint", stale))
	mock.ExpectExec("DELETE FROM idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 1))

	out, err := svc.Begin(context.Background(), token, user, method, path, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Proceed {
		t.Error("expected Proceed=true after evicting the expired record")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint([]byte(`{"title":"a"}`))
	b := Fingerprint([]byte(`{"title":"a"}`))
	c := Fingerprint([]byte(`{"title":"b"}`))
	if a != b {
		t.Error("identical bodies must fingerprint identically")
	}
	if a == c {
		t.Error("different bodies must fingerprint differently")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}
