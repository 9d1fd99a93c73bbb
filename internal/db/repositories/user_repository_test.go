package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/third-space/third-space-api/internal/db/models"
)

var errDB = errors.New("db error")

var userCols = []string{
	"id", "username", "email", "password_hash", "display_name", "permissions",
	"failed_login_count", "last_failed_at", "locked_until", "last_successful_at",
	"created_at",
}

func sampleUserRow() *sqlmock.Rows {
	email := "bot@example.com"
	hash := "$2a$12$hash"
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "botuser", &email, &hash, nil,
			[]byte(`["library:read","library:create","library:edit"]`),
			0, nil, nil, nil, time.Now())
}

func newUserRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestGetByUsernameOrEmail_Found(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users.*WHERE username").
		WithArgs("botuser").
		WillReturnRows(sampleUserRow())

	u, err := repo.GetByUsernameOrEmail(context.Background(), "botuser")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u == nil {
		t.Fatal("expected user, got nil")
	}
	if len(u.Permissions) != 3 {
		t.Errorf("Permissions = %v, want 3 entries", u.Permissions)
	}
}

func TestGetByUsernameOrEmail_NotFound(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("SELECT.*FROM users").
		WillReturnRows(sqlmock.NewRows(userCols))

	u, err := repo.GetByUsernameOrEmail(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u != nil {
		t.Error("expected nil user, got non-nil")
	}
}

func TestCreateUser_Success(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	u := &models.User{Username: "botuser", Permissions: []string{"library:read"}}
	if err := repo.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID == "" {
		t.Error("expected generated ID")
	}
}

func TestRecordAuthFailure_BelowThreshold(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("UPDATE users.*RETURNING failed_login_count, locked_until").
		WithArgs("user-1", 5, int64(900)).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "locked_until"}).
			AddRow(3, nil))

	count, lockedUntil, err := repo.RecordAuthFailure(context.Background(), "user-1", 5, 15*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if lockedUntil != nil {
		t.Error("expected nil lockedUntil below threshold")
	}
}

func TestRecordAuthFailure_ReachesThreshold(t *testing.T) {
	repo, mock := newUserRepo(t)
	until := time.Now().Add(15 * time.Minute)
	mock.ExpectQuery("UPDATE users.*RETURNING failed_login_count, locked_until").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "locked_until"}).
			AddRow(5, until))

	count, lockedUntil, err := repo.RecordAuthFailure(context.Background(), "user-1", 5, 15*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
	if lockedUntil == nil {
		t.Fatal("expected lockedUntil at threshold")
	}
}

func TestRecordAuthFailure_UnknownUser(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery("UPDATE users").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "locked_until"}))

	_, _, err := repo.RecordAuthFailure(context.Background(), "ghost", 5, 15*time.Minute)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRecordAuthSuccess(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("UPDATE users.*SET failed_login_count = 0").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.RecordAuthSuccess(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecordAuthSuccess_DBError(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectExec("UPDATE users").
		WillReturnError(errDB)

	if err := repo.RecordAuthSuccess(context.Background(), "user-1"); err == nil {
		t.Error("expected error, got nil")
	}
}
