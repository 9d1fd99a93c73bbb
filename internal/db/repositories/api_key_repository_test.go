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

var apiKeyCols = []string{
	"id", "user_id", "key_digest", "key_prefix", "name", "scopes",
	"rate_limit_reads", "rate_limit_writes", "created_at", "last_used_at",
	"expires_at", "revoked_at",
}

var authenticatedKeyCols = append(append([]string{}, apiKeyCols...),
	"owner_username", "owner_locked_until")

func sampleAuthenticatedKeyRow(lockedUntil *time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(authenticatedKeyCols).
		AddRow("key-1", "user-1", "digest-1", "ts_live_abcd", nil,
			[]byte(`["library:read","library:edit"]`),
			1000, 100, time.Now(), nil, nil, nil,
			"botuser", lockedUntil)
}

func sampleNewAPIKey() *models.APIKey {
	return &models.APIKey{
		UserID:          "user-1",
		KeyDigest:       "digest-new",
		KeyPrefix:       "ts_live_wxyz",
		Scopes:          []string{"library:read"},
		RateLimitReads:  1000,
		RateLimitWrites: 100,
	}
}

func newAPIKeyRepo(t *testing.T) (*APIKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAPIKeyRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestGetByDigest_Found(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys ak.*JOIN users u.*WHERE ak.key_digest").
		WithArgs("digest-1").
		WillReturnRows(sampleAuthenticatedKeyRow(nil))

	key, err := repo.GetByDigest(context.Background(), "digest-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key == nil {
		t.Fatal("expected key, got nil")
	}
	if key.OwnerUsername != "botuser" {
		t.Errorf("OwnerUsername = %s, want botuser", key.OwnerUsername)
	}
	if len(key.Scopes) != 2 || key.Scopes[0] != "library:read" {
		t.Errorf("Scopes = %v, want [library:read library:edit]", key.Scopes)
	}
	if key.OwnerLockedNow(time.Now()) {
		t.Error("key owner should not be locked")
	}
}

func TestGetByDigest_LockedOwner(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	until := time.Now().Add(10 * time.Minute)
	mock.ExpectQuery("SELECT.*FROM api_keys ak").
		WillReturnRows(sampleAuthenticatedKeyRow(&until))

	key, err := repo.GetByDigest(context.Background(), "digest-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !key.OwnerLockedNow(time.Now()) {
		t.Error("key owner should be locked")
	}
}

func TestGetByDigest_NotFound(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys ak").
		WillReturnRows(sqlmock.NewRows(authenticatedKeyCols))

	key, err := repo.GetByDigest(context.Background(), "no-such-digest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != nil {
		t.Error("expected nil key, got non-nil")
	}
}

func TestGetByDigest_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT.*FROM api_keys ak").
		WillReturnError(errDB)

	if _, err := repo.GetByDigest(context.Background(), "digest-1"); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestCreateAPIKey_Success(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(0, 1))

	key := sampleNewAPIKey()
	if err := repo.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.ID == "" {
		t.Error("expected generated ID")
	}
}

func TestRevoke_Success(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys.*SET revoked_at").
		WithArgs("key-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Revoke(context.Background(), "key-1", "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRevoke_NotFoundOrAlreadyRevoked(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys.*SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Revoke(context.Background(), "key-1", "user-1")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTouchLastUsed(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys.*SET last_used_at").
		WithArgs("key-1", int64(300)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.TouchLastUsed(context.Background(), "key-1", 5*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRedactRevokedDigests(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectExec("UPDATE api_keys.*SET key_digest").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.RedactRevokedDigests(context.Background(), time.Now().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("redacted = %d, want 3", n)
	}
}

func TestListByUser(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	rows := sqlmock.NewRows(apiKeyCols).
		AddRow("key-1", "user-1", "digest-1", "ts_live_abcd", nil,
			[]byte(`["library:read"]`), 1000, 100, time.Now(), nil, nil, nil).
		AddRow("key-2", "user-1", "digest-2", "ts_live_efgh", nil,
			[]byte(`[]`), 1000, 100, time.Now(), nil, nil, nil)
	mock.ExpectQuery("SELECT.*FROM api_keys.*WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(rows)

	keys, err := repo.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}
	if keys[1].KeyPrefix != "ts_live_efgh" {
		t.Errorf("KeyPrefix = %s, want ts_live_efgh", keys[1].KeyPrefix)
	}
}
