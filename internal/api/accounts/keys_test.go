package accounts

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/third-space/third-space-api/internal/config"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/middleware"
)

var apiKeyCols = []string{
	"id", "user_id", "key_digest", "key_prefix", "name", "scopes",
	"rate_limit_reads", "rate_limit_writes", "created_at", "last_used_at",
	"expires_at", "revoked_at",
}

func keysConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.APIKeys.Prefix = "ts_live_"
	cfg.RateLimits.DefaultReads = 100
	cfg.RateLimits.DefaultWrites = 20
	return cfg
}

func ownerRow(permissions string) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "alice", nil, nil, nil, []byte(permissions),
			0, nil, nil, nil, time.Now())
}

// newKeysRouter wires the key-management routes behind a stub that injects the
// authenticated user, the way the real router does after AuthMiddleware.
func newKeysRouter(t *testing.T) (sqlmock.Sqlmock, sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	userDB, userMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (user): %v", err)
	}
	t.Cleanup(func() { userDB.Close() })
	keyDB, keyMock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (key): %v", err)
	}
	t.Cleanup(func() { keyDB.Close() })

	cfg := keysConfig()
	userRepo := repositories.NewUserRepository(sqlx.NewDb(userDB, "sqlmock"))
	apiKeyRepo := repositories.NewAPIKeyRepository(sqlx.NewDb(keyDB, "sqlmock"))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, "user-1")
		c.Next()
	})
	r.POST("/keys", CreateKeyHandler(cfg, userRepo, apiKeyRepo))
	r.GET("/keys", ListKeysHandler(apiKeyRepo))
	r.DELETE("/keys/:id", RevokeKeyHandler(apiKeyRepo))
	return userMock, keyMock, r
}

func TestCreateKeyHandler_Success(t *testing.T) {
	userMock, keyMock, r := newKeysRouter(t)

	userMock.ExpectQuery(`SELECT .+ FROM users\s+WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnRows(ownerRow(`["library:read", "library:create", "library:edit", "bulletin:read", "bulletin:write", "keys:manage"]`))
	keyMock.ExpectExec(`INSERT INTO api_keys`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(t, r, "/keys", gin.H{
		"name":   "ci key",
		"scopes": []string{"library:read", "library:edit"},
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", w.Code, w.Body.String())
	}
	var resp createdKeyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !strings.HasPrefix(resp.Key, "ts_live_") {
		t.Errorf("key = %q, want ts_live_ prefix", resp.Key)
	}
	if !strings.HasPrefix(resp.Key, resp.KeyPrefix) {
		t.Errorf("display prefix %q is not a prefix of the key", resp.KeyPrefix)
	}
	if resp.RateLimitReads != 100 || resp.RateLimitWrites != 20 {
		t.Errorf("limits = %d/%d, want 100/20", resp.RateLimitReads, resp.RateLimitWrites)
	}
	if err := keyMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateKeyHandler_DefaultScopes(t *testing.T) {
	userMock, keyMock, r := newKeysRouter(t)

	userMock.ExpectQuery(`SELECT .+ FROM users`).
		WillReturnRows(ownerRow(`["library:read", "library:create", "library:edit", "bulletin:read", "bulletin:write"]`))
	keyMock.ExpectExec(`INSERT INTO api_keys`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := postJSON(t, r, "/keys", gin.H{})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", w.Code, w.Body.String())
	}
	var resp createdKeyResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Scopes) == 0 {
		t.Error("expected default scopes when none requested")
	}
}

func TestCreateKeyHandler_ScopeEscalation(t *testing.T) {
	userMock, keyMock, r := newKeysRouter(t)

	// Owner holds only read; a key requesting edit must be refused.
	userMock.ExpectQuery(`SELECT .+ FROM users`).
		WillReturnRows(ownerRow(`["library:read"]`))

	w := postJSON(t, r, "/keys", gin.H{"scopes": []string{"library:edit"}})

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body = %s", w.Code, w.Body.String())
	}
	if err := keyMock.ExpectationsWereMet(); err != nil {
		t.Errorf("no insert should run: %v", err)
	}
}

func TestCreateKeyHandler_UnknownScope(t *testing.T) {
	userMock, _, r := newKeysRouter(t)

	userMock.ExpectQuery(`SELECT .+ FROM users`).
		WillReturnRows(ownerRow(`["library:read"]`))

	w := postJSON(t, r, "/keys", gin.H{"scopes": []string{"library:destroy"}})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400; body = %s", w.Code, w.Body.String())
	}
}

func TestListKeysHandler(t *testing.T) {
	_, keyMock, r := newKeysRouter(t)

	revoked := time.Now().Add(-time.Hour)
	keyMock.ExpectQuery(`SELECT .+ FROM api_keys\s+WHERE user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).
			AddRow("key-1", "user-1", "digest-1", "ts_live_aaaa", "active", []byte(`["library:read"]`),
				100, 20, time.Now(), nil, nil, nil).
			AddRow("key-2", "user-1", "digest-2", "ts_live_bbbb", "old", []byte(`["library:read"]`),
				100, 20, time.Now(), nil, nil, &revoked))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/keys", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Keys []keyResponse `json:"keys"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2 (revoked keys stay listed)", len(resp.Keys))
	}
	if resp.Keys[1].RevokedAt == nil {
		t.Error("expected revoked_at on the revoked key")
	}
	if strings.Contains(w.Body.String(), "digest") {
		t.Error("digests must never appear in list responses")
	}
}

func TestRevokeKeyHandler(t *testing.T) {
	_, keyMock, r := newKeysRouter(t)

	keyMock.ExpectExec(`UPDATE api_keys`).
		WithArgs("key-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/keys/key-1", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204; body = %s", w.Code, w.Body.String())
	}
}

func TestRevokeKeyHandler_NotFound(t *testing.T) {
	_, keyMock, r := newKeysRouter(t)

	// Someone else's key and a nonexistent key both answer 404.
	keyMock.ExpectExec(`UPDATE api_keys`).
		WithArgs("key-9", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/keys/key-9", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404; body = %s", w.Code, w.Body.String())
	}
}
