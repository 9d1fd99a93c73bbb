package accounts

import (
	"os"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	os.Setenv("TS_API_KEY_SECRET", "test-api-key-secret-0123456789abcdef")
	os.Setenv("TS_JWT_SECRET", "test-jwt-secret-0123456789abcdefghij")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}
