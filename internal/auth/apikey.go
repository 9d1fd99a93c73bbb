// Package auth provides authentication primitives for the third space API:
// API key generation and keyed digesting, JWT session token creation and
// verification, password hashing, and permission scope helpers.
//
// API keys are digested with HMAC-SHA256 under a server-held secret rather
// than a slow password hash. The keys are high-entropy (32 random bytes), so
// brute force against a leaked digest table is infeasible without the server
// secret, and a deterministic digest allows authentication by a single indexed
// lookup with uniform timing. Passwords, which are low-entropy, use bcrypt
// (see password.go). See internal/middleware/auth.go for the request-time
// authentication logic built on these primitives.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes.
	APIKeyLength = 32

	// DisplayPrefixLength is the number of characters of the full key stored
	// in plaintext for identification in listings. Never used for lookup.
	DisplayPrefixLength = 12

	// RedactedDigest replaces the digest of a revoked key once its retention
	// window has passed. It can never match a real digest (not hex-shaped).
	RedactedDigest = "redacted"
)

var (
	apiKeySecret     string
	apiKeySecretOnce sync.Once
	apiKeySecretErr  error

	// placeholderDigest is a fixed-length stand-in digest compared against
	// itself on every authentication failure path, so "digest not found" and
	// "found but revoked/expired" take the same time.
	placeholderDigest = sha256.Sum256([]byte("third-space-placeholder-digest"))
)

// isDevMode reports whether the process is running in development mode.
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret.
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateAPIKeySecret checks that the key-digesting secret is configured.
// In production it fails if TS_API_KEY_SECRET is not set; in dev mode it
// generates a random secret and warns. Call this at application startup.
func ValidateAPIKeySecret() error {
	apiKeySecretOnce.Do(func() {
		secret := os.Getenv("TS_API_KEY_SECRET")
		if secret == "" {
			if isDevMode() {
				apiKeySecret = generateRandomSecret()
				log.Printf("WARNING: TS_API_KEY_SECRET not set. Using auto-generated secret for development.")
				log.Printf("WARNING: Issued API keys will not survive restarts. Set TS_API_KEY_SECRET for persistence.")
			} else {
				apiKeySecretErr = errors.New("SECURITY ERROR: TS_API_KEY_SECRET environment variable is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			}
			return
		}
		if len(secret) < 32 {
			log.Printf("WARNING: TS_API_KEY_SECRET is shorter than the recommended 32 characters.")
		}
		apiKeySecret = secret
	})
	return apiKeySecretErr
}

// getAPIKeySecret retrieves the validated digesting secret, validating lazily
// if startup validation was skipped (tests, CLI tools).
func getAPIKeySecret() string {
	if apiKeySecret == "" {
		if err := ValidateAPIKeySecret(); err != nil {
			panic(err)
		}
	}
	return apiKeySecret
}

// GenerateAPIKey creates a new random API key with the given prefix.
// Returns: full key (shown to the caller exactly once), its digest (stored),
// and the display prefix (stored for listings).
func GenerateAPIKey(prefix string) (key string, digest string, displayPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := prefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	digest = DigestAPIKey(fullKey)

	displayPrefix = fullKey
	if len(fullKey) > DisplayPrefixLength {
		displayPrefix = fullKey[:DisplayPrefixLength]
	}

	return fullKey, digest, displayPrefix, nil
}

// DigestAPIKey computes the keyed HMAC-SHA256 digest of a presented key.
// The digest is deterministic, so authentication is a single lookup by digest.
func DigestAPIKey(key string) string {
	mac := hmac.New(sha256.New, []byte(getAPIKeySecret()))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// DigestEqual compares two digests in constant time.
func DigestEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// BurnFailureCompare performs one constant-time comparison against the fixed
// placeholder. Every authentication failure path calls this exactly once, so
// a lookup miss and a revoked/expired hit are indistinguishable by timing.
func BurnFailureCompare() {
	hmac.Equal(placeholderDigest[:], placeholderDigest[:])
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer <api key or session token>".
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("credential is empty after Bearer prefix")
	}
	return token, nil
}
