// password.go hashes and verifies user passwords with bcrypt. Passwords are
// low-entropy, so the slow hash is required here even though API keys use the
// fast keyed digest.
package auth

import "golang.org/x/crypto/bcrypt"

// BcryptCost is the cost factor for password hashing.
const BcryptCost = 12

// HashPassword returns the bcrypt hash of a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether the password matches the stored hash.
func VerifyPassword(password, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}

// placeholderPasswordHash is a syntactically valid bcrypt hash compared
// against on login attempts for unknown accounts, so the miss path costs the
// same bcrypt work as a real password check. The result is always discarded.
const placeholderPasswordHash = "$2a$12$K3JNi5vQMio1axWlQFbVvezJ0Ll7iTtQkNmTybJPii7zq5XPieK1y"

// BurnPasswordCompare performs one bcrypt comparison whose outcome is
// ignored, for timing parity with VerifyPassword.
func BurnPasswordCompare(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(placeholderPasswordHash), []byte(password))
}
