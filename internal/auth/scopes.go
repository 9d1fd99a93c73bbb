// scopes.go defines the capability tokens (permission scopes) attached to
// accounts and API keys, plus the helpers for membership and subset checks.
// A key's scopes are validated as a subset of the owning account's permissions
// once, at issuance — request-time checks are pure membership tests.
package auth

import (
	"errors"
	"fmt"
)

// Scope represents a permission/capability token.
type Scope string

const (
	// Library scopes (versioned articles)
	ScopeLibraryRead   Scope = "library:read"
	ScopeLibraryCreate Scope = "library:create"
	ScopeLibraryEdit   Scope = "library:edit"

	// Bulletin scopes (posts and comments; handlers live outside this core)
	ScopeBulletinRead  Scope = "bulletin:read"
	ScopeBulletinWrite Scope = "bulletin:write"

	// API key management scope
	ScopeKeysManage Scope = "keys:manage"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// AllScopes returns all valid scopes.
func AllScopes() []Scope {
	return []Scope{
		ScopeLibraryRead,
		ScopeLibraryCreate,
		ScopeLibraryEdit,
		ScopeBulletinRead,
		ScopeBulletinWrite,
		ScopeKeysManage,
		ScopeAdmin,
	}
}

// ValidScopes returns a set of valid scope strings.
func ValidScopes() map[string]bool {
	valid := make(map[string]bool)
	for _, scope := range AllScopes() {
		valid[string(scope)] = true
	}
	return valid
}

// ValidateScopes checks that all provided scopes are known.
func ValidateScopes(scopes []string) error {
	valid := ValidScopes()
	for _, scope := range scopes {
		if !valid[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}
	return nil
}

// HasScope checks whether a scope set grants the required capability.
// The admin scope is a wildcard, and edit/create imply read within a family.
func HasScope(scopes []string, required Scope) bool {
	requiredStr := string(required)
	for _, scope := range scopes {
		if scope == requiredStr || scope == string(ScopeAdmin) {
			return true
		}
		if required == ScopeLibraryRead &&
			(scope == string(ScopeLibraryEdit) || scope == string(ScopeLibraryCreate)) {
			return true
		}
		if required == ScopeBulletinRead && scope == string(ScopeBulletinWrite) {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every candidate scope is granted by the account's
// permission set. Used once, at key issuance.
func SubsetOf(candidate, account []string) bool {
	for _, c := range candidate {
		if !HasScope(account, Scope(c)) {
			return false
		}
	}
	return true
}

// DefaultScopes returns the scopes granted to a newly registered account and
// its initial API key.
func DefaultScopes() []string {
	return []string{
		string(ScopeLibraryRead),
		string(ScopeLibraryCreate),
		string(ScopeLibraryEdit),
		string(ScopeBulletinRead),
		string(ScopeBulletinWrite),
	}
}

// ValidateScopeString validates a single scope string.
func ValidateScopeString(scope string) error {
	if !ValidScopes()[scope] {
		return errors.New("invalid scope")
	}
	return nil
}
