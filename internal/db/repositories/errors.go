// Package repositories implements all database access for the third space
// API. Every cross-request coordination primitive (lockout accounting,
// rate-limit charging, idempotency acquisition, versioned edits) is a single
// atomic SQL statement or a single transaction here — correctness never
// depends on in-process locks, so the substrate stays correct across multiple
// server processes.
package repositories

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// VersionMismatchError reports a rejected optimistic-concurrency edit together
// with the version the resource actually has, so callers can re-fetch and
// resubmit.
type VersionMismatchError struct {
	Expected int
	Current  int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch: expected %d, current %d", e.Expected, e.Current)
}

// IsVersionMismatch unwraps err into a VersionMismatchError if it is one.
func IsVersionMismatch(err error) (*VersionMismatchError, bool) {
	var vm *VersionMismatchError
	if errors.As(err, &vm) {
		return vm, true
	}
	return nil, false
}
