// Package uuid generates and checks the v4 ids used for pending wishes and
// remote idempotency keys.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// Parse parses s and requires a version 4 UUID.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	return id, nil
}

// IsValid reports whether s is a canonical, hyphenated UUID v4.
func IsValid(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := Parse(s)
	return err == nil
}

// Ensure returns s in canonical lower-case form when it is a valid v4 id,
// and a freshly generated id otherwise. Persisted entries written before
// ids existed get one on their next load.
func Ensure(s string) string {
	s = strings.TrimSpace(s)
	if IsValid(s) {
		return strings.ToLower(s)
	}
	return New()
}
