package id

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (v4) job identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether raw is a job identifier produced by New.
func Valid(raw string) bool {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	return err == nil && parsed.Version() == 4
}
