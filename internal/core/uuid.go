package core

import (
	"regexp"

	"github.com/google/uuid"
)

var uuidV7Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// NewID generates a new time-ordered UUIDv7 for engine records.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsValidUUIDv7 checks if a string is a valid UUIDv7.
func IsValidUUIDv7(s string) bool {
	return uuidV7Pattern.MatchString(s)
}
