package uid

import "github.com/google/uuid"

// New generates a time-ordered unique identifier (UUIDv7), falling back to
// a random UUIDv4 if the clock source fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
