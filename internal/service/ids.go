package service

import "github.com/google/uuid"

// newID returns a time-ordered unique identifier.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
