// Package id generates the identifiers used for poll sessions and HTTP
// requests.
package id

import (
	"github.com/google/uuid"
)

// New returns a time-ordered UUIDv7 so ids sort by creation in logs. It falls
// back to a random UUIDv4 if the v7 generator fails.
func New() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// NewString returns New in its canonical string form.
func NewString() string {
	return New().String()
}
