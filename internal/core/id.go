package core

import (
	"github.com/google/uuid"
)

// NewID returns a random identifier for a run record.
func NewID() string {
	return uuid.NewString()
}
