package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random 32-char hex ID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
