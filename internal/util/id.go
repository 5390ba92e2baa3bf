package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a 24-char hex id used for rows and object keys.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewSessionID returns a random UUID grouping one chat session's exchanges.
func NewSessionID() string {
	return uuid.NewString()
}
